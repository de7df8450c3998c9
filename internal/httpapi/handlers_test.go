package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stream-router/internal/metrics"
	"stream-router/internal/relay"
	"stream-router/pkg/types"
)

const testMagnet = "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056&dn=Big+Buck+Bunny"
const testInfoHash = "c9e15763f722f23e98a29decdfae341b98d53056"

var promReg = prometheus.NewRegistry()

func init() { metrics.Register(promReg) }

type fakeReader struct {
	*bytes.Reader
}

func (fakeReader) SetReadahead(int64) {}
func (fakeReader) Close() error       { return nil }

// fakeEngine serves in-memory bytes.
type fakeEngine struct {
	data  [][]byte
	names []string
}

func (e *fakeEngine) AwaitReady(context.Context) error { return nil }
func (e *fakeEngine) SelectAll()                       {}
func (e *fakeEngine) Close()                           {}
func (e *fakeEngine) Stats() relay.EngineStats {
	return relay.EngineStats{DownloadedBytes: 1, ActivePeers: 1}
}

func (e *fakeEngine) Files() []types.RelayFile {
	out := make([]types.RelayFile, len(e.data))
	for i := range e.data {
		name := "movie.mp4"
		if i < len(e.names) {
			name = e.names[i]
		}
		out[i] = types.RelayFile{Index: i, Name: name, Length: int64(len(e.data[i]))}
	}
	return out
}

func (e *fakeEngine) OpenFile(index int) (relay.FileReader, error) {
	if index < 0 || index >= len(e.data) {
		return nil, relay.ErrFileNotFound
	}
	return fakeReader{bytes.NewReader(e.data[index])}, nil
}

func newTestServer(t *testing.T, eng relay.Engine, cfg Config) (*httptest.Server, *relay.Registry) {
	t.Helper()
	reg := relay.NewRegistry(relay.Options{
		Factory:   func(string) (relay.Engine, error) { return eng, nil },
		WaitReady: time.Second,
		IdleTTL:   time.Hour,
	})
	t.Cleanup(reg.Close)

	if cfg.ThresholdBytes == 0 {
		cfg.ThresholdBytes = 500 << 20
	}
	if cfg.CeilingBytes == 0 {
		cfg.CeilingBytes = 32 << 30
	}
	if cfg.HlsFetchTimeout == 0 {
		cfg.HlsFetchTimeout = time.Second
	}
	h := New(reg, http.DefaultClient, cfg)
	srv := httptest.NewServer(h.Router(promReg))
	t.Cleanup(srv.Close)
	return srv, reg
}

func addSession(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/relay/add", "application/json",
		strings.NewReader(fmt.Sprintf(`{"magnetUri":%q}`, testMagnet)))
	if err != nil {
		t.Fatalf("relay add: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("relay add status %d: %s", resp.StatusCode, body)
	}
}

func testBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestRelayStreamFullFile(t *testing.T) {
	data := testBytes(1000)
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{data}}, Config{})
	addSession(t, srv)

	resp, err := http.Get(srv.URL + "/relay/stream/" + testInfoHash + "/0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "1000" {
		t.Errorf("Content-Length = %q", cl)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, data) {
		t.Errorf("body mismatch, got %d bytes", len(body))
	}
}

func TestRelayStreamByteRange(t *testing.T) {
	data := testBytes(1000)
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{data}}, Config{})
	addSession(t, srv)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/relay/stream/"+testInfoHash+"/0", nil)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "bytes 0-0/1000" {
		t.Errorf("Content-Range = %q", cr)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "1" {
		t.Errorf("Content-Length = %q", cl)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 1 || body[0] != data[0] {
		t.Errorf("body = %v", body)
	}
}

func TestRelayStreamRangeClampedToEOF(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(1000)}}, Config{})
	addSession(t, srv)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/relay/stream/"+testInfoHash+"/0", nil)
	req.Header.Set("Range", "bytes=999-2000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "bytes 999-999/1000" {
		t.Errorf("Content-Range = %q", cr)
	}
}

func TestRelayStreamMalformedRange(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(1000)}}, Config{})
	addSession(t, srv)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/relay/stream/"+testInfoHash+"/0", nil)
	req.Header.Set("Range", "bytes=500-400")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", resp.StatusCode)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "bytes */1000" {
		t.Errorf("Content-Range = %q", cr)
	}
}

func TestRelayStreamHead(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(1000)}, names: []string{"show.mkv"}}, Config{})
	addSession(t, srv)

	resp, err := http.Head(srv.URL + "/relay/stream/" + testInfoHash + "/0")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/x-matroska" {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		t.Error("Accept-Ranges missing")
	}
	if resp.Header.Get("X-File-Name") != "show.mkv" {
		t.Errorf("X-File-Name = %q", resp.Header.Get("X-File-Name"))
	}
}

func TestRelayStreamNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})
	addSession(t, srv)

	resp, _ := http.Get(srv.URL + "/relay/stream/ffffffffffffffffffffffffffffffffffffffff/0")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown infohash status = %d, want 404", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/relay/stream/" + testInfoHash + "/9")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("bad file index status = %d, want 404", resp.StatusCode)
	}
}

func TestRelayAddInvalidMagnet(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})

	resp, err := http.Post(srv.URL+"/relay/add", "application/json",
		strings.NewReader(`{"magnetUri":"http://not-a-magnet"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var out struct {
		Error string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Error != "Invalid magnet URI" {
		t.Errorf("error = %q", out.Error)
	}
}

func TestRelayDrop(t *testing.T) {
	srv, reg := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})
	addSession(t, srv)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/relay/sessions/"+testInfoHash, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if _, ok := reg.Lookup(testInfoHash); ok {
		t.Error("session still registered after drop")
	}
}

func TestStreamMagnetRoutesLocalWithUnknownSize(t *testing.T) {
	srv, reg := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})

	resp, err := http.Post(srv.URL+"/stream", "application/json",
		strings.NewReader(fmt.Sprintf(`{"magnetUri":%q}`, testMagnet)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out streamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Service != "local" {
		t.Errorf("service = %q, want local", out.Service)
	}
	if want := "/relay/stream/" + testInfoHash + "/0"; out.StreamURL != want {
		t.Errorf("streamUrl = %q, want %q", out.StreamURL, want)
	}
	if want := "/relay/download/" + testInfoHash + "/0"; out.DownloadURL != want {
		t.Errorf("downloadUrl = %q, want %q", out.DownloadURL, want)
	}
	if out.Message != "Size unknown - using client-side streaming" {
		t.Errorf("message = %q", out.Message)
	}
	if out.FileName != "Big Buck Bunny" {
		t.Errorf("fileName = %q", out.FileName)
	}
	// routing alone must not join the swarm
	if _, ok := reg.Lookup(testInfoHash); ok {
		t.Error("/stream created a relay session")
	}
}

func TestStreamGetAlias(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})

	resp, err := http.Get(srv.URL + "/stream?magnet=" + url.QueryEscape(testMagnet))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out streamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Service != "local" {
		t.Errorf("service = %q", out.Service)
	}
}

func TestStreamInvalidMagnet(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})

	resp, err := http.Post(srv.URL+"/stream", "application/json",
		strings.NewReader(`{"magnetUri":"garbage"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var out struct {
		Error string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Error != "Invalid magnet URI" {
		t.Errorf("error = %q", out.Error)
	}
}

func TestStreamInvalidHlsURL(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})

	resp, err := http.Post(srv.URL+"/stream", "application/json",
		strings.NewReader(`{"m3u8Url":"not a url"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamMissingInput(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})

	resp, _ := http.Post(srv.URL+"/stream", "application/json", strings.NewReader(`{}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamHlsFallbackOnFetchFailure(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})

	// 127.0.0.1:1 refuses connections, so resolution fails and the route
	// falls back to the 100 MiB assumption, which lands client-side.
	resp, err := http.Post(srv.URL+"/stream", "application/json",
		strings.NewReader(`{"m3u8Url":"http://127.0.0.1:1/playlist.m3u8"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out streamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Service != "local" {
		t.Errorf("service = %q, want local", out.Service)
	}
	if out.FileSizeBytes != 100<<20 {
		t.Errorf("fileSizeBytes = %d, want %d", out.FileSizeBytes, 100<<20)
	}
}

func TestStreamHlsForwardsLargeToDedicated(t *testing.T) {
	playlist := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:10\n")
		for i := 0; i < 100; i++ {
			fmt.Fprintf(&b, "#EXTINF:10.0,\nseg%d.ts\n", i)
		}
		w.Write([]byte(b.String()))
	}))
	defer playlist.Close()

	dedicated := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/add-stream" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":"abc123"}`))
	}))
	defer dedicated.Close()

	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{DedicatedURL: dedicated.URL})

	resp, err := http.Post(srv.URL+"/stream", "application/json",
		strings.NewReader(fmt.Sprintf(`{"m3u8Url":%q}`, playlist.URL+"/big.m3u8")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var out streamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Service != "dedicated" {
		t.Errorf("service = %q, want dedicated", out.Service)
	}
	if want := dedicated.URL + "/api/stream/abc123"; out.StreamURL != want {
		t.Errorf("streamUrl = %q, want %q", out.StreamURL, want)
	}
}

func TestRelayStats(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})
	addSession(t, srv)

	resp, err := http.Get(srv.URL + "/relay/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Count    int                     `json:"count"`
		Sessions []relay.SessionSnapshot `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 || len(out.Sessions) != 1 {
		t.Fatalf("count = %d, sessions = %d", out.Count, len(out.Sessions))
	}
	if out.Sessions[0].InfoHash != testInfoHash {
		t.Errorf("infoHash = %q", out.Sessions[0].InfoHash)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{data: [][]byte{testBytes(10)}}, Config{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Access-Control-Allow-Origin missing")
	}
}
