package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"stream-router/internal/metrics"
	"stream-router/internal/relay"
	"stream-router/internal/resolve"
	"stream-router/pkg/types"
)

type relayAddResponse struct {
	InfoHash string            `json:"infoHash"`
	Name     string            `json:"name"`
	Files    []types.RelayFile `json:"files"`
}

func (h *Handlers) handleRelayAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MagnetURI string `json:"magnetUri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MagnetURI == "" {
		renderErr(w, r, http.StatusBadRequest, "Invalid magnet URI")
		return
	}
	desc, err := resolve.ResolveTorrent(req.MagnetURI)
	if err != nil {
		renderErr(w, r, http.StatusBadRequest, "Invalid magnet URI")
		return
	}

	session, err := h.reg.AddTorrent(r.Context(), desc)
	if err != nil {
		h.renderRelayErr(w, r, err)
		return
	}
	render.JSON(w, r, relayAddResponse{
		InfoHash: session.InfoHash,
		Name:     session.Name,
		Files:    session.Files(),
	})
}

func (h *Handlers) handleRelayStats(w http.ResponseWriter, r *http.Request) {
	snaps := h.reg.Snapshots()
	render.JSON(w, r, map[string]any{
		"sessions":      snaps,
		"count":         len(snaps),
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handlers) handleRelayDrop(w http.ResponseWriter, r *http.Request) {
	ih := strings.ToLower(chi.URLParam(r, "infoHash"))
	if err := h.reg.Drop(ih); err != nil {
		renderErr(w, r, http.StatusNotFound, "Torrent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleRelayStream(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, false)
}

func (h *Handlers) handleRelayDownload(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, true)
}

// serveFile answers a single byte-range (or the whole file) out of a relay
// session. The reader is opened before any header is written so engine
// errors can still produce a proper status.
func (h *Handlers) serveFile(w http.ResponseWriter, r *http.Request, attachment bool) {
	ih := strings.ToLower(chi.URLParam(r, "infoHash"))
	session, ok := h.reg.Lookup(ih)
	if !ok {
		renderErr(w, r, http.StatusNotFound, "Torrent not found")
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "fileIndex"))
	if err != nil || idx < 0 || idx >= len(session.Files()) {
		renderErr(w, r, http.StatusNotFound, "File not found")
		return
	}
	file := session.Files()[idx]

	start, end := int64(0), file.Length-1
	status := http.StatusOK
	if rng := r.Header.Get("Range"); rng != "" {
		var ok bool
		start, end, ok = parseByteRange(rng, file.Length)
		if !ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", file.Length))
			renderErr(w, r, http.StatusRequestedRangeNotSatisfiable, "invalid Range header")
			return
		}
		status = http.StatusPartialContent
	}

	if r.Method == http.MethodHead {
		writeFileHeaders(w, file, start, end, status, attachment)
		w.WriteHeader(status)
		return
	}

	reader, err := session.OpenRange(r.Context(), idx, start, end)
	if err != nil {
		h.renderRelayErr(w, r, err)
		return
	}
	defer reader.Close()

	metrics.ActiveRangeStreams.Inc()
	defer metrics.ActiveRangeStreams.Dec()

	writeFileHeaders(w, file, start, end, status, attachment)
	w.WriteHeader(status)
	log.Printf("[stream] ih=%s file=%d range=%d-%d/%d", ih, idx, start, end, file.Length)

	rc := http.NewResponseController(w)
	buf := make([]byte, 256<<10)
	for {
		if err := r.Context().Err(); err != nil {
			return
		}
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				if !clientGone(writeErr) {
					log.Printf("[stream] write ih=%s file=%d: %v", ih, idx, writeErr)
				}
				return
			}
			rc.Flush()
		}
		if readErr != nil {
			if readErr != io.EOF && !clientGone(readErr) {
				log.Printf("[stream] read ih=%s file=%d: %v", ih, idx, readErr)
			}
			return
		}
	}
}

func writeFileHeaders(w http.ResponseWriter, file types.RelayFile, start, end int64, status int, attachment bool) {
	hdr := w.Header()
	hdr.Set("Content-Type", contentTypeForName(file.Name))
	hdr.Set("Accept-Ranges", "bytes")
	hdr.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	hdr.Set("Cache-Control", "no-store")
	hdr.Set("X-File-Index", strconv.Itoa(file.Index))
	hdr.Set("X-File-Name", file.Name)
	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	hdr.Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, file.Name))
	if status == http.StatusPartialContent {
		hdr.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, file.Length))
	}
}

// renderRelayErr maps relay errors onto HTTP statuses.
func (h *Handlers) renderRelayErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, relay.ErrSessionNotFound):
		renderErr(w, r, http.StatusNotFound, "Torrent not found")
	case errors.Is(err, relay.ErrFileNotFound):
		renderErr(w, r, http.StatusNotFound, "File not found")
	case errors.Is(err, relay.ErrInvalidRange):
		renderErr(w, r, http.StatusRequestedRangeNotSatisfiable, "invalid byte range")
	case errors.Is(err, relay.ErrMetadataTimeout):
		renderErr(w, r, http.StatusGatewayTimeout, "timed out fetching torrent metadata")
	case errors.Is(err, relay.ErrSessionDestroyed):
		renderErr(w, r, http.StatusNotFound, "Torrent not found")
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
	default:
		renderErr(w, r, http.StatusBadGateway, "torrent engine failure")
	}
}

// clientGone reports whether an error just means the player disconnected.
func clientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

func contentTypeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".ts":
		return "video/mp2t"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".srt":
		return "application/x-subrip"
	default:
		return "video/mp4"
	}
}
