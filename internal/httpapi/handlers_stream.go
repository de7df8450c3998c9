package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/render"

	"stream-router/internal/metrics"
	"stream-router/internal/policy"
	"stream-router/internal/resolve"
	"stream-router/pkg/types"
)

type streamRequest struct {
	MagnetURI string `json:"magnetUri"`
	M3u8URL   string `json:"m3u8Url"`
}

type streamResponse struct {
	Service           string `json:"service"`
	StreamURL         string `json:"streamUrl"`
	DownloadURL       string `json:"downloadUrl,omitempty"`
	FileSizeBytes     int64  `json:"fileSizeBytes,omitempty"`
	FileSizeFormatted string `json:"fileSizeFormatted,omitempty"`
	FileName          string `json:"fileName,omitempty"`
	Message           string `json:"message"`
}

type errResponse struct {
	Error string `json:"error"`
}

func renderErr(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, errResponse{Error: msg})
}

// serviceName flattens the three venues onto the two services a player can
// actually be pointed at. Client-side playback is still "local": the relay
// URLs work either way, and the player decides based on the message whether
// to use them or its own torrent/HLS client.
func serviceName(v types.Venue) string {
	if v == types.VenueDedicatedService {
		return "dedicated"
	}
	return "local"
}

// handleStream is the front door: resolve the identifier, size it, pick a
// venue, and hand back a playable URL. Accepts a JSON body on POST or
// magnet/m3u8 query params on GET.
func (h *Handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderErr(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		req.MagnetURI = r.URL.Query().Get("magnet")
		req.M3u8URL = r.URL.Query().Get("m3u8")
	}

	switch {
	case req.MagnetURI != "":
		h.streamTorrent(w, r, req.MagnetURI)
	case req.M3u8URL != "":
		h.streamHls(w, r, req.M3u8URL)
	default:
		renderErr(w, r, http.StatusBadRequest, "magnetUri or m3u8Url required")
	}
}

// streamTorrent sizes a magnet from the URI alone. That almost never yields
// a size, and joining the swarm just to route would stall every request, so
// unknown stays unknown and routing treats it as client-side. The relay URLs
// are handed out regardless; the session is created when /relay/add is
// called, not here.
func (h *Handlers) streamTorrent(w http.ResponseWriter, r *http.Request, magnet string) {
	desc, err := resolve.ResolveTorrent(magnet)
	if err != nil {
		renderErr(w, r, http.StatusBadRequest, "Invalid magnet URI")
		return
	}

	decision := policy.Decide(desc, h.cfg.ThresholdBytes, h.cfg.CeilingBytes)
	metrics.RoutingDecisionsTotal.WithLabelValues(string(decision.Venue)).Inc()
	log.Printf("[route] torrent ih=%s size=%d venue=%s", desc.InfoHash, desc.EstimatedSizeBytes, decision.Venue)

	resp := streamResponse{
		Service:       serviceName(decision.Venue),
		FileSizeBytes: decision.SizeBytes,
		FileName:      desc.DisplayName,
		Message:       decision.Rationale,
	}
	if decision.SizeBytes > 0 {
		resp.FileSizeFormatted = humanize.IBytes(uint64(decision.SizeBytes))
	}

	if decision.Venue == types.VenueDedicatedService {
		streamURL, err := h.forwardDedicated(r.Context(), streamRequest{MagnetURI: magnet})
		if err != nil {
			renderErr(w, r, http.StatusBadGateway, "dedicated streaming service unavailable")
			return
		}
		resp.StreamURL = streamURL
	} else {
		resp.StreamURL = fmt.Sprintf("/relay/stream/%s/0", desc.InfoHash)
		resp.DownloadURL = fmt.Sprintf("/relay/download/%s/0", desc.InfoHash)
	}
	render.JSON(w, r, resp)
}

func (h *Handlers) streamHls(w http.ResponseWriter, r *http.Request, playlistURL string) {
	if u, err := url.Parse(playlistURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		renderErr(w, r, http.StatusBadRequest, "Invalid m3u8 URL format")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.HlsFetchTimeout)
	defer cancel()

	desc, err := resolve.ResolveHls(ctx, h.httpc, playlistURL)
	if err != nil {
		// An unreachable or odd manifest must not block playback; assume a
		// modest size and let the client try.
		log.Printf("[route] hls resolve failed url=%s err=%v, using fallback estimate", playlistURL, err)
		desc = types.ContentDescriptor{
			Kind:               types.KindHlsPlaylist,
			Identifier:         playlistURL,
			EstimatedSizeBytes: resolve.FallbackEstimateBytes,
		}
	}

	decision := policy.Decide(desc, h.cfg.ThresholdBytes, h.cfg.CeilingBytes)
	metrics.RoutingDecisionsTotal.WithLabelValues(string(decision.Venue)).Inc()
	log.Printf("[route] hls url=%s size=%d venue=%s", playlistURL, desc.EstimatedSizeBytes, decision.Venue)

	resp := streamResponse{
		Service:       serviceName(decision.Venue),
		StreamURL:     playlistURL,
		FileSizeBytes: decision.SizeBytes,
		FileName:      desc.DisplayName,
		Message:       decision.Rationale,
	}
	if decision.SizeBytes > 0 {
		resp.FileSizeFormatted = humanize.IBytes(uint64(decision.SizeBytes))
	}
	if decision.Venue == types.VenueDedicatedService {
		streamURL, err := h.forwardDedicated(r.Context(), streamRequest{M3u8URL: playlistURL})
		if err != nil {
			renderErr(w, r, http.StatusBadGateway, "dedicated streaming service unavailable")
			return
		}
		resp.StreamURL = streamURL
	}
	render.JSON(w, r, resp)
}

// forwardDedicated hands the content off to the heavyweight streamer and
// returns its playback URL.
func (h *Handlers) forwardDedicated(ctx context.Context, req streamRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.DedicatedURL+"/api/add-stream", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dedicated streamer returned %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.ID == "" {
		return "", errors.New("dedicated streamer returned no stream id")
	}
	return h.cfg.DedicatedURL + "/api/stream/" + out.ID, nil
}
