package resolve

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"stream-router/pkg/types"
)

const (
	// Defaults used when the playlist omits the corresponding tag.
	DefaultSegmentSeconds = 10
	DefaultBandwidthBps   = 5_000_000

	// FallbackEstimateBytes is assumed when the playlist cannot be fetched
	// at all. Resolution failure downgrades to this rather than erroring so
	// a flaky manifest host never blocks playback.
	FallbackEstimateBytes = int64(100 << 20)

	maxPlaylistBytes = 4 << 20
)

// ResolveHls fetches a playlist and estimates the total size as
// segments x target duration x peak bandwidth / 8. Master playlists list
// variants instead of segments, which the same arithmetic handles well
// enough for a routing decision.
func ResolveHls(ctx context.Context, httpc *http.Client, rawURL string) (types.ContentDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return types.ContentDescriptor{}, fmt.Errorf("%w: %v", ErrPlaylistUnavailable, err)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return types.ContentDescriptor{}, fmt.Errorf("%w: %v", ErrPlaylistUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.ContentDescriptor{}, fmt.Errorf("%w: status %d", ErrPlaylistUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return types.ContentDescriptor{}, fmt.Errorf("%w: %v", ErrPlaylistUnavailable, err)
	}

	desc, err := EstimatePlaylist(string(body))
	if err != nil {
		return types.ContentDescriptor{}, err
	}
	desc.Identifier = rawURL
	if desc.DisplayName == "" {
		desc.DisplayName = displayNameFromURL(rawURL)
	}
	log.Printf("[route] hls estimate url=%s bytes=%d", rawURL, desc.EstimatedSizeBytes)
	return desc, nil
}

// EstimatePlaylist does the size arithmetic on raw manifest text.
func EstimatePlaylist(manifest string) (types.ContentDescriptor, error) {
	if !strings.Contains(manifest, "#EXTM3U") {
		return types.ContentDescriptor{}, ErrInvalidPlaylist
	}

	segmentSeconds := DefaultSegmentSeconds
	bandwidthBps := int64(DefaultBandwidthBps)
	segments := 0

	for _, line := range strings.Split(manifest, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")); err == nil && v > 0 {
				segmentSeconds = v
			}
		case strings.HasPrefix(line, "#"):
			if i := strings.Index(line, "BANDWIDTH="); i >= 0 {
				rest := line[i+len("BANDWIDTH="):]
				if j := strings.IndexByte(rest, ','); j >= 0 {
					rest = rest[:j]
				}
				if v, err := strconv.ParseInt(rest, 10, 64); err == nil && v > bandwidthBps {
					bandwidthBps = v
				}
			}
		default:
			segments++
		}
	}

	return types.ContentDescriptor{
		Kind:               types.KindHlsPlaylist,
		EstimatedSizeBytes: int64(segments) * int64(segmentSeconds) * bandwidthBps / 8,
	}, nil
}

func displayNameFromURL(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 && i+1 < len(trimmed) {
		trimmed = trimmed[i+1:]
	}
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" {
		return "HLS stream"
	}
	return trimmed
}
