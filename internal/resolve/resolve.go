// Package resolve turns a user-supplied identifier (magnet URI or HLS
// playlist URL) into a ContentDescriptor with a best-effort size estimate.
package resolve

import (
	"errors"
	"net/url"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"stream-router/pkg/types"
)

var (
	ErrInvalidMagnet       = errors.New("Invalid magnet URI")
	ErrInvalidPlaylist     = errors.New("not a valid M3U8 playlist")
	ErrPlaylistUnavailable = errors.New("playlist could not be fetched")
)

// ResolveTorrent parses a magnet URI. Magnets carry no file sizes, so the
// estimate is always 0 (unknown) and routing has to handle that case.
func ResolveTorrent(raw string) (types.ContentDescriptor, error) {
	if !strings.HasPrefix(raw, "magnet:?") {
		return types.ContentDescriptor{}, ErrInvalidMagnet
	}
	m, err := metainfo.ParseMagnetURI(raw)
	if err != nil {
		return types.ContentDescriptor{}, ErrInvalidMagnet
	}
	name := m.DisplayName
	if name == "" {
		name = "Unknown"
	}
	return types.ContentDescriptor{
		Kind:        types.KindTorrent,
		Identifier:  raw,
		DisplayName: name,
		InfoHash:    m.InfoHash.HexString(),
	}, nil
}

// SanitizeMagnet rewrites a magnet's tracker list according to mode:
// "all" keeps every tracker, "http"/"udp" keep only that scheme, "none"
// strips trackers entirely (DHT-only). Unparseable input is returned as-is
// and left for ResolveTorrent to reject.
func SanitizeMagnet(raw, mode string) string {
	if mode == "all" || !strings.HasPrefix(raw, "magnet:?") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	trackers := q["tr"]
	q.Del("tr")
	for _, tr := range trackers {
		switch mode {
		case "http":
			if strings.HasPrefix(tr, "http://") || strings.HasPrefix(tr, "https://") {
				q.Add("tr", tr)
			}
		case "udp":
			if strings.HasPrefix(tr, "udp://") {
				q.Add("tr", tr)
			}
		case "none":
			// drop all
		default:
			q.Add("tr", tr)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
