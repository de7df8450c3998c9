package relay

import "errors"

var (
	ErrSessionNotFound  = errors.New("torrent session not found")
	ErrFileNotFound     = errors.New("file not found in torrent")
	ErrInvalidRange     = errors.New("invalid byte range")
	ErrMetadataTimeout  = errors.New("timed out waiting for torrent metadata")
	ErrEngineFailed     = errors.New("torrent engine failure")
	ErrSessionDestroyed = errors.New("session already destroyed")
)
