package relay

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/anacrolix/torrent"

	"stream-router/internal/resolve"
	"stream-router/pkg/types"
)

// FileReader is a seekable view over one file in a torrent. Reads block
// until the underlying pieces arrive.
type FileReader interface {
	io.ReadSeekCloser
	SetReadahead(int64)
}

type EngineStats struct {
	DownloadedBytes int64
	ActivePeers     int
}

// Engine abstracts the torrent client so sessions and the registry can be
// tested without touching the network.
type Engine interface {
	// AwaitReady blocks until file metadata is known.
	AwaitReady(ctx context.Context) error
	Files() []types.RelayFile
	// SelectAll marks every piece wanted so the background download runs
	// ahead of reads.
	SelectAll()
	OpenFile(index int) (FileReader, error)
	Stats() EngineStats
	Close()
}

// EngineFactory creates an engine for a magnet URI.
type EngineFactory func(magnet string) (Engine, error)

type anacrolixEngine struct {
	t *torrent.Torrent
}

// NewAnacrolixFactory binds a torrent client and tracker mode into a factory.
func NewAnacrolixFactory(cl *torrent.Client, trackersMode string) EngineFactory {
	tiers := TrackerTiers(trackersMode)
	return func(magnet string) (Engine, error) {
		t, err := cl.AddMagnet(resolve.SanitizeMagnet(magnet, trackersMode))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
		}
		if len(tiers) > 0 {
			t.AddTrackers(tiers)
		}
		return &anacrolixEngine{t: t}, nil
	}
}

func (e *anacrolixEngine) AwaitReady(ctx context.Context) error {
	select {
	case <-e.t.GotInfo():
		return nil
	case <-e.t.Closed():
		return ErrEngineFailed
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return ErrMetadataTimeout
		}
		return ctx.Err()
	}
}

func (e *anacrolixEngine) Files() []types.RelayFile {
	tfs := e.t.Files()
	out := make([]types.RelayFile, len(tfs))
	for i, f := range tfs {
		out[i] = types.RelayFile{
			Index:  i,
			Name:   filepath.Base(f.DisplayPath()),
			Length: f.Length(),
		}
	}
	return out
}

func (e *anacrolixEngine) SelectAll() {
	e.t.DownloadAll()
}

func (e *anacrolixEngine) OpenFile(index int) (FileReader, error) {
	tfs := e.t.Files()
	if index < 0 || index >= len(tfs) {
		return nil, ErrFileNotFound
	}
	r := tfs[index].NewReader()
	r.SetResponsive()
	return r, nil
}

func (e *anacrolixEngine) Stats() EngineStats {
	st := e.t.Stats()
	return EngineStats{
		DownloadedBytes: st.BytesReadData.Int64(),
		ActivePeers:     st.ActivePeers,
	}
}

func (e *anacrolixEngine) Close() {
	e.t.Drop()
}
