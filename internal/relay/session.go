package relay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"stream-router/pkg/types"
)

// State tracks where a session is in its lifecycle.
type State int32

const (
	StateResolving State = iota // waiting for metadata
	StateReady                  // metadata known, never streamed
	StateStreaming              // at least one open range reader
	StateIdle                   // had readers, now has none
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateIdle:
		return "idle"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one live torrent held by the relay. Readers come and go; the
// session counts them so the reaper only evicts truly idle torrents.
type Session struct {
	InfoHash string
	Name     string
	AddedAt  time.Time

	engine    Engine
	files     []types.RelayFile
	readahead int64

	mu         sync.Mutex
	state      State
	subs       int
	lastActive time.Time
}

func newSession(infoHash, name string, eng Engine, readahead int64) *Session {
	now := time.Now()
	return &Session{
		InfoHash:   infoHash,
		Name:       name,
		AddedAt:    now,
		engine:     eng,
		files:      eng.Files(),
		readahead:  readahead,
		state:      StateReady,
		lastActive: now,
	}
}

func (s *Session) Files() []types.RelayFile { return s.files }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OpenRange opens a limited reader over [start, end] of one file. The range
// must already be clamped to the file; out-of-bounds input is rejected, not
// fixed up. Close releases the subscription; cancelling ctx closes it early
// so an abandoned response doesn't pin the session in the streaming state.
func (s *Session) OpenRange(ctx context.Context, fileIndex int, start, end int64) (*RangeReader, error) {
	if fileIndex < 0 || fileIndex >= len(s.files) {
		return nil, ErrFileNotFound
	}
	length := s.files[fileIndex].Length
	if start < 0 || end < start || end >= length {
		return nil, fmt.Errorf("%w: %d-%d of %d", ErrInvalidRange, start, end, length)
	}

	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return nil, ErrSessionDestroyed
	}
	s.mu.Unlock()

	fr, err := s.engine.OpenFile(fileIndex)
	if err != nil {
		return nil, err
	}
	fr.SetReadahead(s.readahead)
	if _, err := fr.Seek(start, io.SeekStart); err != nil {
		fr.Close()
		return nil, fmt.Errorf("%w: seek: %v", ErrEngineFailed, err)
	}

	s.acquire()
	rr := &RangeReader{s: s, fr: fr, remaining: end - start + 1}
	rr.stop = context.AfterFunc(ctx, func() { rr.Close() })
	return rr, nil
}

func (s *Session) acquire() {
	s.mu.Lock()
	s.subs++
	s.state = StateStreaming
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) release() {
	s.mu.Lock()
	if s.subs > 0 {
		s.subs--
	}
	if s.subs == 0 && s.state == StateStreaming {
		s.state = StateIdle
	}
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// idleFor reports how long the session has been without readers. Returns 0
// while anything is streaming.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs > 0 {
		return 0
	}
	return now.Sub(s.lastActive)
}

func (s *Session) destroy() {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateDestroyed
	s.mu.Unlock()
	s.engine.Close()
}

// SessionSnapshot is the stats-endpoint view of a session.
type SessionSnapshot struct {
	InfoHash        string            `json:"infoHash"`
	Name            string            `json:"name"`
	State           string            `json:"state"`
	Files           []types.RelayFile `json:"files"`
	Subscribers     int               `json:"subscribers"`
	DownloadedBytes int64             `json:"downloadedBytes"`
	ActivePeers     int               `json:"activePeers"`
	AddedAt         time.Time         `json:"addedAt"`
	LastActive      time.Time         `json:"lastActive"`
}

func (s *Session) Snapshot() SessionSnapshot {
	st := s.engine.Stats()
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		InfoHash:        s.InfoHash,
		Name:            s.Name,
		State:           s.state.String(),
		Files:           s.files,
		Subscribers:     s.subs,
		DownloadedBytes: st.DownloadedBytes,
		ActivePeers:     st.ActivePeers,
		AddedAt:         s.AddedAt,
		LastActive:      s.lastActive,
	}
}

// RangeReader reads at most the requested span and then reports EOF, no
// matter how much more of the file exists.
type RangeReader struct {
	s         *Session
	fr        FileReader
	remaining int64
	closeOnce sync.Once
	stop      func() bool
}

func (r *RangeReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.fr.Read(p)
	r.remaining -= int64(n)
	if err == nil && r.remaining == 0 {
		err = io.EOF
	}
	return n, err
}

func (r *RangeReader) Close() error {
	r.closeOnce.Do(func() {
		if r.stop != nil {
			r.stop()
		}
		r.fr.Close()
		r.s.release()
	})
	return nil
}
