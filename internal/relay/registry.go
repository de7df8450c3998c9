package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"stream-router/internal/metrics"
	"stream-router/pkg/types"
)

type Options struct {
	Factory      EngineFactory
	WaitReady    time.Duration // metadata deadline for new sessions
	IdleTTL      time.Duration // how long a readerless session survives
	ReapInterval time.Duration
	Readahead    int64
}

// Registry owns every live session, keyed by info hash. Adds are
// deduplicated so concurrent requests for the same torrent share one engine.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session

	group     singleflight.Group
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	if opts.ReapInterval > 0 {
		r.wg.Add(1)
		go r.reapLoop()
	}
	r.wg.Add(1)
	go r.sampleLoop()
	return r
}

// AddTorrent returns the existing session for the descriptor's info hash or
// creates one. Creation waits for metadata on its own deadline, detached
// from the caller's context, so one impatient client can't poison the
// session every later caller would have shared.
func (r *Registry) AddTorrent(ctx context.Context, desc types.ContentDescriptor) (*Session, error) {
	if s, ok := r.Lookup(desc.InfoHash); ok {
		return s, nil
	}

	v, err, _ := r.group.Do(desc.InfoHash, func() (any, error) {
		if s, ok := r.Lookup(desc.InfoHash); ok {
			return s, nil
		}
		eng, err := r.opts.Factory(desc.Identifier)
		if err != nil {
			return nil, err
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), r.opts.WaitReady)
		defer cancel()
		if err := eng.AwaitReady(waitCtx); err != nil {
			eng.Close()
			return nil, err
		}
		eng.SelectAll()

		s := newSession(desc.InfoHash, desc.DisplayName, eng, r.opts.Readahead)
		r.mu.Lock()
		r.sessions[desc.InfoHash] = s
		n := len(r.sessions)
		r.mu.Unlock()

		metrics.ActiveSessions.Set(float64(n))
		metrics.SessionAddsTotal.Inc()
		log.Printf("[add] session ih=%s name=%q files=%d", s.InfoHash, s.Name, len(s.Files()))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) Lookup(infoHash string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[infoHash]
	r.mu.RUnlock()
	return s, ok
}

// Drop destroys a session and forgets it.
func (r *Registry) Drop(infoHash string) error {
	r.mu.Lock()
	s, ok := r.sessions[infoHash]
	if ok {
		delete(r.sessions, infoHash)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, infoHash)
	}
	s.destroy()
	metrics.ActiveSessions.Set(float64(n))
	metrics.ForgetSession(infoHash)
	return nil
}

func (r *Registry) Snapshots() []SessionSnapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

func (r *Registry) reapLoop() {
	defer r.wg.Done()
	t := time.NewTicker(r.opts.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-r.done:
			return
		case now := <-t.C:
			r.reapOnce(now)
		}
	}
}

func (r *Registry) reapOnce(now time.Time) {
	r.mu.RLock()
	var expired []*Session
	for _, s := range r.sessions {
		if idle := s.idleFor(now); idle >= r.opts.IdleTTL {
			expired = append(expired, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range expired {
		log.Printf("[reaper] dropping idle session ih=%s name=%q idle>=%s", s.InfoHash, s.Name, r.opts.IdleTTL)
		if err := r.Drop(s.InfoHash); err != nil {
			log.Printf("[reaper] drop ih=%s: %v", s.InfoHash, err)
		}
	}
}

// Close tears down the background loops and every session.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.mu.Lock()
		sessions := r.sessions
		r.sessions = make(map[string]*Session)
		r.mu.Unlock()
		for _, s := range sessions {
			s.destroy()
			metrics.ForgetSession(s.InfoHash)
		}
		metrics.ActiveSessions.Set(0)
	})
}
