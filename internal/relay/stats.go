package relay

import (
	"log"
	"time"

	"golang.org/x/time/rate"

	"stream-router/internal/metrics"
)

// sampleLoop publishes per-session gauges once a second and logs download
// progress. Progress lines are gated twice: a rate limiter per session and a
// minimum 5% delta, so a fast swarm doesn't flood the log.
func (r *Registry) sampleLoop() {
	defer r.wg.Done()

	type track struct {
		limiter     *rate.Limiter
		prevBytes   int64
		prevAt      time.Time
		loggedBytes int64
	}
	tracks := make(map[string]*track)

	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-t.C:
			r.mu.RLock()
			sessions := make([]*Session, 0, len(r.sessions))
			for _, s := range r.sessions {
				sessions = append(sessions, s)
			}
			r.mu.RUnlock()

			live := make(map[string]bool, len(sessions))
			for _, s := range sessions {
				if s.State() == StateDestroyed {
					continue
				}
				live[s.InfoHash] = true
				st := s.engine.Stats()

				tr := tracks[s.InfoHash]
				if tr == nil {
					tr = &track{limiter: rate.NewLimiter(rate.Every(2*time.Second), 1), prevAt: now}
					tracks[s.InfoHash] = tr
				}

				var bps float64
				if dt := now.Sub(tr.prevAt).Seconds(); dt > 0 {
					bps = float64(st.DownloadedBytes-tr.prevBytes) / dt
				}
				tr.prevBytes = st.DownloadedBytes
				tr.prevAt = now

				metrics.SessionDownloadedBytes.WithLabelValues(s.InfoHash).Set(float64(st.DownloadedBytes))
				metrics.SessionPeers.WithLabelValues(s.InfoHash).Set(float64(st.ActivePeers))
				metrics.SessionDownloadRate.WithLabelValues(s.InfoHash).Set(bps)

				if total := totalLength(s); total > 0 {
					delta := st.DownloadedBytes - tr.loggedBytes
					if delta*20 >= total && tr.limiter.Allow() {
						tr.loggedBytes = st.DownloadedBytes
						log.Printf("[stats] ih=%s downloaded=%d/%d peers=%d rate=%.0fB/s",
							s.InfoHash, st.DownloadedBytes, total, st.ActivePeers, bps)
					}
				}
			}
			for ih := range tracks {
				if !live[ih] {
					delete(tracks, ih)
				}
			}
		}
	}
}

func totalLength(s *Session) int64 {
	var total int64
	for _, f := range s.Files() {
		total += f.Length
	}
	return total
}
