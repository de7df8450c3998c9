package logx

import (
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Writer combines line filtering with de-duplication:
//   - allowPattern (optional): if set, only lines matching it pass
//   - denyPattern  (optional): lines matching it are dropped
//   - window: identical lines seen within the window are dropped
type Writer struct {
	dst         io.Writer
	allow, deny *regexp.Regexp
	window      time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
	sweepAt  time.Time
}

func New(dst io.Writer, window time.Duration, allowPattern, denyPattern string) *Writer {
	var allowRE, denyRE *regexp.Regexp
	if strings.TrimSpace(allowPattern) != "" {
		if re, err := regexp.Compile(allowPattern); err == nil {
			allowRE = re
		} // fail-soft: a bad pattern just disables the filter
	}
	if strings.TrimSpace(denyPattern) != "" {
		if re, err := regexp.Compile(denyPattern); err == nil {
			denyRE = re
		}
	}
	return &Writer{dst: dst, allow: allowRE, deny: denyRE, window: window, lastSeen: make(map[string]time.Time)}
}

func (w *Writer) Write(p []byte) (int, error) {
	line := string(p)

	if w.deny != nil && w.deny.MatchString(line) {
		return len(p), nil
	}
	if w.allow != nil && !w.allow.MatchString(line) {
		return len(p), nil
	}

	key := strings.TrimRight(line, "\r\n")
	now := time.Now()

	w.mu.Lock()
	if last, ok := w.lastSeen[key]; ok && now.Sub(last) < w.window {
		w.mu.Unlock()
		return len(p), nil
	}
	w.lastSeen[key] = now
	// periodically drop expired entries so the map doesn't grow forever
	if now.After(w.sweepAt) {
		for k, at := range w.lastSeen {
			if now.Sub(at) >= w.window {
				delete(w.lastSeen, k)
			}
		}
		w.sweepAt = now.Add(10 * w.window)
	}
	w.mu.Unlock()

	return w.dst.Write(p)
}
