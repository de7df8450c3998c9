package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	listenAddr = ":4001"
	dataRoot   = "./relay-cache"

	// routing
	thresholdBytes int64 = 500 << 20 // above this, content leaves the browser
	relayMaxBytes  int64 = 32 << 30  // hard ceiling for the in-process relay
	dedicatedURL         = "http://localhost:4005"

	// relay engine
	waitMetadata    = 25 * time.Second
	sessionIdleTTL  = 5 * time.Minute
	reapInterval    = 1 * time.Minute
	streamReadahead = int64(16 << 20)
	trackersMode    = "udp" // all|http|udp|none

	// hls resolver
	hlsFetchTimeout = 10 * time.Second

	// logging
	logFilePath   = ""
	logAllowRegex = `^\[(init|boot|http|route|relay|add|stream|stats|reaper|trackers)\]`
	logDenyRegex  = `FlushFileBuffers|fsync|WriteFile|The handle is invalid|Access is denied|Permission denied`
	logDedupWin   = 3 * time.Second
)

func Load() {
	listenAddr = getenv("LISTEN", listenAddr)

	if v := getenv("RELAY_DATA_ROOT", ""); v != "" {
		dataRoot = v
	}
	_ = os.MkdirAll(dataRoot, 0o755)

	thresholdBytes = getenvInt64("STREAM_THRESHOLD_BYTES", thresholdBytes)
	relayMaxBytes = getenvInt64("RELAY_MAX_BYTES", relayMaxBytes)
	dedicatedURL = strings.TrimRight(getenv("DEDICATED_STREAMER_URL", dedicatedURL), "/")

	waitMetadata = getenvDuration("WAIT_METADATA", waitMetadata)
	if ms := getenvInt64("WAIT_METADATA_MS", 0); ms > 0 {
		waitMetadata = time.Duration(ms) * time.Millisecond
	}
	sessionIdleTTL = getenvDuration("SESSION_IDLE_TTL", sessionIdleTTL)
	reapInterval = getenvDuration("SESSION_REAP_INTERVAL", reapInterval)
	streamReadahead = getenvInt64("STREAM_READAHEAD_BYTES", streamReadahead)
	trackersMode = strings.ToLower(getenv("TRACKERS_MODE", trackersMode))

	hlsFetchTimeout = getenvDuration("HLS_FETCH_TIMEOUT", hlsFetchTimeout)

	logFilePath = getenv("LOG_FILE", logFilePath)
	logAllowRegex = getenv("LOG_ALLOW", logAllowRegex)
	logDenyRegex = getenv("LOG_DENY", logDenyRegex)
	logDedupWin = getenvDuration("LOG_DEDUP_WINDOW", logDedupWin)
}

// getters
func ListenAddr() string             { return listenAddr }
func DataRoot() string               { return dataRoot }
func ThresholdBytes() int64          { return thresholdBytes }
func RelayMaxBytes() int64           { return relayMaxBytes }
func DedicatedURL() string           { return dedicatedURL }
func WaitMetadata() time.Duration    { return waitMetadata }
func SessionIdleTTL() time.Duration  { return sessionIdleTTL }
func ReapInterval() time.Duration    { return reapInterval }
func StreamReadahead() int64         { return streamReadahead }
func TrackersMode() string           { return trackersMode }
func HlsFetchTimeout() time.Duration { return hlsFetchTimeout }
func LogFilePath() string            { return logFilePath }
func LogAllowRegex() string          { return logAllowRegex }
func LogDenyRegex() string           { return logDenyRegex }
func LogDedupWindow() time.Duration  { return logDedupWin }

// helpers
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getenvInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
func getenvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
