package types

// ContentKind says what a stream request points at.
type ContentKind string

const (
	KindTorrent     ContentKind = "torrent"
	KindHlsPlaylist ContentKind = "hls"
)

// Venue is where playback is served from.
type Venue string

const (
	VenueClientSide       Venue = "client"
	VenueLocalRelay       Venue = "local"
	VenueDedicatedService Venue = "dedicated"
)

// ContentDescriptor is the resolver's best-effort view of one piece of
// content. Built once per request and never mutated afterwards.
// EstimatedSizeBytes == 0 means "unknown", which routing treats as its own
// case rather than as "small".
type ContentDescriptor struct {
	Kind               ContentKind
	Identifier         string // magnet URI or playlist URL
	EstimatedSizeBytes int64
	DisplayName        string
	InfoHash           string // torrent only, lower-case hex
}

// RoutingDecision is derived deterministically from a descriptor and the
// configured threshold; no hidden state.
type RoutingDecision struct {
	Venue     Venue
	Rationale string
	SizeBytes int64
}

// RelayFile is one selectable file inside a relay session.
type RelayFile struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Length int64  `json:"lengthBytes"`
}
