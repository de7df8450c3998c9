// Package policy holds the routing rule: where does a piece of content get
// played from, given its estimated size.
package policy

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"stream-router/pkg/types"
)

// Decide picks a venue. threshold separates client-side playback from
// server-side streaming; ceiling caps what the in-process relay will take on
// before punting a torrent to the dedicated service.
//
// Unknown size (0) always stays client-side: guessing server-side would tie
// up relay resources on content that may well be tiny.
func Decide(desc types.ContentDescriptor, threshold, ceiling int64) types.RoutingDecision {
	size := desc.EstimatedSizeBytes

	if size == 0 {
		return types.RoutingDecision{
			Venue:     types.VenueClientSide,
			Rationale: "Size unknown - using client-side streaming",
		}
	}

	if size > threshold {
		rationale := fmt.Sprintf("Large file (%s) - using dedicated server-side streaming", humanize.IBytes(uint64(size)))
		if desc.Kind == types.KindTorrent && size <= ceiling {
			return types.RoutingDecision{Venue: types.VenueLocalRelay, Rationale: rationale, SizeBytes: size}
		}
		return types.RoutingDecision{Venue: types.VenueDedicatedService, Rationale: rationale, SizeBytes: size}
	}

	return types.RoutingDecision{
		Venue:     types.VenueClientSide,
		Rationale: fmt.Sprintf("Small file (%s) - using client-side browser streaming", humanize.IBytes(uint64(size))),
		SizeBytes: size,
	}
}
