// SPDX-License-Identifier: MIT
package frame

import (
	"maps"
	"time"
)

// Media holds the stream-level fields every decoded frame carries. Audio
// embeds a copy, so a Media value passed to WithMedia can be reused by the
// producer for the next frame.
type Media struct {
	Timestamp time.Duration     // Presentation time relative to stream start
	Duration  time.Duration     // Playback time of the frame
	Metadata  map[string]string // Free-form tags, copied at construction
}

func (m Media) clone() Media {
	if m.Metadata != nil {
		m.Metadata = maps.Clone(m.Metadata)
	}
	return m
}

// End returns the presentation time just after the frame.
func (m Media) End() time.Duration {
	return m.Timestamp + m.Duration
}
