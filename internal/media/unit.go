// Package media defines the Unit, the value that flows from depacketizers
// through the distribution hub to every egress consumer.
package media

// BroadcastCapacity is the number of Units a Source or Track channel holds
// for each receiver. A receiver that falls further behind loses its oldest
// Units and observes a lag.
const BroadcastCapacity = 100

// FrameInfo carries per-Unit decoding hints.
type FrameInfo struct {
	// Flag is 1 when the Unit starts or confirms a sync point (IDR picture
	// or refreshed parameter sets), 0 otherwise.
	Flag int
}

// Unit is one access unit: a single H.264 NAL unit or Opus frame, plus
// timing in the source's native timebase. Units are treated as immutable
// once published; consumers must not modify Payload.
type Unit struct {
	Payload []byte

	// PTS and DTS are ticks since the first packet of the source, with
	// uint32 wrap-around.
	PTS uint32
	DTS uint32
	// Duration is the tick delta to the previous distinct timestamp.
	Duration uint32
	// Timebase is ticks per second (the RTP clock rate).
	Timebase uint32
	// Marker is set on the last Unit produced from a packet.
	Marker bool

	FrameInfo FrameInfo
}

// IsKeyframe reports whether the Unit carries the sync-point flag.
func (u Unit) IsKeyframe() bool {
	return u.FrameInfo.Flag == 1
}
