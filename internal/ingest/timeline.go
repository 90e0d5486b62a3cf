package ingest

// timeline rebases RTP timestamps to the first packet of a track and
// tracks the duration between distinct timestamps.
type timeline struct {
	started  bool
	start    uint32
	last     uint32
	duration uint32
}

// advance returns the rebased timestamp for ts and the current duration.
// Packets sharing a timestamp keep the previous duration; the first packet
// has duration 0. Arithmetic wraps modulo 2^32.
func (t *timeline) advance(ts uint32) (pts, duration uint32) {
	if !t.started {
		t.started = true
		t.start = ts
		t.last = ts
	}
	if ts != t.last {
		t.duration = ts - t.last
		t.last = ts
	}
	return ts - t.start, t.duration
}
