package ingest

import "testing"

func TestTimelineAdvance(t *testing.T) {
	t.Parallel()
	var tl timeline

	steps := []struct {
		ts       uint32
		pts      uint32
		duration uint32
	}{
		{ts: 1000, pts: 0, duration: 0},
		{ts: 1000, pts: 0, duration: 0},
		{ts: 4000, pts: 3000, duration: 3000},
		{ts: 4000, pts: 3000, duration: 3000},
		{ts: 7000, pts: 6000, duration: 3000},
		{ts: 7500, pts: 6500, duration: 500},
	}
	for i, s := range steps {
		pts, dur := tl.advance(s.ts)
		if pts != s.pts || dur != s.duration {
			t.Fatalf("step %d: advance(%d) = (%d, %d), want (%d, %d)", i, s.ts, pts, dur, s.pts, s.duration)
		}
	}
}

func TestTimelineWraps(t *testing.T) {
	t.Parallel()
	var tl timeline
	tl.advance(0xFFFFF000)
	pts, dur := tl.advance(0x00000800)
	if pts != 0x1800 || dur != 0x1800 {
		t.Fatalf("advance across wrap = (%#x, %#x), want (0x1800, 0x1800)", pts, dur)
	}
}
