package hub

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/h264"
	"github.com/zsiec/whipfan/internal/h264/h264test"
	"github.com/zsiec/whipfan/internal/media"
)

func newOpusSource(t *testing.T) *Source {
	t.Helper()
	src := NewSource(context.Background(), "audio-0", codec.KindAudio, codec.MimeTypeOpus, nil)
	src.SetCodec(codec.Opus{})
	t.Cleanup(src.Close)
	return src
}

func readN(t *testing.T, s *Sink, n int) []media.Unit {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := make([]media.Unit, 0, n)
	for len(out) < n {
		u, err := s.ReadUnit(ctx)
		require.NoError(t, err)
		out = append(out, u)
	}
	return out
}

func waitDone(t *testing.T, tr *Track) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("track did not stop")
	}
}

func TestGetTrackRequiresCodec(t *testing.T) {
	t.Parallel()
	src := NewSource(context.Background(), "video-0", codec.KindVideo, codec.MimeTypeH264, nil)
	defer src.Close()

	_, err := src.GetTrack(codec.H264{})
	assert.ErrorIs(t, err, ErrNoCodec)
}

func TestGetTrackConcurrentDeduplication(t *testing.T) {
	t.Parallel()
	src := newOpusSource(t)

	const n = 64
	tracks := make([]*Track, n)
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tracks[i], errs[i] = src.GetTrack(codec.Opus{})
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, tracks[0], tracks[i])
	}
	assert.Len(t, src.Tracks(), 1)

	src.Close()
	waitDone(t, tracks[0])
}

func TestTracksKeyedByOutputCodec(t *testing.T) {
	t.Parallel()
	src := NewSource(context.Background(), "video-0", codec.KindVideo, codec.MimeTypeH264, nil)
	defer src.Close()

	hd, err := h264.NewConfig(h264test.SPS720p(), h264test.PPS(0))
	require.NoError(t, err)
	sd, err := h264.NewConfig(h264test.SPS(39, 29), h264test.PPS(0))
	require.NoError(t, err)
	src.SetCodec(codec.H264{Config: hd})

	a, err := src.GetTrack(codec.H264{Config: hd})
	require.NoError(t, err)
	b, err := src.GetTrack(codec.H264{Config: sd})
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Len(t, src.Tracks(), 2)

	src.Close()
	waitDone(t, a)
	waitDone(t, b)
}

func TestTrackLateJoinFanOut(t *testing.T) {
	t.Parallel()
	src := newOpusSource(t)
	tr, err := src.GetTrack(codec.Opus{})
	require.NoError(t, err)

	first := tr.AddSink()
	for i := 0; i < 5; i++ {
		src.WriteUnit(unitN(i))
	}
	readN(t, first, 5)

	late := tr.AddSink()
	for i := 5; i < 10; i++ {
		src.WriteUnit(unitN(i))
	}

	got := readN(t, late, 5)
	for i, u := range got {
		assert.Equal(t, uint32(i+5), u.PTS, "late sink unit %d", i)
	}
	rest := readN(t, first, 5)
	assert.Equal(t, uint32(5), rest[0].PTS)
	assert.Equal(t, 2, tr.SinkCount())

	tr.RemoveSink(first)
	tr.RemoveSink(late)
	src.Close()
	waitDone(t, tr)
}

func TestSinkRemovedReadsClosed(t *testing.T) {
	t.Parallel()
	src := newOpusSource(t)
	tr, err := src.GetTrack(codec.Opus{})
	require.NoError(t, err)

	s := tr.AddSink()
	tr.RemoveSink(s)
	assert.Equal(t, 0, tr.SinkCount())

	_, err = s.ReadUnit(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	src.Close()
	waitDone(t, tr)
}

func TestTrackStopsAndDeregistersOnClose(t *testing.T) {
	t.Parallel()
	src := newOpusSource(t)
	tr, err := src.GetTrack(codec.Opus{})
	require.NoError(t, err)
	s := tr.AddSink()

	src.Close()
	waitDone(t, tr)

	assert.Empty(t, src.Tracks())
	_, err = s.ReadUnit(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = src.GetTrack(codec.Opus{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTrackStopsOnParentCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	src := NewSource(ctx, "audio-0", codec.KindAudio, codec.MimeTypeOpus, nil)
	defer src.Close()
	src.SetCodec(codec.Opus{})

	tr, err := src.GetTrack(codec.Opus{})
	require.NoError(t, err)
	cancel()
	waitDone(t, tr)
	assert.Empty(t, src.Tracks())
}

func TestWaitCodec(t *testing.T) {
	t.Parallel()
	src := NewSource(context.Background(), "audio-0", codec.KindAudio, codec.MimeTypeOpus, nil)
	defer src.Close()

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.WaitCodec(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		src.SetCodec(codec.Opus{})
	}()
	c, err := src.WaitCodec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, codec.Opus{}, c)

	closed := NewSource(context.Background(), "video-0", codec.KindVideo, codec.MimeTypeH264, nil)
	closed.Close()
	_, err = closed.WaitCodec(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriteUnitWithoutTracks(t *testing.T) {
	t.Parallel()
	src := newOpusSource(t)
	for i := 0; i < 3*media.BroadcastCapacity; i++ {
		assert.Equal(t, 0, src.WriteUnit(unitN(i)))
	}
}

func TestSetCodecRefreshesParameterSets(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	src := NewSource(context.Background(), "video-0", codec.KindVideo, codec.MimeTypeH264, log)
	t.Cleanup(src.Close)

	first, err := h264.NewConfig(h264test.SPS720p(), h264test.PPS(0))
	require.NoError(t, err)
	src.SetCodec(codec.H264{Config: first})
	tr, err := src.GetTrack(src.Codec())
	require.NoError(t, err)

	second, err := h264.NewConfig(h264test.SPS720p(), h264test.PPS(4))
	require.NoError(t, err)
	src.SetCodec(codec.H264{Config: second})

	assert.Same(t, second, src.Codec().(codec.H264).Config)
	assert.Contains(t, logs.String(), "parameter sets refreshed")
	again, err := src.GetTrack(src.Codec())
	require.NoError(t, err)
	assert.Same(t, tr, again, "same output format keeps the Track")
}
