package ingest

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/h264"
	"github.com/zsiec/whipfan/internal/h264/h264test"
	"github.com/zsiec/whipfan/internal/hub"
)

type fakeReader struct {
	pkts chan *rtp.Packet
	once sync.Once
}

func newFakeReader() *fakeReader {
	return &fakeReader{pkts: make(chan *rtp.Packet, 16)}
}

func (r *fakeReader) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-r.pkts
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

func (r *fakeReader) send(seq uint16, ts uint32, payload []byte) {
	r.pkts <- &rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: ts, SSRC: 1111},
		Payload: payload,
	}
}

func (r *fakeReader) Close() { r.once.Do(func() { close(r.pkts) }) }

type fakeRTCP struct {
	mu   sync.Mutex
	pkts []rtcp.Packet
}

func (w *fakeRTCP) WriteRTCP(pkts []rtcp.Packet) error {
	w.mu.Lock()
	w.pkts = append(w.pkts, pkts...)
	w.mu.Unlock()
	return nil
}

func (w *fakeRTCP) snapshot() []rtcp.Packet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]rtcp.Packet(nil), w.pkts...)
}

func stapA(nalus ...[]byte) []byte {
	p := []byte{0x78}
	for _, n := range nalus {
		p = binary.BigEndian.AppendUint16(p, uint16(len(n)))
		p = append(p, n...)
	}
	return p
}

func videoTrack(r *fakeReader) RemoteTrack {
	return RemoteTrack{
		Kind:      codec.KindVideo,
		MimeType:  codec.MimeTypeH264,
		ClockRate: codec.ClockRateH264,
		SSRC:      1111,
		Reader:    r,
	}
}

func TestSessionPublishesUnits(t *testing.T) {
	h := hub.New(nil)
	s := NewSession(context.Background(), Config{ID: "cam", Hub: h})
	s.Start()
	r := newFakeReader()
	defer r.Close()

	src, err := s.AddTrack(videoTrack(r))
	require.NoError(t, err)

	stream, ok := h.GetStream("cam")
	require.True(t, ok)
	require.Same(t, s.Stream(), stream)
	require.Len(t, stream.Sources(), 1)

	r.send(1, 90000, stapA(h264test.SPS720p(), h264test.PPS(0)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := src.WaitCodec(ctx)
	require.NoError(t, err)
	h264c, ok := c.(codec.H264)
	require.True(t, ok)
	assert.Equal(t, uint32(1280), h264c.Config.Width())
	assert.Equal(t, uint32(720), h264c.Config.Height())

	tr, err := src.GetTrack(c)
	require.NoError(t, err)
	sink := tr.AddSink()

	idr := h264test.NAL(h264.NALTypeIDR, 200)
	r.send(2, 93000, idr)

	u, err := sink.ReadUnit(ctx)
	require.NoError(t, err)
	assert.Equal(t, idr, u.Payload)
	assert.Equal(t, uint32(3000), u.PTS)
	assert.Equal(t, u.PTS, u.DTS)
	assert.Equal(t, uint32(3000), u.Duration)
	assert.Equal(t, uint32(codec.ClockRateH264), u.Timebase)
	assert.True(t, u.Marker)
	assert.True(t, u.IsKeyframe())

	s.Stop()
	_, ok = h.GetStream("cam")
	assert.False(t, ok)

	for {
		if _, err := sink.ReadUnit(ctx); err != nil {
			require.ErrorIs(t, err, hub.ErrClosed)
			break
		}
	}
	<-s.Done()
}

func TestSessionStopKeepsReplacement(t *testing.T) {
	h := hub.New(nil)
	first := NewSession(context.Background(), Config{ID: "cam", Hub: h})
	first.Start()
	second := NewSession(context.Background(), Config{ID: "cam", Hub: h})
	second.Start()

	first.Stop()
	got, ok := h.GetStream("cam")
	require.True(t, ok)
	assert.Same(t, second.Stream(), got)

	second.Stop()
	_, ok = h.GetStream("cam")
	assert.False(t, ok)
}

func TestSessionAddTrackAfterStop(t *testing.T) {
	s := NewSession(context.Background(), Config{ID: "x", Hub: hub.New(nil)})
	s.Start()
	s.Stop()

	_, err := s.AddTrack(videoTrack(newFakeReader()))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionRejectsUnknownMime(t *testing.T) {
	s := NewSession(context.Background(), Config{ID: "x", Hub: hub.New(nil)})
	s.Start()
	defer s.Stop()

	rt := videoTrack(newFakeReader())
	rt.MimeType = "video/VP8"
	_, err := s.AddTrack(rt)
	assert.Error(t, err)
	assert.Empty(t, s.Stream().Sources())
}

func TestSessionTrackEndsWithReader(t *testing.T) {
	s := NewSession(context.Background(), Config{ID: "x", Hub: hub.New(nil)})
	s.Start()
	defer s.Stop()

	r := newFakeReader()
	src, err := s.AddTrack(videoTrack(r))
	require.NoError(t, err)
	r.Close()

	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("source not closed after reader ended")
	}
	assert.Eventually(t, func() bool { return len(s.Stream().Sources()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionFeedback(t *testing.T) {
	fb := &fakeRTCP{}
	s := NewSession(context.Background(), Config{
		ID:               "fb",
		Hub:              hub.New(nil),
		Feedback:         fb,
		FeedbackInterval: 10 * time.Millisecond,
	})
	s.Start()
	r := newFakeReader()
	defer r.Close()
	_, err := s.AddTrack(videoTrack(r))
	require.NoError(t, err)
	r.send(5, 1000, []byte{0x09, 0xF0})

	require.Eventually(t, func() bool {
		var pli, remb, rr bool
		for _, p := range fb.snapshot() {
			switch p := p.(type) {
			case *rtcp.PictureLossIndication:
				pli = p.MediaSSRC == 1111
			case *rtcp.ReceiverEstimatedMaximumBitrate:
				remb = p.Bitrate == DefaultREMBBitrate && len(p.SSRCs) == 1
			case *rtcp.ReceiverReport:
				rr = len(p.Reports) == 1 && p.Reports[0].SSRC == 1111
			}
		}
		return pli && remb && rr
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "video", stats[0].Kind)
	assert.Equal(t, uint32(1), stats[0].PacketsRecv)
}

func TestFeedbackPacketsAudioOnly(t *testing.T) {
	t.Parallel()
	tr := &track{kind: codec.KindAudio, ssrc: 9, stats: NewReceiverStats(9, 48000)}
	pkts := feedbackPackets(1, 1e6, []*track{tr}, time.Now())
	require.Len(t, pkts, 2)
	_, isREMB := pkts[0].(*rtcp.ReceiverEstimatedMaximumBitrate)
	assert.True(t, isREMB)
	_, isRR := pkts[1].(*rtcp.ReceiverReport)
	assert.True(t, isRR)

	assert.Nil(t, feedbackPackets(1, 1e6, nil, time.Now()))
}
