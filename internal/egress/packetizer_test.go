package egress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/depacketize"
	"github.com/zsiec/whipfan/internal/h264"
	"github.com/zsiec/whipfan/internal/h264/h264test"
	"github.com/zsiec/whipfan/internal/media"
)

func h264Codec(t *testing.T) codec.H264 {
	t.Helper()
	cfg, err := h264.NewConfig(h264test.SPS720p(), h264test.PPS(0))
	require.NoError(t, err)
	return codec.H264{Config: cfg}
}

func TestPacketizerRoundTrip(t *testing.T) {
	c := h264Codec(t)
	p, err := NewPacketizer(c, 102, 0xABCD)
	require.NoError(t, err)

	idr := h264test.NAL(h264.NALTypeIDR, 4000)
	slice := h264test.NAL(h264.NALTypeSlice, 300)

	idrPkts := p.Packetize(media.Unit{Payload: idr, PTS: 0, Marker: true, FrameInfo: media.FrameInfo{Flag: 1}})
	require.Greater(t, len(idrPkts), 3)
	slicePkts := p.Packetize(media.Unit{Payload: slice, PTS: 3000, Marker: true})
	require.Len(t, slicePkts, 1)

	for _, pkt := range append(idrPkts, slicePkts...) {
		assert.Equal(t, uint8(102), pkt.PayloadType)
		assert.Equal(t, uint32(0xABCD), pkt.SSRC)
		assert.LessOrEqual(t, pkt.MarshalSize(), MTU)
	}
	assert.Equal(t, idrPkts[0].Timestamp+3000, slicePkts[0].Timestamp)
	assert.Equal(t, idrPkts[len(idrPkts)-1].SequenceNumber+1, slicePkts[0].SequenceNumber)
	assert.True(t, idrPkts[len(idrPkts)-1].Marker)

	var detected []codec.Codec
	d := depacketize.NewH264(func(c codec.Codec) { detected = append(detected, c) }, nil)
	var got [][]byte
	for _, pkt := range append(idrPkts, slicePkts...) {
		units, _, ok := d.Parse(pkt.Payload)
		if ok {
			got = append(got, units...)
		}
	}
	require.Len(t, detected, 1)
	assert.True(t, codec.Equal(c, detected[0]))
	require.Len(t, got, 2)
	assert.Equal(t, idr, got[0])
	assert.Equal(t, slice, got[1])
}

func TestPacketizerSkipsParameterSets(t *testing.T) {
	p, err := NewPacketizer(h264Codec(t), 102, 1)
	require.NoError(t, err)
	assert.Empty(t, p.Packetize(media.Unit{Payload: h264test.SPS720p()}))
	assert.Empty(t, p.Packetize(media.Unit{Payload: h264test.PPS(0)}))
	assert.Empty(t, p.Packetize(media.Unit{}))
}

func TestPacketizerOpus(t *testing.T) {
	p, err := NewPacketizer(codec.Opus{}, 111, 7)
	require.NoError(t, err)

	a := p.Packetize(media.Unit{Payload: []byte{0xFC, 1, 2, 3}, PTS: 0})
	b := p.Packetize(media.Unit{Payload: []byte{0xFC, 4, 5, 6}, PTS: 960})
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, []byte{0xFC, 1, 2, 3}, a[0].Payload)
	assert.Equal(t, a[0].Timestamp+960, b[0].Timestamp)
}

func TestPacketizerRefreshesParameterSets(t *testing.T) {
	p, err := NewPacketizer(h264Codec(t), 102, 1)
	require.NoError(t, err)

	cfg, err := h264.NewConfig(h264test.SPS720p(), h264test.PPS(4))
	require.NoError(t, err)
	p.Refresh(codec.Opus{})
	p.Refresh(codec.H264{Config: cfg})

	idr := h264test.NAL(h264.NALTypeIDR, 100)
	pkts := p.Packetize(media.Unit{Payload: idr, Marker: true, FrameInfo: media.FrameInfo{Flag: 1}})
	require.NotEmpty(t, pkts)

	var detected []codec.Codec
	d := depacketize.NewH264(func(c codec.Codec) { detected = append(detected, c) }, nil)
	for _, pkt := range pkts {
		d.Parse(pkt.Payload)
	}
	require.Len(t, detected, 1)
	assert.Equal(t, h264test.PPS(4), detected[0].(codec.H264).Config.PPS().Payload)
}

func TestPacketizerRefreshIgnoredForOpus(t *testing.T) {
	p, err := NewPacketizer(codec.Opus{}, 111, 1)
	require.NoError(t, err)
	p.Refresh(h264Codec(t))
	pkts := p.Packetize(media.Unit{Payload: []byte{0xFC, 9}})
	require.Len(t, pkts, 1)
	assert.Equal(t, []byte{0xFC, 9}, pkts[0].Payload)
}
