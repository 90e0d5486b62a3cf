package fmp4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/whipfan/internal/media"
)

func TestAudioBuilderDurations(t *testing.T) {
	t.Parallel()
	b := NewAudioBuilder()

	assert.Nil(t, b.Push(media.Unit{Payload: []byte{1}, PTS: 500}))
	assert.Nil(t, b.Push(media.Unit{}))

	first := b.Push(media.Unit{Payload: []byte{2}, PTS: 1460})
	require.Len(t, first, 1)
	assert.Equal(t, Sample{Data: []byte{1}, DecodeTime: 0, Duration: 960, Keyframe: true}, first[0])

	// A repeated timestamp keeps the previous duration.
	second := b.Push(media.Unit{Payload: []byte{3}, PTS: 1460})
	require.Len(t, second, 1)
	assert.Equal(t, uint32(960), second[0].Duration)

	third := b.Push(media.Unit{Payload: []byte{4}, PTS: 3380})
	require.Len(t, third, 1)
	assert.Equal(t, uint64(1920), third[0].DecodeTime)
	assert.Equal(t, uint32(1920), third[0].Duration)

	rest := b.Flush()
	require.Len(t, rest, 1)
	assert.Equal(t, []byte{4}, rest[0].Data)
	assert.Equal(t, uint64(3840), rest[0].DecodeTime)
	assert.Equal(t, uint32(1920), rest[0].Duration)
	assert.Nil(t, b.Flush())
}

func TestAudioBuilderSinglePacket(t *testing.T) {
	t.Parallel()
	b := NewAudioBuilder()
	assert.Nil(t, b.Push(media.Unit{Payload: []byte{1}, PTS: 0}))
	rest := b.Flush()
	require.Len(t, rest, 1)
	assert.Equal(t, uint32(DefaultOpusDuration), rest[0].Duration)
}
