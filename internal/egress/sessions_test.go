package egress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsStartStop(t *testing.T) {
	r := NewSessions(nil)
	started := make(chan struct{})
	id := r.Start(context.Background(), "record", "cam", func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	<-started

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "record", list[0].Kind)
	assert.Equal(t, "cam", list[0].Stream)

	require.NoError(t, r.Stop(id))
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, r.Stop(id), ErrSessionNotFound)
}

func TestSessionsRemovedWhenRunReturns(t *testing.T) {
	r := NewSessions(nil)
	r.Start(context.Background(), "hls", "cam", func(context.Context, string) error { return nil })
	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, time.Millisecond)
}

func TestSessionsStopAll(t *testing.T) {
	r := NewSessions(nil)
	for range 5 {
		r.Start(context.Background(), "whep", "cam", func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}
	require.Equal(t, 5, r.Len())
	r.StopAll()
	assert.Zero(t, r.Len())
}
