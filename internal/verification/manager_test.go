package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builder(t *testing.T, h *harness, sub Subject) func() (*Session, error) {
	return func() (*Session, error) {
		return newSession(t, h, sub, Options{}), nil
	}
}

func TestManager_StartReplacesPendingSession(t *testing.T) {
	h := newHarness()
	m := NewManager(zerolog.Nop())
	ctx := context.Background()

	first, err := m.Start(ctx, "u1", builder(t, h, enrolled(1)))
	require.NoError(t, err)
	assert.Equal(t, StateCapturing, first.State())

	second, err := m.Start(ctx, "u1", builder(t, h, enrolled(1)))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, h.cam.maxLive, "first stream closed before the second opened")

	got, err := m.Get("u1")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestManager_StartWhileMatching(t *testing.T) {
	h := newHarness()
	h.cmp.block = true
	h.cmp.started = make(chan struct{})
	m := NewManager(zerolog.Nop())
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", builder(t, h, enrolled(1)))
	require.NoError(t, err)
	_, err = s.Locate(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Capture(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := s.Confirm(ctx)
		done <- err
	}()
	<-h.cmp.started

	cur, err := m.Start(ctx, "u1", builder(t, h, enrolled(1)))
	assert.ErrorIs(t, err, ErrBusy)
	assert.Same(t, s, cur)

	m.Remove("u1")
	assert.ErrorIs(t, <-done, ErrCancelled)
	_, err = m.Get("u1")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_BuildError(t *testing.T) {
	m := NewManager(zerolog.Nop())
	boom := errors.New("user lookup failed")

	_, err := m.Start(context.Background(), "u1", func() (*Session, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.Len())
}

func TestManager_Sweep(t *testing.T) {
	h := newHarness()
	m := NewManager(zerolog.Nop())

	_, err := m.Start(context.Background(), "u1", builder(t, h, enrolled(1)))
	require.NoError(t, err)

	assert.Zero(t, m.Sweep(time.Minute))
	assert.Equal(t, 1, m.Len())

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 1, m.Sweep(time.Minute))
	assert.Zero(t, m.Len())
	_, _, live := h.cam.counts()
	assert.Zero(t, live, "swept session released its stream")
}

func TestManager_Shutdown(t *testing.T) {
	h := newHarness()
	m := NewManager(zerolog.Nop())
	for _, id := range []string{"u1", "u2"} {
		sub := enrolled(1)
		sub.UserID = id
		_, err := m.Start(context.Background(), id, builder(t, h, sub))
		require.NoError(t, err)
	}
	m.Shutdown()
	assert.Zero(t, m.Len())
	_, _, live := h.cam.counts()
	assert.Zero(t, live)
}

func TestManager_SweepLeavesMatchingSession(t *testing.T) {
	h := newHarness()
	h.cmp.block = true
	h.cmp.started = make(chan struct{})
	h.cmp.release = make(chan struct{})
	m := NewManager(zerolog.Nop())
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", builder(t, h, enrolled(1)))
	require.NoError(t, err)
	_, err = s.Locate(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Capture(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := s.Confirm(ctx)
		done <- err
	}()
	<-h.cmp.started

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Zero(t, m.Sweep(time.Minute))
	assert.Equal(t, 1, m.Len())
	assert.False(t, s.closeUnlessMatching())
	assert.False(t, s.closeIfIdle(time.Now().Add(time.Hour)))

	// A comparator that ignores cancellation still cannot commit once the
	// session has been closed underneath it.
	m.Shutdown()
	close(h.cmp.release)
	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.Empty(t, h.recs.recs)

	_, err = s.Skip(ctx, "PRESENT")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Empty(t, h.recs.recs)
}
