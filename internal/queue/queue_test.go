package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	msg, err := NewPosition(Position{UserID: "u1", Lat: 12.97, Lng: 77.59, At: at})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-ch:
		p, err := DecodePosition(got)
		require.NoError(t, err)
		assert.Equal(t, "u1", p.UserID)
		assert.Equal(t, 77.59, p.Lng)
		assert.True(t, at.Equal(p.At))
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open, "consumer closes on cancel")
}

func TestInMemory_PublishBlocksUntilCancelled(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "x"}), context.DeadlineExceeded)
}

func TestDecodePosition_WrongTopic(t *testing.T) {
	_, err := DecodePosition(Message{Type: "other", Body: []byte(`{}`)})
	assert.Error(t, err)
}
