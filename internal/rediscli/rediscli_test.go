package rediscli

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDialsCommandConnection(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := New(fmt.Sprintf("redis://%s/0", mr.Addr()), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, p.Cmd.Set(context.Background(), "k", "v", 0).Err())
	v, err := p.Cmd.Get(context.Background(), "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New("not-a-redis-url://nope", zap.NewNop())
	assert.Error(t, err)
}

func TestNewSubscriberIsIndependentConnectionWithoutReadTimeout(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := New(fmt.Sprintf("redis://%s/0", mr.Addr()), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	sub := p.NewSubscriber()
	t.Cleanup(func() { sub.Close() })

	require.NoError(t, sub.Ping(context.Background()).Err())

	ps := sub.Subscribe(context.Background(), "news")
	defer ps.Close()

	mr.Publish("news", "hello")

	select {
	case msg := <-ps.Channel():
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestCloseClosesCommandConnection(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := New(fmt.Sprintf("redis://%s/0", mr.Addr()), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Error(t, p.Cmd.Ping(context.Background()).Err())
}
