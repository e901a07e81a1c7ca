// ABOUTME: Tests for the send guard breaker behaviour
// ABOUTME: Transport failures trip it while platform answers do not

package chat_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-conclave/internal/chat"
	"github.com/2389/coven-conclave/internal/chat/chattest"
)

func TestGuardTripsOnTransportErrors(t *testing.T) {
	surface := chattest.New()
	surface.FailSends("@a:test", fmt.Errorf("%w: boom", chat.ErrTransport))
	g := chat.NewGuard(surface.Session("@a:test"), chat.GuardConfig{
		Name:         "a",
		SendInterval: time.Millisecond,
		MaxFailures:  2,
		OpenTimeout:  time.Hour,
	}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Send(ctx, "!room", "x", chat.SendOptions{})
		require.ErrorIs(t, err, chat.ErrTransport)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Send(ctx, "!room", "x", chat.SendOptions{})
	assert.True(t, errors.Is(err, chat.ErrCircuitOpen))
}

func TestGuardIgnoresChallenge(t *testing.T) {
	surface := chattest.New()
	surface.FailSends("@a:test", chat.ErrChallenge)
	g := chat.NewGuard(surface.Session("@a:test"), chat.GuardConfig{
		SendInterval: time.Millisecond,
		MaxFailures:  1,
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := g.Send(context.Background(), "!room", "x", chat.SendOptions{})
		require.ErrorIs(t, err, chat.ErrChallenge)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuardPassesThrough(t *testing.T) {
	surface := chattest.New()
	g := chat.NewGuard(surface.Session("@a:test"), chat.GuardConfig{SendInterval: time.Millisecond}, nil)
	ctx := context.Background()

	id, err := g.Send(ctx, "!room", "hello", chat.SendOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := g.History(ctx, "!room", 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	got, err := g.MessagesByID(ctx, "!room", []string{id})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	who, err := g.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "@a:test", who)
}
