package broadcast

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBusFansOutToEverySubscriber(t *testing.T) {
	bus := NewInMemory(slog.New(slog.DiscardHandler))
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	sub2, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	sent := Event{Kind: KindStateChanged, IsUnlocked: true, Epoch: "e1", Seq: 1, At: time.Now().UTC()}
	require.NoError(t, bus.Publish(ctx, sent))

	for _, sub := range []<-chan Event{sub1, sub2} {
		got := receive(t, sub)
		assert.Equal(t, sent.Kind, got.Kind)
		assert.True(t, got.IsUnlocked)
		assert.Equal(t, "e1", got.Epoch)
		assert.Equal(t, uint64(1), got.Seq)
	}
}

func TestBusesOnDistinctTopicsAreIsolated(t *testing.T) {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 4}, watermill.NopLogger{})
	defer ch.Close()
	logger := slog.New(slog.DiscardHandler)
	staging := New(ch, ch, WithTopic("pagelock.staging"), WithLogger(logger))
	prod := New(ch, ch, WithTopic("pagelock.prod"), WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stagingSub, err := staging.Subscribe(ctx)
	require.NoError(t, err)
	prodSub, err := prod.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, prod.Publish(ctx, Event{Kind: KindStateChanged, Epoch: "p", Seq: 1}))
	assert.Equal(t, "p", receive(t, prodSub).Epoch)

	select {
	case ev := <-stagingSub:
		t.Fatalf("staging received %+v from another topic", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusToleratesZeroListeners(t *testing.T) {
	bus := NewInMemory(slog.New(slog.DiscardHandler))
	defer bus.Close()

	err := bus.Publish(context.Background(), Event{Kind: KindResetAuthorized})
	assert.NoError(t, err)
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	bus := NewInMemory(slog.New(slog.DiscardHandler))
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestEventNewerThan(t *testing.T) {
	ev := Event{Epoch: "a", Seq: 5}
	assert.True(t, ev.NewerThan("a", 4))
	assert.False(t, ev.NewerThan("a", 5))
	assert.False(t, ev.NewerThan("a", 6))
	assert.True(t, ev.NewerThan("b", 100), "a new epoch always wins")
	assert.True(t, ev.NewerThan("", 0))
}
