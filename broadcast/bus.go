package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/jmcleod/pagelock/internal/uuid"
)

const (
	// DefaultTopic is the topic every pagelock event is published on.
	DefaultTopic = "pagelock.events"

	subscriberBuffer = 16
)

// Bus implements Publisher and Subscriber on top of a watermill pub/sub.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	topic  string
	logger *slog.Logger
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)

// Option configures a Bus.
type Option func(*Bus)

// WithTopic overrides the topic. Default: DefaultTopic.
func WithTopic(topic string) Option {
	return func(b *Bus) {
		b.topic = topic
	}
}

// WithLogger sets the logger used for dropped or malformed messages.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New wraps an arbitrary watermill publisher/subscriber pair.
func New(pub message.Publisher, sub message.Subscriber, opts ...Option) *Bus {
	b := &Bus{
		pub:    pub,
		sub:    sub,
		topic:  DefaultTopic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "broadcast")
	return b
}

// NewInMemory returns a Bus for a single process. Publishing with no
// subscribers drops the event.
func NewInMemory(logger *slog.Logger, opts ...Option) *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: subscriberBuffer,
	}, watermill.NewSlogLogger(logger))
	return New(ch, ch, append([]Option{WithLogger(logger)}, opts...)...)
}

// Publish marshals ev and hands it to the transport. Delivery is not retried.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := message.NewMessage(uuid.New(), payload)
	msg.SetContext(ctx)
	if err := b.pub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe starts a subscription that lives until ctx is done; the returned
// channel is closed then.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("dropping malformed event", "message_uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the publisher and, when distinct, the subscriber.
func (b *Bus) Close() error {
	err := b.pub.Close()
	if any(b.sub) != any(b.pub) {
		if serr := b.sub.Close(); err == nil {
			err = serr
		}
	}
	return err
}
