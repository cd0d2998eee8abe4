package broadcast

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
)

// NewRedis returns a Bus backed by Redis streams so that every pagelock
// process sharing the Redis server sees every event. Subscribers join
// without a consumer group, which makes each one receive every message.
func NewRedis(client redis.UniversalClient, logger *slog.Logger, opts ...Option) (*Bus, error) {
	wlogger := watermill.NewSlogLogger(logger)
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: client,
	}, wlogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client: client,
	}, wlogger)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}
	return New(pub, sub, append([]Option{WithLogger(logger)}, opts...)...), nil
}
