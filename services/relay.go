package services

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const relayChannelPrefix = "livepoll:poll:"

// RedisRelay fans poll events out to every server instance through Redis
// pub/sub, so subscribers connected to different instances see the same
// updates.
type RedisRelay struct {
	client *redis.Client
	ready  chan struct{}
}

func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{
		client: client,
		ready:  make(chan struct{}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, pollID string, data []byte) error {
	return r.client.Publish(ctx, relayChannelPrefix+pollID, data).Err()
}

// Ready is closed once Run has subscribed to the poll channels.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to every poll channel and hands each message to deliver
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, deliver func(pollID string, data []byte)) error {
	pubsub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "failed to subscribe to poll channels")
	}
	close(r.ready)
	log.Info("Redis relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			pollID := strings.TrimPrefix(msg.Channel, relayChannelPrefix)
			deliver(pollID, []byte(msg.Payload))
		}
	}
}
