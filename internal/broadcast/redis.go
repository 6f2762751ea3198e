package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
)

const subscriptionBuffer = 256

// RedisBroker implements Broker on Redis pub/sub, so events reach
// subscribers connected to any API process.
type RedisBroker struct {
	cli *redis.Client

	// ownsClient marks a client dialed by the broker itself; a shared
	// client stays open after Close.
	ownsClient bool
}

func NewRedisBroker(ctx context.Context, url string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("broadcast redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("broadcast redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("broadcast redis ping: %w", err)
	}
	return &RedisBroker{cli: cli, ownsClient: true}, nil
}

// NewRedisBrokerFromClient wraps an existing client (shared with the
// notification subscription store).
func NewRedisBrokerFromClient(cli *redis.Client) *RedisBroker {
	return &RedisBroker{cli: cli}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broadcast publish marshal: %w", err)
	}
	if err := b.cli.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("broadcast publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (Subscription, error) {
	ps := b.cli.Subscribe(ctx)
	sub := &redisSubscription{
		ps:     ps,
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

func (b *RedisBroker) Close() error {
	if !b.ownsClient {
		return nil
	}
	return b.cli.Close()
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event
	done   chan struct{}
}

// pump decodes raw pub/sub payloads into Events. A full events channel
// drops the event: delivery is best-effort and a stalled subscriber must
// not back-pressure the transport.
func (s *redisSubscription) pump(in <-chan *redis.Message) {
	defer close(s.events)
	for msg := range in {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Errorf("broadcast decode event topic=%s: %v", msg.Channel, err)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		default:
			logger.Errorf("broadcast subscriber buffer full, dropping event topic=%s", msg.Channel)
		}
	}
}

func (s *redisSubscription) Bind(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	return s.ps.Subscribe(ctx, topics...)
}

func (s *redisSubscription) Unbind(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	return s.ps.Unsubscribe(ctx, topics...)
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	close(s.done)
	return s.ps.Close()
}
