package broadcast

import "context"

// Broker carries events from the publishing process to subscribers, which
// may live in other processes. Implementations: Redis (production, multiple
// API processes) and Memory (dev mode, tests).
type Broker interface {
	// Publish delivers ev to current subscribers of topic. Best effort:
	// an error means the event was not handed to the transport; it never
	// implies anything about the store write that preceded it.
	Publish(ctx context.Context, topic string, ev Event) error

	// Subscribe opens a subscription with no initial topics. The caller
	// binds and unbinds topics as channel views open and close.
	Subscribe(ctx context.Context) (Subscription, error)

	Close() error
}

// Subscription is one subscriber's view of the broker. Events() yields
// events for currently bound topics until Close.
type Subscription interface {
	Bind(ctx context.Context, topics ...string) error
	Unbind(ctx context.Context, topics ...string) error
	Events() <-chan Event
	Close() error
}
