// Package notify delivers Web Push notifications to members who have no
// live WebSocket connection. Browser subscriptions live in Redis under
// push:subs:<ref> with a rolling TTL.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerRef   = 10
	subscriptionTTL = 30 * 24 * time.Hour
	sendTimeout     = 10 * time.Second
)

// Subscription carries what the browser's PushManager hands out.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Notifier stores push subscriptions and sends notifications. With a nil
// vapid option set the store still works but sends are skipped.
type Notifier struct {
	redis *redis.Client
	vapid *webpush.Options
}

func NewNotifier(rdb *redis.Client, keys *VAPIDKeys) *Notifier {
	n := &Notifier{redis: rdb}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		n.vapid = &webpush.Options{
			Subscriber:      "cascadeconnect-notify",
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return n
}

// Enabled reports whether sends are configured. Subscriptions are
// accepted either way.
func (n *Notifier) Enabled() bool { return n.vapid != nil }

// PublicKey returns the VAPID public key, or "" when push is not
// configured.
func (n *Notifier) PublicKey() string {
	if n.vapid == nil {
		return ""
	}
	return n.vapid.VAPIDPublicKey
}

// Subscribe stores a browser subscription for ref, keeping at most
// maxSubsPerRef newest entries.
func (n *Notifier) Subscribe(ctx context.Context, ref identity.Ref, sub Subscription) error {
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return ErrInvalidSubscription
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + string(ref)
	pipe := n.redis.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerRef, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return nil
}

// Unsubscribe removes the subscription with the given endpoint for ref.
func (n *Notifier) Unsubscribe(ctx context.Context, ref identity.Ref, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ErrInvalidSubscription
	}
	return n.removeSubscription(ctx, ref, endpoint)
}

// Payload is the JSON sent to the service worker.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify sends a push to every stored subscription of ref. Gone
// subscriptions (404/410) are pruned. Errors are logged, not returned:
// callers fire and forget.
func (n *Notifier) Notify(ctx context.Context, ref identity.Ref, p Payload) {
	if n.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	subs, err := n.subscriptions(ctx, ref)
	if err != nil {
		logger.Errorf("notify: load subscriptions ref=%s: %v", ref, err)
		return
	}
	payloadBytes, err := json.Marshal(p)
	if err != nil {
		logger.Errorf("notify: marshal payload: %v", err)
		return
	}
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("notify: send %s: %v", truncate(sub.Endpoint, 50), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			n.removeSubscription(ctx, ref, sub.Endpoint)
		}
	}
}

func (n *Notifier) subscriptions(ctx context.Context, ref identity.Ref) ([]Subscription, error) {
	key := redisKeyPrefix + string(ref)
	list, err := n.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var subs []Subscription
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (n *Notifier) removeSubscription(ctx context.Context, ref identity.Ref, endpoint string) error {
	key := redisKeyPrefix + string(ref)
	list, err := n.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	var kept []string
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	pipe := n.redis.Pipeline()
	pipe.Del(ctx, key)
	for _, v := range kept {
		pipe.RPush(ctx, key, v)
	}
	if len(kept) > 0 {
		pipe.Expire(ctx, key, subscriptionTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
