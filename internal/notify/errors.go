package notify

import "errors"

// ErrInvalidSubscription is returned when a subscription lacks the
// endpoint or encryption keys required by the Web Push protocol.
var ErrInvalidSubscription = errors.New("invalid push subscription")
