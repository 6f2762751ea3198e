// Package identity defines the single identifier namespace used inside the
// messaging core and the resolver that maps external authentication subjects
// into it.
//
// Users exist in two identifier spaces: the row id assigned by our database
// and the subject id issued by the identity provider. Only the subject form
// is compared across boundary points (clients, broadcast payloads, read
// filters), so it is the only form permitted inside the core. Ref is a
// distinct type precisely so a storage id cannot be passed where a subject
// is expected.
package identity

import "errors"

// ErrUnknownIdentity is returned when an external subject cannot be mapped
// to any known user. Callers must fail the request; falling back to another
// identifier space is how self-filtering, DM dedup and sender joins break.
var ErrUnknownIdentity = errors.New("unknown identity")

// Ref is the canonical reference to a user: the identity provider's subject
// id. Immutable once issued, never reused.
type Ref string

func (r Ref) String() string { return string(r) }

// Less reports lexicographic order, used for canonical DM pairing.
func (r Ref) Less(other Ref) bool { return r < other }

// CanonicalPair returns the two refs in sorted order. Both the lookup and
// the insert of a DM channel key on this order, never on argument order.
func CanonicalPair(a, b Ref) (Ref, Ref) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}
