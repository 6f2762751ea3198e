package identity

import "testing"

func TestCanonicalPairOrders(t *testing.T) {
	t.Parallel()
	a, b := CanonicalPair("u_bob", "u_alice")
	if a != "u_alice" || b != "u_bob" {
		t.Errorf("CanonicalPair(u_bob, u_alice): got (%s, %s), want (u_alice, u_bob)", a, b)
	}
}

func TestCanonicalPairSymmetric(t *testing.T) {
	t.Parallel()
	a1, b1 := CanonicalPair("u_alice", "u_bob")
	a2, b2 := CanonicalPair("u_bob", "u_alice")
	if a1 != a2 || b1 != b2 {
		t.Errorf("CanonicalPair not symmetric: (%s, %s) vs (%s, %s)", a1, b1, a2, b2)
	}
}

func TestCanonicalPairAlreadyOrdered(t *testing.T) {
	t.Parallel()
	a, b := CanonicalPair("u_alice", "u_bob")
	if a != "u_alice" || b != "u_bob" {
		t.Errorf("CanonicalPair(u_alice, u_bob): got (%s, %s)", a, b)
	}
}
