// Package clock implements the logical-clock family shared by every Shelf
// node: Lamport (map nodes, always), and the configurable leaf-clock variant
// (Lamport, Dot, or Secure) attached to Value nodes. See spec §3.2, §4.2.
package clock

import (
	"encoding/json"
	"fmt"

	"github.com/shelfcrdt/shelf/internal/clockhash"
	"github.com/shelfcrdt/shelf/internal/value"
)

// Order is the result of a three-way comparison. It is only meaningful when
// the accompanying bool is true; otherwise the two clocks are incomparable.
type Order int

const (
	Less    Order = -1
	Equal   Order = 0
	Greater Order = 1
)

func (o Order) String() string {
	switch o {
	case Less:
		return "Less"
	case Equal:
		return "Equal"
	case Greater:
		return "Greater"
	default:
		return "Invalid"
	}
}

// Variant names the three clock families a replica may be configured with.
type Variant uint8

const (
	VariantLamport Variant = iota
	VariantDot
	VariantSecure
)

func (v Variant) String() string {
	switch v {
	case VariantLamport:
		return "lamport"
	case VariantDot:
		return "dot"
	case VariantSecure:
		return "secure"
	default:
		return "unknown"
	}
}

// Lamport is a single monotonically increasing counter with a total order.
type Lamport struct {
	Counter uint64
}

func (l Lamport) Logical() uint64 { return l.Counter }

// Dot is a per-client counter. Equal counters from the same client compare
// Equal; equal counters from different clients are incomparable by design —
// it is exactly how two replicas independently reaching counter k are
// recognized as concurrent (spec §3.2).
type Dot struct {
	ClientID uint64
	Counter  uint64
}

func (d Dot) Logical() uint64 { return d.Counter }

// Secure binds a counter to a hash of (counter, value). Two Secure clocks
// with equal counters compare Equal only when their hashes also match.
type Secure struct {
	Counter uint64
	Hash    uint64
}

func (s Secure) Logical() uint64 { return s.Counter }

// Verify checks that the clock's hash matches H(counter, v); see
// clockhash.HashOf. v's own MarshalJSON supplies the stable wire-form bytes
// H is defined over.
func (s Secure) Verify(v value.Value) bool {
	h, err := clockhash.HashOf(s.Counter, v)
	return err == nil && s.Hash == h
}

// ShelfClock is the comparable type living at every Shelf node (spec §3.2's
// `ShelfClock = M ⊎ V`). A Map node always carries VariantLamport; a Value
// node carries whichever variant the replica is configured with.
type ShelfClock struct {
	variant Variant
	lamport Lamport
	dot     Dot
	secure  Secure
}

func FromLamport(l Lamport) ShelfClock { return ShelfClock{variant: VariantLamport, lamport: l} }
func FromDot(d Dot) ShelfClock         { return ShelfClock{variant: VariantDot, dot: d} }
func FromSecure(s Secure) ShelfClock   { return ShelfClock{variant: VariantSecure, secure: s} }

func (c ShelfClock) Variant() Variant { return c.variant }
func (c ShelfClock) Lamport() Lamport { return c.lamport }
func (c ShelfClock) Dot() Dot         { return c.dot }
func (c ShelfClock) Secure() Secure   { return c.secure }

// Logical returns the monotonically increasing counter shared by every
// variant, used e.g. by Awareness to compute the next write's timestamp.
func (c ShelfClock) Logical() uint64 {
	switch c.variant {
	case VariantLamport:
		return c.lamport.Counter
	case VariantDot:
		return c.dot.Counter
	case VariantSecure:
		return c.secure.Counter
	default:
		panic(fmt.Sprintf("clock: unknown variant %d", c.variant))
	}
}

// Compare implements the partial order of spec §3.2/§4.2, including the
// cross-type rule for map-clock vs. value-clock comparisons: when the two
// clocks are of different variants and their logical counters are equal,
// the result is incomparable (None) because they can never be "the same
// variant and fields". When they are of the same variant, each variant's own
// equal-counter rule governs (see Lamport/Dot/Secure doc comments above).
func Compare(a, b ShelfClock) (Order, bool) {
	if a.variant != b.variant {
		switch {
		case a.Logical() < b.Logical():
			return Less, true
		case a.Logical() > b.Logical():
			return Greater, true
		default:
			return Equal, false
		}
	}
	switch a.variant {
	case VariantLamport:
		return compareUint64(a.lamport.Counter, b.lamport.Counter), true
	case VariantDot:
		if a.dot.Counter != b.dot.Counter {
			return compareUint64(a.dot.Counter, b.dot.Counter), true
		}
		if a.dot.ClientID == b.dot.ClientID {
			return Equal, true
		}
		return Equal, false
	case VariantSecure:
		if a.secure.Counter != b.secure.Counter {
			return compareUint64(a.secure.Counter, b.secure.Counter), true
		}
		if a.secure.Hash == b.secure.Hash {
			return Equal, true
		}
		return Equal, false
	default:
		panic(fmt.Sprintf("clock: unknown variant %d", a.variant))
	}
}

// Identical reports whether two clocks are the same variant with the same
// fields — the "same variant and fields" test spec §3.2 uses to resolve
// equal-logical-counter cross-type comparisons, and the test Shelf equality
// (spec invariant 4) reduces to for Map-vs-Map clocks (logical counter only).
func Identical(a, b ShelfClock) bool {
	if a.variant != b.variant {
		return false
	}
	switch a.variant {
	case VariantLamport:
		return a.lamport == b.lamport
	case VariantDot:
		return a.dot == b.dot
	case VariantSecure:
		return a.secure == b.secure
	default:
		return false
	}
}

func compareUint64(a, b uint64) Order {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

// Max resolves the storage-only tiebreak mentioned in spec §4.3 rule 3: the
// logical state is unaffected by which of two incomparable clocks is kept
// for bookkeeping, but the choice must be deterministic and symmetric
// (independent of argument order) so that merge stays commutative.
func Max(a, b ShelfClock) ShelfClock {
	order, ok := Compare(a, b)
	if ok {
		if order == Less {
			return b
		}
		return a
	}
	return tieBreakIncomparable(a, b)
}

// tieBreakIncomparable breaks a tie between two same-variant, same-counter
// clocks by the field that made them incomparable in the first place
// (client_id for Dot, hash for Secure), so the result never depends on
// which side of the call a given clock happened to be on.
func tieBreakIncomparable(a, b ShelfClock) ShelfClock {
	switch a.variant {
	case VariantDot:
		if a.dot.ClientID >= b.dot.ClientID {
			return a
		}
		return b
	case VariantSecure:
		if a.secure.Hash >= b.secure.Hash {
			return a
		}
		return b
	default:
		if a.Logical() >= b.Logical() {
			return a
		}
		return b
	}
}

// wireClock mirrors ShelfClock's fields; nothing in this package encodes
// through it. The stable, array-shaped wire encoding from spec §6 (Lamport
// as a bare integer, Dot as [client_id, counter], Secure as [hash, counter])
// is written by ShelfClock.MarshalJSON below.
type wireClock struct {
	Variant Variant
	Lamport Lamport
	Dot     Dot
	Secure  Secure
}

func (c ShelfClock) MarshalJSON() ([]byte, error) {
	switch c.variant {
	case VariantLamport:
		return json.Marshal(c.lamport.Counter)
	case VariantDot:
		return json.Marshal([2]uint64{c.dot.ClientID, c.dot.Counter})
	case VariantSecure:
		return json.Marshal([2]uint64{c.secure.Hash, c.secure.Counter})
	default:
		return nil, fmt.Errorf("clock: unknown variant %d", c.variant)
	}
}

// ValueGenerator produces the replica's configured value-clock variant for
// a newly computed logical counter (spec §4.2: "a clock generator for each
// variant exposes new() and next(prev)"). Awareness.Set computes the
// counter itself (it must see every sibling's clock to guarantee strict
// monotonicity), so the generator's only job is to stamp that counter with
// the right variant-specific shape. v is the leaf's value; only
// SecureGenerator uses it, hashing it via clockhash.HashOf.
type ValueGenerator interface {
	NewClock(counter uint64, v value.Value) ShelfClock
	Variant() Variant
}

// LamportGenerator stamps leaves with plain Lamport clocks.
type LamportGenerator struct{}

func (LamportGenerator) NewClock(counter uint64, _ value.Value) ShelfClock {
	return FromLamport(Lamport{Counter: counter})
}
func (LamportGenerator) Variant() Variant { return VariantLamport }

// DotGenerator stamps leaves with this replica's client id.
type DotGenerator struct {
	ClientID uint64
}

func (g DotGenerator) NewClock(counter uint64, _ value.Value) ShelfClock {
	return FromDot(Dot{ClientID: g.ClientID, Counter: counter})
}
func (DotGenerator) Variant() Variant { return VariantDot }

// SecureGenerator binds each leaf's clock to a hash of its value.
type SecureGenerator struct{}

func (SecureGenerator) NewClock(counter uint64, v value.Value) ShelfClock {
	hash, err := clockhash.HashOf(counter, v)
	if err != nil {
		// value.Value's MarshalJSON never fails for well-formed Values.
		panic(err)
	}
	return FromSecure(Secure{Counter: counter, Hash: hash})
}
func (SecureGenerator) Variant() Variant { return VariantSecure }

// UnmarshalJSONAs decodes a wire clock known in advance to be of the given
// variant. The wire form alone (a bare integer vs. a 2-tuple) disambiguates
// Lamport from {Dot, Secure}, but cannot tell Dot and Secure apart, so the
// caller (which knows the replica's configured clock_variant) must say which.
func UnmarshalJSONAs(data []byte, variant Variant) (ShelfClock, error) {
	switch variant {
	case VariantLamport:
		var counter uint64
		if err := json.Unmarshal(data, &counter); err != nil {
			return ShelfClock{}, fmt.Errorf("clock: parse lamport: %w", err)
		}
		return FromLamport(Lamport{Counter: counter}), nil
	case VariantDot:
		var pair [2]uint64
		if err := json.Unmarshal(data, &pair); err != nil {
			return ShelfClock{}, fmt.Errorf("clock: parse dot: %w", err)
		}
		return FromDot(Dot{ClientID: pair[0], Counter: pair[1]}), nil
	case VariantSecure:
		var pair [2]uint64
		if err := json.Unmarshal(data, &pair); err != nil {
			return ShelfClock{}, fmt.Errorf("clock: parse secure: %w", err)
		}
		return FromSecure(Secure{Hash: pair[0], Counter: pair[1]}), nil
	default:
		return ShelfClock{}, fmt.Errorf("clock: unknown variant %d", variant)
	}
}
