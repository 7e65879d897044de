// Package awareness implements the top-level coordination layer on top of
// a Shelf: a Map keyed by replica identity, mediating writes so that clock
// monotonicity holds under arbitrary path rewrites (spec §4.4).
package awareness

import (
	"errors"
	"fmt"

	"github.com/shelfcrdt/shelf/internal/clock"
	"github.com/shelfcrdt/shelf/internal/shelf"
)

// Errors specific to the Awareness layer. ErrPathNotFound is distinct from
// shelf.ErrKeyMissing: the former is a write-time miss on an intermediate
// path segment, the latter a read-time miss anywhere in the tree.
var (
	ErrPathNotFound     = errors.New("awareness: path not found")
	ErrPermissionDenied = errors.New("awareness: permission denied")
)

// SessionAuthorizer gates local writes behind a capability token. A token
// authorizes a (replica id, path prefix) pair; see internal/identity for the
// JWT-backed implementation wired in when a replica is configured with
// identity-gated writes.
type SessionAuthorizer interface {
	Authorize(token string, replicaID string, path []string) error
}

// Awareness is the mutation entry point for a replica's own sub-tree and the
// read path into every peer's last-merged state.
type Awareness struct {
	selfID     string
	root       *shelf.Shelf
	valueGen   clock.ValueGenerator
	secureMode bool
	authorizer SessionAuthorizer
}

// New builds an Awareness whose root Map (Lamport zero) is pre-populated
// with an empty Map for selfID at Lamport 1, so every replica starts aware
// of its own, as yet empty, state — mirroring the reference
// implementation's new_for_client constructor. Every other replica's
// sub-tree is learned only by Merge.
func New(selfID string, valueGen clock.ValueGenerator) *Awareness {
	root := shelf.EmptyRoot()
	root.Children()[selfID] = shelf.NewMap(nil, clock.FromLamport(clock.Lamport{Counter: 1}))
	return &Awareness{
		selfID:     selfID,
		root:       root,
		valueGen:   valueGen,
		secureMode: valueGen.Variant() == clock.VariantSecure,
	}
}

// WithAuthorizer attaches an optional capability-token gate to local writes.
// It returns the receiver for chaining at construction time.
func (a *Awareness) WithAuthorizer(authz SessionAuthorizer) *Awareness {
	a.authorizer = authz
	return a
}

func (a *Awareness) SelfID() string { return a.selfID }

// Root exposes the underlying Shelf, mainly for the protocol layer to
// compute state vectors/deltas against.
func (a *Awareness) Root() *shelf.Shelf { return a.root }

// Get performs a read-only descent from the root. Callers wanting their own
// state or a specific peer's state prepend the relevant replica id, e.g.
// Get([]string{"replica-1", "cursor", "x"}).
func (a *Awareness) Get(path []string) (*shelf.Shelf, error) {
	return a.root.Get(path)
}

// GetPeer returns the full sub-tree owned by the given replica id.
func (a *Awareness) GetPeer(id string) (*shelf.Shelf, error) {
	return a.root.Get([]string{id})
}

// GetOwn returns this replica's own sub-tree.
func (a *Awareness) GetOwn() (*shelf.Shelf, error) {
	return a.GetPeer(a.selfID)
}

// Set is the sole mutation entry point (spec §4.4). path must not be empty;
// every segment but the last must resolve to an existing Map, and the last
// segment is inserted or replaced. newValue's own clock is discarded and
// recomputed so that the write is strictly greater than the parent map's
// clock, the previous version at that path, and, when that previous
// version is a Map, each of its children. When a SessionAuthorizer is
// configured, Set carries no token and is rejected with
// ErrPermissionDenied; gated writes go through SetWithToken.
func (a *Awareness) Set(path []string, newValue *shelf.Shelf) (*shelf.Shelf, error) {
	return a.SetWithToken(path, newValue, "")
}

// SetWithToken is Set gated by the configured SessionAuthorizer. When no
// authorizer is configured it behaves exactly like Set and the token is
// ignored.
func (a *Awareness) SetWithToken(path []string, newValue *shelf.Shelf, token string) (*shelf.Shelf, error) {
	if a.authorizer != nil {
		if err := a.authorizer.Authorize(token, a.selfID, path); err != nil {
			return nil, fmt.Errorf("awareness: %w: %w", ErrPermissionDenied, err)
		}
	}
	return a.setInternal(path, newValue)
}

func (a *Awareness) setInternal(path []string, newValue *shelf.Shelf) (*shelf.Shelf, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("awareness: cannot set the root directly: %w", shelf.ErrInvalidSetTarget)
	}

	parent := a.root
	for _, seg := range path[:len(path)-1] {
		if !parent.IsMap() {
			return nil, fmt.Errorf("awareness: set %q: %w", seg, shelf.ErrPathTraversesValue)
		}
		child, ok := parent.Children()[seg]
		if !ok {
			return nil, fmt.Errorf("awareness: set %q: %w", seg, ErrPathNotFound)
		}
		parent = child
	}
	if !parent.IsMap() {
		return nil, fmt.Errorf("awareness: set: %w", shelf.ErrPathTraversesValue)
	}

	lastKey := path[len(path)-1]
	existing, occupied := parent.Children()[lastKey]

	newTS := parent.Clock().Logical()
	if occupied {
		if l := existing.Clock().Logical(); l > newTS {
			newTS = l
		}
		if existing.IsMap() {
			if maxChild, ok := existing.MaxChildLogical(); ok && maxChild > newTS {
				newTS = maxChild
			}
		}
	}
	newTS++

	stamped := restamp(newValue, newTS, a.valueGen)
	parent.Children()[lastKey] = stamped
	if occupied {
		return existing, nil
	}
	return nil, nil
}

// restamp assigns a newly computed logical counter to a shelf about to be
// inserted: a Map gets a Lamport clock, a Value gets whatever the replica's
// configured generator produces (binding the hash for Secure).
func restamp(s *shelf.Shelf, counter uint64, gen clock.ValueGenerator) *shelf.Shelf {
	if s.IsMap() {
		return shelf.NewMap(s.Children(), clock.FromLamport(clock.Lamport{Counter: counter}))
	}
	return shelf.NewValue(s.Value(), gen.NewClock(counter, s.Value()))
}

// Merge folds a received delta into the root, preserving the map-root
// invariant (spec invariant 1). When the replica's configured value-clock
// variant is Secure, it dispatches to SecureMerge and returns how many
// remote leaves were dropped for failing verification; rejected is always
// 0 for the other variants.
func (a *Awareness) Merge(delta *shelf.Shelf) (rejected int) {
	if a.secureMode {
		var merged *shelf.Shelf
		merged, rejected = shelf.SecureMergeCounting(a.root, delta)
		a.root = merged
		return rejected
	}
	a.root = shelf.Merge(a.root, delta)
	return 0
}

// Prune runs garbage collection over the whole tree (spec §4.3), dropping
// children made obsolete by their parent map's clock. Callers configured
// with garbage_collect_on_merge run this after every Merge.
func (a *Awareness) Prune() {
	a.root.Prune()
}

// GetStateVector and GetStateDelta expose the delta protocol primitives
// operating on the whole Awareness tree.
func (a *Awareness) GetStateVector() *shelf.StateVector {
	return shelf.GetStateVector(a.root)
}

func (a *Awareness) GetStateDelta(sv *shelf.StateVector) (*shelf.Shelf, bool) {
	return shelf.GetStateDelta(a.root, sv)
}
