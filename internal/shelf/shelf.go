// Package shelf implements the recursive Shelf CRDT: a tree that is either a
// Value leaf stamped with a (configurable-variant) clock, or a Map of named
// children stamped with a Lamport clock. It provides the merge/delta/prune
// operations that make the tree a delta-state CRDT (spec §3.3-§4.3).
package shelf

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shelfcrdt/shelf/internal/clock"
	"github.com/shelfcrdt/shelf/internal/value"
)

// Kind discriminates the two Shelf variants.
type Kind uint8

const (
	KindMap Kind = iota
	KindValue
)

// Shelf is the sum type `Value{value, clock} | Map{shelves, clock}` of
// spec §3.3. The zero Shelf is not valid; use NewValue or NewMap.
type Shelf struct {
	kind     Kind
	val      value.Value
	valClock clock.ShelfClock
	children map[string]*Shelf
	mapClock clock.ShelfClock
}

// NewValue builds a leaf Shelf. c must carry the replica's configured
// value-clock variant.
func NewValue(v value.Value, c clock.ShelfClock) *Shelf {
	return &Shelf{kind: KindValue, val: v, valClock: c}
}

// NewMap builds a map Shelf. c is always a Lamport clock (spec §3.2: the
// map-clock variant is fixed regardless of the replica's configured
// value-clock variant).
func NewMap(children map[string]*Shelf, c clock.ShelfClock) *Shelf {
	if children == nil {
		children = map[string]*Shelf{}
	}
	return &Shelf{kind: KindMap, children: children, mapClock: c}
}

// EmptyRoot builds the invariant-1 root: an empty Map at Lamport zero.
func EmptyRoot() *Shelf {
	return NewMap(nil, clock.FromLamport(clock.Lamport{Counter: 0}))
}

func (s *Shelf) Kind() Kind { return s.kind }
func (s *Shelf) IsMap() bool { return s.kind == KindMap }
func (s *Shelf) IsValue() bool { return s.kind == KindValue }

// Value returns the leaf payload. Only valid when IsValue().
func (s *Shelf) Value() value.Value { return s.val }

// Children returns the map's children. Only valid when IsMap(). The
// returned map is the live backing store — callers in the same actor
// (spec §5) may mutate it directly, e.g. Awareness.Set.
func (s *Shelf) Children() map[string]*Shelf { return s.children }

// Clock returns this node's ShelfClock, whichever variant applies.
func (s *Shelf) Clock() clock.ShelfClock {
	if s.kind == KindMap {
		return s.mapClock
	}
	return s.valClock
}

func (s *Shelf) setClock(c clock.ShelfClock) {
	if s.kind == KindMap {
		s.mapClock = c
	} else {
		s.valClock = c
	}
}

// Clone deep-copies the shelf. Merge and GetStateDelta both return fresh
// trees so callers never alias a peer's delta with their own local state.
func (s *Shelf) Clone() *Shelf {
	if s.kind == KindValue {
		return &Shelf{kind: KindValue, val: s.val, valClock: s.valClock}
	}
	children := make(map[string]*Shelf, len(s.children))
	for k, v := range s.children {
		children[k] = v.Clone()
	}
	return &Shelf{kind: KindMap, children: children, mapClock: s.mapClock}
}

// sortedChildKeys returns the map's keys in deterministic order, used
// wherever iteration order would otherwise affect serialized output.
func (s *Shelf) sortedChildKeys() []string {
	keys := make([]string, 0, len(s.children))
	for k := range s.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get descends a dot/slash-free path of map keys, spec §4.3's
// get/get_path. It returns ErrKeyMissing when a segment is absent, and
// ErrPathTraversesValue when a Value is hit before the path is exhausted.
func (s *Shelf) Get(path []string) (*Shelf, error) {
	cur := s
	for i, seg := range path {
		if !cur.IsMap() {
			return nil, fmt.Errorf("shelf: get %q at %q: %w", seg, path[:i], ErrPathTraversesValue)
		}
		child, ok := cur.children[seg]
		if !ok {
			return nil, fmt.Errorf("shelf: get %q: %w", seg, ErrKeyMissing)
		}
		cur = child
	}
	return cur, nil
}

// MaxChildLogical returns the highest logical counter among this map's
// direct children, used by Awareness.Set's timestamp computation
// (spec §4.4). ok is false for an empty map.
func (s *Shelf) MaxChildLogical() (max uint64, ok bool) {
	for _, child := range s.children {
		l := child.Clock().Logical()
		if !ok || l > max {
			max, ok = l, true
		}
	}
	return max, ok
}

// Prune discards, from every Map node, any child whose clock is strictly
// less than that map's own clock under the ShelfClock order (spec §4.3).
// It operates in place and recurses into surviving Map children.
func (s *Shelf) Prune() {
	if !s.IsMap() {
		return
	}
	for k, child := range s.children {
		order, ok := clock.Compare(child.Clock(), s.mapClock)
		if ok && order == clock.Less {
			delete(s.children, k)
			continue
		}
		child.Prune()
	}
}

// NodeCount returns the number of Map and Value nodes in the subtree
// rooted at s, including s itself. It feeds the ambient ShelfNodeCount
// metric; the protocol layer is the only caller.
func (s *Shelf) NodeCount() int {
	if s.IsValue() {
		return 1
	}
	count := 1
	for _, child := range s.children {
		count += child.NodeCount()
	}
	return count
}

// Equal implements spec invariant 4: structural equality, where Map-vs-Map
// equality only requires the logical counters of the clocks to match.
func Equal(a, b *Shelf) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == KindValue {
		return clock.Identical(a.valClock, b.valClock) && value.Equal(a.val, b.val)
	}
	if a.mapClock.Logical() != b.mapClock.Logical() {
		return false
	}
	if len(a.children) != len(b.children) {
		return false
	}
	for k, av := range a.children {
		bv, ok := b.children[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

// Merge implements the semi-lattice join of spec §4.3. It is pure: neither
// receiver nor argument is mutated, and the result is a fresh tree.
func Merge(a, b *Shelf) *Shelf {
	order, ok := clock.Compare(a.Clock(), b.Clock())
	switch {
	case ok && order == clock.Greater:
		return a.Clone()
	case ok && order == clock.Less:
		return b.Clone()
	}

	// From here: clocks are Equal (ok==true) or incomparable (ok==false).
	if a.IsMap() && b.IsMap() {
		return mergeMaps(a, b, ok)
	}
	if a.IsValue() && b.IsValue() {
		if ok { // Equal, same variant and fields: no-op (rule 6).
			return a.Clone()
		}
		return mergeConcurrentValues(a, b)
	}
	// Map vs. Value at equal/incomparable clocks: type order wins (rule 5).
	if a.IsMap() {
		return a.Clone()
	}
	return b.Clone()
}

func mergeMaps(a, b *Shelf, clocksEqual bool) *Shelf {
	children := make(map[string]*Shelf, len(a.children)+len(b.children))
	for k, av := range a.children {
		children[k] = av.Clone()
	}
	for k, bv := range b.children {
		if av, ok := children[k]; ok {
			children[k] = Merge(av, bv)
		} else {
			children[k] = bv.Clone()
		}
	}
	resultClock := a.mapClock
	if !clocksEqual {
		resultClock = clock.Max(a.mapClock, b.mapClock)
	}
	return NewMap(children, resultClock)
}

// mergeConcurrentValues implements rule 4: two Value leaves at incomparable
// clocks (same counter, different client/hash). Resolution order: higher
// type rank, then the value's own partial order, then a lexicographic
// tiebreak on the stable wire form.
func mergeConcurrentValues(a, b *Shelf) *Shelf {
	order, ok := value.PartialCompare(a.val, b.val)
	if !ok {
		order = compareLexical(a.val, b.val)
	}
	winner := a
	if order < 0 {
		winner = b
	}
	return &Shelf{kind: KindValue, val: winner.val, valClock: clock.Max(a.valClock, b.valClock)}
}

func compareLexical(a, b value.Value) int {
	ab, bb := value.LexicalBytes(a), value.LexicalBytes(b)
	switch {
	case string(ab) < string(bb):
		return -1
	case string(ab) > string(bb):
		return 1
	default:
		return 0
	}
}

// SecureMerge is Merge's tamper-detecting counterpart (spec §4.3), valid
// only when both trees use the Secure value-clock variant. Any remote leaf
// that would overwrite local state must verify against its own hash; a
// leaf that fails verification is silently dropped, keeping the local
// value. A Map subtree inserted wholesale from the remote side (no local
// counterpart) is admitted only if every leaf within it verifies.
func SecureMerge(local, remote *Shelf) *Shelf {
	result, _ := SecureMergeCounting(local, remote)
	return result
}

// SecureMergeCounting behaves exactly like SecureMerge but additionally
// reports how many remote leaves were dropped for failing verification,
// feeding the ambient RejectedLeavesTotal metric without duplicating the
// verification logic above.
func SecureMergeCounting(local, remote *Shelf) (*Shelf, int) {
	rejected := 0
	return secureMerge(local, remote, &rejected), rejected
}

func secureMerge(local, remote *Shelf, rejected *int) *Shelf {
	order, ok := clock.Compare(local.Clock(), remote.Clock())
	switch {
	case ok && order == clock.Greater:
		return local.Clone()
	case ok && order == clock.Less:
		if verified, good := verifyTree(remote, rejected); good {
			return verified
		}
		return local.Clone()
	}

	if local.IsMap() && remote.IsMap() {
		children := make(map[string]*Shelf, len(local.children)+len(remote.children))
		for k, lv := range local.children {
			children[k] = lv.Clone()
		}
		for k, rv := range remote.children {
			if lv, present := children[k]; present {
				children[k] = secureMerge(lv, rv, rejected)
			} else if verified, good := verifyTree(rv, rejected); good {
				children[k] = verified
			}
			// else: wholesale insertion failed verification, drop it entirely.
		}
		resultClock := local.mapClock
		if !ok {
			resultClock = clock.Max(local.mapClock, remote.mapClock)
		}
		return NewMap(children, resultClock)
	}
	if local.IsValue() && remote.IsValue() {
		if ok {
			return local.Clone()
		}
		if !remote.valClock.Secure().Verify(remote.val) {
			*rejected++
			return local.Clone()
		}
		return mergeConcurrentValues(local, remote)
	}
	if local.IsMap() {
		return local.Clone()
	}
	if verified, good := verifyTree(remote, rejected); good {
		return verified
	}
	return local.Clone()
}

// verifyTree recursively checks every leaf in a Secure-clocked tree,
// returning (clone, true) only if every leaf verifies. It counts every
// individual leaf failure into rejected even though a single failure
// anywhere fails the whole subtree, so callers can see how much of a
// rejected wholesale insertion was corrupt.
func verifyTree(s *Shelf, rejected *int) (*Shelf, bool) {
	if s.IsValue() {
		if !s.valClock.Secure().Verify(s.val) {
			*rejected++
			return nil, false
		}
		return s.Clone(), true
	}
	children := make(map[string]*Shelf, len(s.children))
	ok := true
	for k, child := range s.children {
		verified, good := verifyTree(child, rejected)
		if !good {
			ok = false
			continue
		}
		children[k] = verified
	}
	if !ok {
		return nil, false
	}
	return NewMap(children, s.mapClock), true
}

// StateVector mirrors a Shelf's shape with clocks only (spec §3.4).
type StateVector struct {
	kind     Kind
	clock    clock.ShelfClock
	children map[string]*StateVector
}

func (sv *StateVector) Kind() Kind                       { return sv.kind }
func (sv *StateVector) Clock() clock.ShelfClock           { return sv.clock }
func (sv *StateVector) Children() map[string]*StateVector { return sv.children }

// GetStateVector walks the Shelf, producing its StateVector.
func GetStateVector(s *Shelf) *StateVector {
	if s.IsValue() {
		return &StateVector{kind: KindValue, clock: s.valClock}
	}
	children := make(map[string]*StateVector, len(s.children))
	for k, child := range s.children {
		children[k] = GetStateVector(child)
	}
	return &StateVector{kind: KindMap, clock: s.mapClock, children: children}
}

// MarshalJSON renders a StateVector in the same [payload, clock] shape as
// Shelf.MarshalJSON, so a Decoder pair can round-trip both across the wire.
func (sv *StateVector) MarshalJSON() ([]byte, error) {
	if sv.kind == KindValue {
		return json.Marshal([2]interface{}{nil, sv.clock})
	}
	return json.Marshal([2]interface{}{sv.children, sv.clock})
}

// DecodeStateVector parses the form produced by StateVector.MarshalJSON.
// Like Decoder.Decode, it needs the replica's configured value-clock
// Variant to disambiguate Dot from Secure leaves.
func DecodeStateVector(data []byte, valueVariant clock.Variant) (*StateVector, error) {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("shelf: decode state vector: %w", err)
	}
	if looksLikeObject(pair[0]) {
		var rawChildren map[string]json.RawMessage
		if err := json.Unmarshal(pair[0], &rawChildren); err != nil {
			return nil, fmt.Errorf("shelf: decode state vector children: %w", err)
		}
		mapClock, err := clock.UnmarshalJSONAs(pair[1], clock.VariantLamport)
		if err != nil {
			return nil, fmt.Errorf("shelf: decode state vector map clock: %w", err)
		}
		children := make(map[string]*StateVector, len(rawChildren))
		for k, raw := range rawChildren {
			child, err := DecodeStateVector(raw, valueVariant)
			if err != nil {
				return nil, fmt.Errorf("shelf: decode state vector child %q: %w", k, err)
			}
			children[k] = child
		}
		return &StateVector{kind: KindMap, clock: mapClock, children: children}, nil
	}
	valClock, err := clock.UnmarshalJSONAs(pair[1], valueVariant)
	if err != nil {
		return nil, fmt.Errorf("shelf: decode state vector leaf clock: %w: %w", err, ErrClockParse)
	}
	return &StateVector{kind: KindValue, clock: valClock}, nil
}

// GetStateDelta computes the minimal sub-tree of s needed to advance a peer
// holding sv (spec §4.3). ok is false when s has no new information. The
// branch order mirrors the reference state-vector comparison exactly: the
// clock-ordering cases are resolved first, then the (Map, Node) recursion,
// then the Equal short-circuit, then the (Value, Node) type-order loss, and
// finally a catch-all clone for every remaining incomparable shape.
func GetStateDelta(s *Shelf, sv *StateVector) (*Shelf, bool) {
	order, ok := clock.Compare(s.Clock(), sv.clock)
	switch {
	case ok && order == clock.Less:
		return nil, false
	case ok && order == clock.Greater:
		return s.Clone(), true
	case s.IsMap() && sv.kind == KindMap:
		return getMapStateDelta(s, sv, ok && order == clock.Equal)
	case ok && order == clock.Equal:
		return nil, false
	case s.IsValue() && sv.kind == KindMap:
		return nil, false // type order loses: a Map peer state wins.
	default:
		// Every remaining incomparable shape (Value vs. Leaf with differing
		// clients/hashes, or Map vs. Leaf) must reach the peer so it can
		// apply the same deterministic tiebreak locally.
		return s.Clone(), true
	}
}

// getMapStateDelta handles the (Map, Node) recursion of spec §4.3. When the
// map-clocks themselves are strictly incomparable (mapClocksEqual == false)
// and no child contributed anything, an empty shell is still sent so the
// peer can reconcile its map-clock bookkeeping; when the map-clocks were
// Equal, an empty result means genuinely nothing changed.
func getMapStateDelta(s *Shelf, sv *StateVector, mapClocksEqual bool) (*Shelf, bool) {
	collected := make(map[string]*Shelf)
	for k, child := range s.children {
		var delta *Shelf
		var has bool
		if peerChild, present := sv.children[k]; present {
			delta, has = GetStateDelta(child, peerChild)
		} else {
			childOrder, childOK := clock.Compare(child.Clock(), sv.clock)
			if childOK && childOrder == clock.Less {
				has = false // obsoleted by the peer's newer map-clock.
			} else {
				delta, has = child.Clone(), true
			}
		}
		if has {
			collected[k] = delta
		}
	}
	if len(collected) == 0 && mapClocksEqual {
		return nil, false
	}
	return NewMap(collected, s.mapClock), true
}

// MarshalJSON renders the stable wire form defined by spec §6. Map -> [children, clock],
// Value -> [value, clock], matching spec §6 exactly.
func (s *Shelf) MarshalJSON() ([]byte, error) {
	if s.IsValue() {
		return json.Marshal([2]interface{}{s.val, s.valClock})
	}
	children := make(map[string]*Shelf, len(s.children))
	for k, v := range s.children {
		children[k] = v
	}
	return json.Marshal([2]interface{}{children, s.mapClock})
}

// Decoder reconstructs Shelf trees from the wire form. It must know the
// replica's configured value-clock Variant up front: the wire form alone
// cannot distinguish Dot from Secure (both are 2-tuples of uint64), only
// Lamport (a bare integer) is self-describing.
type Decoder struct {
	ValueVariant clock.Variant
}

// Decode parses the wire form produced by MarshalJSON.
func (d Decoder) Decode(data []byte) (*Shelf, error) {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("shelf: decode: %w", err)
	}
	if looksLikeObject(pair[0]) {
		var rawChildren map[string]json.RawMessage
		if err := json.Unmarshal(pair[0], &rawChildren); err != nil {
			return nil, fmt.Errorf("shelf: decode map children: %w", err)
		}
		mapClock, err := clock.UnmarshalJSONAs(pair[1], clock.VariantLamport)
		if err != nil {
			return nil, fmt.Errorf("shelf: decode map clock: %w", err)
		}
		children := make(map[string]*Shelf, len(rawChildren))
		for k, raw := range rawChildren {
			child, err := d.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("shelf: decode child %q: %w", k, err)
			}
			children[k] = child
		}
		return NewMap(children, mapClock), nil
	}
	var v value.Value
	if err := json.Unmarshal(pair[0], &v); err != nil {
		return nil, fmt.Errorf("shelf: decode value: %w", err)
	}
	valClock, err := clock.UnmarshalJSONAs(pair[1], d.ValueVariant)
	if err != nil {
		return nil, fmt.Errorf("shelf: decode value clock: %w: %w", err, ErrClockParse)
	}
	return NewValue(v, valClock), nil
}

func looksLikeObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
