// Package genfuzz implements a deterministic, seeded procedural generator
// for random Shelf trees and Values, used by the convergence and
// tamper-resistance property tests. See
// original_source/shelf-crdt/src/shelf_fuzzer.rs and
// original_source/shelf-js/src/fuzzer.rs: same depth/branch/value range
// recursion, reimplemented over math/rand's seeded source instead of the
// Rust `rand` crate so two Fuzzers built from the same seed always produce
// byte-identical trees.
package genfuzz

import (
	"math/rand"

	"github.com/shelfcrdt/shelf/internal/clock"
	"github.com/shelfcrdt/shelf/internal/shelf"
	"github.com/shelfcrdt/shelf/internal/value"
)

// wordlist stands in for the Rust original's random_word crate: there is no
// teacher or pack dependency for word lists, and the fuzzer only needs
// distinct, readable map keys, not any particular vocabulary.
var wordlist = []string{
	"amber", "anchor", "arbor", "ash", "aspen", "atlas", "basin", "beacon",
	"birch", "bluff", "bramble", "brook", "canyon", "cedar", "cinder",
	"clover", "coral", "cove", "crag", "crest", "current", "dawn", "delta",
	"dell", "dune", "ember", "estuary", "fern", "field", "fjord", "flint",
	"forge", "frost", "glacier", "glen", "grove", "gully", "harbor",
	"haven", "hazel", "heath", "hollow", "inlet", "ivy", "juniper", "kelp",
	"knoll", "lagoon", "larch", "ledge", "lichen", "loam", "marsh",
	"meadow", "mesa", "mist", "moor", "moss", "oak", "oasis", "orchard",
	"outcrop", "peak", "pebble", "pine", "plain", "pond", "prairie",
	"quarry", "quartz", "reed", "reef", "ridge", "river", "rookery",
	"sage", "shale", "shoal", "shore", "slate", "sound", "spring",
	"spruce", "stone", "strait", "summit", "swale", "tarn", "thicket",
	"thorn", "tide", "timber", "tundra", "valley", "vale", "vapor",
	"verge", "vista", "wash", "water", "willow", "woodland",
}

// Fuzzer is the seeded Shelf/Value generator. Its zero value is not usable;
// build one with New. The Min/Max range fields are exported so a test can
// narrow or widen the generated shape the way the Rust tests construct a
// ShelfFuzzer with custom depth_range/branch_range/value_range directly.
type Fuzzer struct {
	rng *rand.Rand

	// DepthMin/DepthMax bound the depth at which a map level stops
	// branching and starts holding leaf values (half-open, like the
	// Rust Range: a draw in [Min, Max)).
	DepthMin, DepthMax int
	// BranchMin/BranchMax bound how many child maps a branching level has.
	BranchMin, BranchMax int
	// ValueMin/ValueMax bound how many leaf values a terminal level has.
	ValueMin, ValueMax int

	clientID uint64
	gen      clock.ValueGenerator
}

// New builds a Fuzzer seeded deterministically from seed, generating leaf
// clocks with gen (the replica's configured ValueGenerator). clientID is
// recorded on the Fuzzer but not used in generation: Dot-variant clocks
// carry gen's own ClientID. With the default ranges set here, GenerateShelf
// yields a single chain of three nested Maps and no Value leaves; callers
// that want leaves widen the exported ranges.
func New(seed int64, gen clock.ValueGenerator, clientID uint64) *Fuzzer {
	return &Fuzzer{
		rng:       rand.New(rand.NewSource(seed)),
		DepthMin:  2,
		DepthMax:  3,
		BranchMin: 1,
		BranchMax: 2,
		ValueMin:  0,
		ValueMax:  1,
		clientID:  clientID,
		gen:       gen,
	}
}

// SetSeed reseeds the generator in place, matching ShelfFuzzer::set_seed.
func (f *Fuzzer) SetSeed(seed int64) {
	f.rng = rand.New(rand.NewSource(seed))
}

// GenerateShelf produces a full Shelf tree with every node clocked,
// ready to be merged or put through the delta protocol directly.
func (f *Fuzzer) GenerateShelf() *shelf.Shelf {
	return f.generateChildren(1, true)
}

// GenerateValues produces a Shelf tree with the same shape but Lamport
// counter 1 at every node — useful when a test only cares about the value
// payload, not clock behavior (mirrors generate_json_values, whose Rust
// counterpart skips clocks entirely since raw JSON has no clock concept).
func (f *Fuzzer) GenerateValues() *shelf.Shelf {
	return f.generateChildren(1, false)
}

func (f *Fuzzer) generateChildren(depth int, withClocks bool) *shelf.Shelf {
	children := make(map[string]*shelf.Shelf)
	cutoff := f.intRange(f.DepthMin, f.DepthMax)

	if depth <= cutoff {
		n := f.intRange(f.BranchMin, f.BranchMax)
		for _, key := range f.genKeys(n) {
			children[key] = f.generateChildren(depth+1, withClocks)
		}
	} else {
		n := f.intRange(f.ValueMin, f.ValueMax)
		for _, key := range f.genKeys(n) {
			v := f.sampleValueRecursive(depth)
			if withClocks {
				children[key] = f.wrapValue(v, depth)
			} else {
				children[key] = shelf.NewValue(v, clock.FromLamport(clock.Lamport{Counter: 1}))
			}
		}
	}

	mapClock := clock.FromLamport(clock.Lamport{Counter: uint64(f.clockOffset(depth))})
	if !withClocks {
		mapClock = clock.FromLamport(clock.Lamport{Counter: 1})
	}
	return shelf.NewMap(children, mapClock)
}

func (f *Fuzzer) wrapValue(v value.Value, depth int) *shelf.Shelf {
	counter := uint64(f.clockOffset(depth))
	return shelf.NewValue(v, f.gen.NewClock(counter, v))
}

// clockOffset mirrors wrap_in_{value,map}_clock's depth-correlated jitter:
// a draw from [depth-2, depth+2) clamped at zero, so clocks climb roughly
// with tree depth but two nodes at the same depth can still tie or invert.
func (f *Fuzzer) clockOffset(depth int) int {
	lo := depth - 2
	if lo < 0 {
		lo = 0
	}
	return f.intRange(lo, depth+2)
}

func (f *Fuzzer) sampleValue() value.Value {
	switch f.intRange(0, 3) {
	case 0:
		return value.String(f.word())
	case 1:
		return value.Float(f.rng.Float32())
	default:
		return value.Bool(f.rng.Intn(2) == 1)
	}
}

func (f *Fuzzer) sampleValueRecursive(depth int) value.Value {
	if f.intRange(0, 4) != 0 {
		return f.sampleValue()
	}
	size := f.intRange(0, 5)
	items := make([]value.Value, size)
	nested := depth <= f.intRange(f.DepthMin, f.DepthMax)
	for i := range items {
		if nested {
			items[i] = f.sampleValueRecursive(depth + 1)
		} else {
			items[i] = f.sampleValue()
		}
	}
	return value.Array(items...)
}

// genKeys draws n distinct keys from the wordlist, shuffled, matching
// gen_keys's choose-then-shuffle idiom. n beyond len(wordlist) is clamped so
// the generator never panics on a wide BranchMax/ValueMax.
func (f *Fuzzer) genKeys(n int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(wordlist) {
		n = len(wordlist)
	}
	idx := f.rng.Perm(len(wordlist))[:n]
	keys := make([]string, n)
	for i, w := range idx {
		keys[i] = wordlist[w]
	}
	return keys
}

func (f *Fuzzer) word() string {
	return wordlist[f.rng.Intn(len(wordlist))]
}

// intRange draws from the half-open range [lo, hi), matching Rust's
// Range<usize>. hi <= lo degenerates to lo, since rand.Intn(0) would panic.
func (f *Fuzzer) intRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + f.rng.Intn(hi-lo)
}
