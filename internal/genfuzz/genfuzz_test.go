package genfuzz

import (
	"testing"

	"github.com/shelfcrdt/shelf/internal/clock"
	"github.com/shelfcrdt/shelf/internal/shelf"
	"github.com/shelfcrdt/shelf/internal/value"
)

func TestSameSeedProducesIdenticalTree(t *testing.T) {
	a := New(42, clock.LamportGenerator{}, 0)
	b := New(42, clock.LamportGenerator{}, 0)

	treeA := a.GenerateShelf()
	treeB := b.GenerateShelf()

	if !sameShape(treeA, treeB) {
		t.Fatal("two fuzzers seeded identically produced different trees")
	}
}

func TestDifferentSeedsUsuallyDiverge(t *testing.T) {
	a := New(1, clock.LamportGenerator{}, 0)
	b := New(2, clock.LamportGenerator{}, 0)

	treeA := a.GenerateShelf()
	treeB := b.GenerateShelf()

	if sameShape(treeA, treeB) {
		t.Fatal("two different seeds produced identical trees")
	}
}

func TestSetSeedReseeds(t *testing.T) {
	a := New(7, clock.LamportGenerator{}, 0)
	first := a.GenerateShelf()

	a.SetSeed(7)
	second := a.GenerateShelf()

	if !sameShape(first, second) {
		t.Fatal("reseeding with the same value did not reproduce the tree")
	}
}

func TestGeneratedTreeRespectsBranchAndValueRanges(t *testing.T) {
	f := New(3, clock.LamportGenerator{}, 0)
	f.DepthMin, f.DepthMax = 0, 1
	f.BranchMin, f.BranchMax = 0, 4
	f.ValueMin, f.ValueMax = 3, 4

	tree := f.GenerateShelf()
	if !tree.IsMap() {
		t.Fatal("root must be a map")
	}
	for _, child := range tree.Children() {
		if child.IsMap() {
			t.Fatal("expected a single terminal level of values, got a nested map")
		}
	}
	if len(tree.Children()) != 3 {
		t.Fatalf("expected exactly 3 values from ValueMin=3, ValueMax=4, got %d", len(tree.Children()))
	}
}

func TestDotVariantGeneratesDotClocks(t *testing.T) {
	f := New(11, clock.DotGenerator{ClientID: 99}, 99)
	f.ValueMin, f.ValueMax = 1, 3
	tree := f.GenerateShelf()
	walkValues(tree, func(s *shelf.Shelf) {
		c := s.Clock()
		if c.Variant() != clock.VariantDot {
			t.Fatalf("expected dot clock, got %s", c.Variant())
		}
	})
}

func sameShape(a, b *shelf.Shelf) bool {
	if a.IsMap() != b.IsMap() {
		return false
	}
	if !a.IsMap() {
		return value.Equal(a.Value(), b.Value())
	}
	ca, cb := a.Children(), b.Children()
	if len(ca) != len(cb) {
		return false
	}
	for k, v := range ca {
		other, ok := cb[k]
		if !ok || !sameShape(v, other) {
			return false
		}
	}
	return true
}

func walkValues(s *shelf.Shelf, visit func(*shelf.Shelf)) {
	if !s.IsMap() {
		visit(s)
		return
	}
	for _, child := range s.Children() {
		walkValues(child, visit)
	}
}
