package clock

import (
	"testing"

	"github.com/shelfcrdt/shelf/internal/value"
)

func TestLamportCompareIsTotalOrder(t *testing.T) {
	a := FromLamport(Lamport{Counter: 1})
	b := FromLamport(Lamport{Counter: 2})

	order, ok := Compare(a, b)
	if !ok || order != Less {
		t.Fatalf("Compare(1, 2) = (%v, %v), want (Less, true)", order, ok)
	}
	order, ok = Compare(b, a)
	if !ok || order != Greater {
		t.Fatalf("Compare(2, 1) = (%v, %v), want (Greater, true)", order, ok)
	}
	order, ok = Compare(a, a)
	if !ok || order != Equal {
		t.Fatalf("Compare(1, 1) = (%v, %v), want (Equal, true)", order, ok)
	}
}

func TestDotSameCounterSameClientIsEqual(t *testing.T) {
	a := FromDot(Dot{ClientID: 7, Counter: 3})
	b := FromDot(Dot{ClientID: 7, Counter: 3})

	order, ok := Compare(a, b)
	if !ok || order != Equal {
		t.Fatalf("Compare(same client, same counter) = (%v, %v), want (Equal, true)", order, ok)
	}
}

func TestDotSameCounterDifferentClientIsIncomparable(t *testing.T) {
	a := FromDot(Dot{ClientID: 1, Counter: 5})
	b := FromDot(Dot{ClientID: 2, Counter: 5})

	if _, ok := Compare(a, b); ok {
		t.Fatal("expected concurrent dots from different clients to be incomparable")
	}
}

func TestSecureSameCounterSameHashIsEqual(t *testing.T) {
	a := FromSecure(Secure{Counter: 4, Hash: 0xDEAD})
	b := FromSecure(Secure{Counter: 4, Hash: 0xDEAD})

	order, ok := Compare(a, b)
	if !ok || order != Equal {
		t.Fatalf("Compare(matching hash) = (%v, %v), want (Equal, true)", order, ok)
	}
}

func TestSecureSameCounterDifferentHashIsIncomparable(t *testing.T) {
	a := FromSecure(Secure{Counter: 4, Hash: 0xDEAD})
	b := FromSecure(Secure{Counter: 4, Hash: 0xBEEF})

	if _, ok := Compare(a, b); ok {
		t.Fatal("expected mismatched hashes at equal counters to be incomparable")
	}
}

func TestCrossVariantEqualCounterIsIncomparable(t *testing.T) {
	a := FromLamport(Lamport{Counter: 3})
	b := FromDot(Dot{ClientID: 1, Counter: 3})

	if _, ok := Compare(a, b); ok {
		t.Fatal("expected clocks of different variants with equal counters to be incomparable")
	}
}

func TestCrossVariantOrdersByLogicalCounter(t *testing.T) {
	a := FromLamport(Lamport{Counter: 1})
	b := FromDot(Dot{ClientID: 1, Counter: 9})

	order, ok := Compare(a, b)
	if !ok || order != Less {
		t.Fatalf("Compare(lamport=1, dot.counter=9) = (%v, %v), want (Less, true)", order, ok)
	}
}

func TestIdenticalRequiresSameVariantAndFields(t *testing.T) {
	a := FromDot(Dot{ClientID: 1, Counter: 5})
	b := FromDot(Dot{ClientID: 1, Counter: 5})
	c := FromDot(Dot{ClientID: 2, Counter: 5})

	if !Identical(a, b) {
		t.Fatal("expected identical dots to report Identical")
	}
	if Identical(a, c) {
		t.Fatal("expected dots differing by client id to not be Identical")
	}
	if Identical(a, FromLamport(Lamport{Counter: 5})) {
		t.Fatal("expected clocks of different variants to never be Identical")
	}
}

func TestMaxPicksTheGreaterWhenComparable(t *testing.T) {
	a := FromLamport(Lamport{Counter: 1})
	b := FromLamport(Lamport{Counter: 5})

	if got := Max(a, b); !Identical(got, b) {
		t.Fatalf("Max(1, 5) = %+v, want %+v", got, b)
	}
	if got := Max(b, a); !Identical(got, b) {
		t.Fatalf("Max(5, 1) = %+v, want %+v", got, b)
	}
}

func TestMaxTieBreaksIncomparableDotsSymmetrically(t *testing.T) {
	a := FromDot(Dot{ClientID: 1, Counter: 5})
	b := FromDot(Dot{ClientID: 9, Counter: 5})

	ab := Max(a, b)
	ba := Max(b, a)
	if !Identical(ab, ba) {
		t.Fatalf("Max must be symmetric, got %+v vs %+v", ab, ba)
	}
	if !Identical(ab, b) {
		t.Fatalf("expected the higher client id to win the tiebreak, got %+v", ab)
	}
}

func TestMaxTieBreaksIncomparableSecureClocksSymmetrically(t *testing.T) {
	a := FromSecure(Secure{Counter: 2, Hash: 10})
	b := FromSecure(Secure{Counter: 2, Hash: 20})

	ab := Max(a, b)
	ba := Max(b, a)
	if !Identical(ab, ba) {
		t.Fatalf("Max must be symmetric, got %+v vs %+v", ab, ba)
	}
	if !Identical(ab, b) {
		t.Fatalf("expected the higher hash to win the tiebreak, got %+v", ab)
	}
}

func TestSecureVerifyDetectsTamperedValue(t *testing.T) {
	gen := SecureGenerator{}
	original := gen.NewClock(1, value.String("hello"))

	if !original.Secure().Verify(value.String("hello")) {
		t.Fatal("expected the clock to verify against the value it was stamped with")
	}
	if original.Secure().Verify(value.String("goodbye")) {
		t.Fatal("expected the clock to fail verification against a different value")
	}
}

func TestGeneratorsStampExpectedVariant(t *testing.T) {
	if v := (LamportGenerator{}).NewClock(1, value.Null()).Variant(); v != VariantLamport {
		t.Fatalf("LamportGenerator produced variant %v", v)
	}
	if v := (DotGenerator{ClientID: 4}).NewClock(1, value.Null()).Variant(); v != VariantDot {
		t.Fatalf("DotGenerator produced variant %v", v)
	}
	if v := (SecureGenerator{}).NewClock(1, value.Null()).Variant(); v != VariantSecure {
		t.Fatalf("SecureGenerator produced variant %v", v)
	}
}

func TestDotGeneratorStampsConfiguredClientID(t *testing.T) {
	gen := DotGenerator{ClientID: 42}
	c := gen.NewClock(7, value.Null())
	if c.Dot().ClientID != 42 || c.Dot().Counter != 7 {
		t.Fatalf("unexpected dot %+v", c.Dot())
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	cases := []ShelfClock{
		FromLamport(Lamport{Counter: 9}),
		FromDot(Dot{ClientID: 3, Counter: 9}),
		FromSecure(Secure{Hash: 0xABCD, Counter: 9}),
	}
	for _, c := range cases {
		data, err := c.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal %+v: %v", c, err)
		}
		got, err := UnmarshalJSONAs(data, c.Variant())
		if err != nil {
			t.Fatalf("unmarshal %+v: %v", c, err)
		}
		if !Identical(c, got) {
			t.Fatalf("round trip mismatch: %+v != %+v", c, got)
		}
	}
}
