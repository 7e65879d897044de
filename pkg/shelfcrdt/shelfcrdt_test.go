package shelfcrdt

import (
	"context"
	"testing"
	"time"

	"github.com/shelfcrdt/shelf/internal/monitoring"
)

// sharedMetrics is reused across every test in this file: promauto
// registers against the global default registry, so a second
// monitoring.NewMetrics() call in the same process panics on duplicate
// registration. Production callers hosting one Replica per process never
// hit this; Options.Metrics exists precisely for multi-Replica processes
// (see shelfcrdt.go) and that is what the tests exercise here too.
var sharedMetrics = monitoring.NewMetrics()

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestTwoReplicasConvergeOverLoopback(t *testing.T) {
	bus := NewLoopbackBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, Options{ReplicaID: "a", NetworkID: "n1", AdvertiseInterval: 15 * time.Millisecond, Metrics: sharedMetrics}, bus.Register("a"))
	if err != nil {
		t.Fatalf("new replica a: %v", err)
	}
	defer a.Shutdown()

	b, err := New(ctx, Options{ReplicaID: "b", NetworkID: "n1", AdvertiseInterval: 15 * time.Millisecond, Metrics: sharedMetrics}, bus.Register("b"))
	if err != nil {
		t.Fatalf("new replica b: %v", err)
	}
	defer b.Shutdown()

	waitFor(t, time.Second, func() bool { return a.PeerCount() >= 1 && b.PeerCount() >= 1 })

	if _, err := a.Set([]string{"a", "greeting"}, NewValue(String("hello"))); err != nil {
		t.Fatalf("set: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		got, err := b.Get([]string{"a", "greeting"})
		return err == nil && got.Value().AsString() == "hello"
	})
}

func TestGetOwnMatchesGetByOwnID(t *testing.T) {
	bus := NewLoopbackBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := New(ctx, Options{ReplicaID: "self", NetworkID: "n1", Metrics: sharedMetrics}, bus.Register("self"))
	if err != nil {
		t.Fatalf("new replica: %v", err)
	}
	defer r.Shutdown()

	if _, err := r.Set([]string{"self", "x"}, NewValue(Int(1))); err != nil {
		t.Fatalf("set: %v", err)
	}

	own, err := r.GetOwn()
	if err != nil {
		t.Fatalf("get own: %v", err)
	}
	byID, err := r.Get([]string{"self"})
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if !Equal(own, byID) {
		t.Fatal("expected GetOwn() to match Get([]string{r.ID()})")
	}
}

func TestReplicaGetsRandomIDWhenBlank(t *testing.T) {
	bus := NewLoopbackBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := New(ctx, Options{NetworkID: "n1", Metrics: sharedMetrics}, bus.Register("whatever"))
	if err != nil {
		t.Fatalf("new replica: %v", err)
	}
	defer r.Shutdown()

	if r.ID() == "" {
		t.Fatal("expected a generated replica id, got empty string")
	}
}

func TestAuthorizerGatesWritesWithoutToken(t *testing.T) {
	bus := NewLoopbackBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := New(ctx, Options{ReplicaID: "secured", NetworkID: "n1", AuthorizerSecret: "topsecret", Metrics: sharedMetrics}, bus.Register("secured"))
	if err != nil {
		t.Fatalf("new replica: %v", err)
	}
	defer r.Shutdown()

	if _, err := r.SetWithToken([]string{"secured", "x"}, NewValue(Int(1)), "not-a-real-token"); err == nil {
		t.Fatal("expected SetWithToken to reject an invalid token")
	}

	token, err := r.IssueToken("secured", "secured/x")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := r.SetWithToken([]string{"secured", "x"}, NewValue(Int(1)), token); err != nil {
		t.Fatalf("expected SetWithToken to accept a freshly issued token: %v", err)
	}
}

func TestNetworkIDIsolatesReplicasSharingATransport(t *testing.T) {
	bus := NewLoopbackBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, Options{ReplicaID: "net-a", NetworkID: "alpha", AdvertiseInterval: 15 * time.Millisecond, Metrics: sharedMetrics}, bus.Register("net-a"))
	if err != nil {
		t.Fatalf("new replica a: %v", err)
	}
	defer a.Shutdown()

	b, err := New(ctx, Options{ReplicaID: "net-b", NetworkID: "beta", AdvertiseInterval: 15 * time.Millisecond, Metrics: sharedMetrics}, bus.Register("net-b"))
	if err != nil {
		t.Fatalf("new replica b: %v", err)
	}
	defer b.Shutdown()

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if a.PeerCount() != 0 || b.PeerCount() != 0 {
			t.Fatal("expected replicas on different networks to never discover each other")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestBootstrapPeersReachesDirectly(t *testing.T) {
	bus := NewLoopbackBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, Options{ReplicaID: "boot-a", NetworkID: "n1", AdvertiseInterval: 15 * time.Millisecond, BootstrapPeers: []string{"boot-b"}, Metrics: sharedMetrics}, bus.Register("boot-a"))
	if err != nil {
		t.Fatalf("new replica a: %v", err)
	}
	defer a.Shutdown()

	b, err := New(ctx, Options{ReplicaID: "boot-b", NetworkID: "n1", AdvertiseInterval: 15 * time.Millisecond, Metrics: sharedMetrics}, bus.Register("boot-b"))
	if err != nil {
		t.Fatalf("new replica b: %v", err)
	}
	defer b.Shutdown()

	waitFor(t, time.Second, func() bool { return b.PeerCount() >= 1 })
}

func TestDisableMetricsSkipsMetricsConstruction(t *testing.T) {
	bus := NewLoopbackBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics is left nil and DisableMetrics is set: if the gate in New
	// didn't actually skip monitoring.NewMetrics(), this would panic on
	// duplicate promauto registration against the registry sharedMetrics
	// already registered against at package init.
	r, err := New(ctx, Options{ReplicaID: "no-metrics", NetworkID: "n1", DisableMetrics: true}, bus.Register("no-metrics"))
	if err != nil {
		t.Fatalf("new replica: %v", err)
	}
	defer r.Shutdown()
}
