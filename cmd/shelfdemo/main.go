package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shelfcrdt/shelf/internal/monitoring"
	"github.com/shelfcrdt/shelf/pkg/shelfcrdt"
)

func main() {
	ctx := context.Background()
	bus := shelfcrdt.NewLoopbackBus()

	// One Metrics instance shared by every Replica in this process: the
	// prometheus registry promauto registers against is process-global.
	metrics := monitoring.NewMetrics()

	alice, err := shelfcrdt.New(ctx, shelfcrdt.Options{
		ReplicaID:         "alice",
		NetworkID:         "demo-room",
		ClockVariant:      shelfcrdt.ClockSecure,
		AdvertiseInterval: 200 * time.Millisecond,
		Metrics:           metrics,
	}, bus.Register("alice"))
	if err != nil {
		log.Fatalf("start alice: %v", err)
	}
	defer alice.Shutdown()

	bob, err := shelfcrdt.New(ctx, shelfcrdt.Options{
		ReplicaID:         "bob",
		NetworkID:         "demo-room",
		ClockVariant:      shelfcrdt.ClockSecure,
		AdvertiseInterval: 200 * time.Millisecond,
		Metrics:           metrics,
	}, bus.Register("bob"))
	if err != nil {
		log.Fatalf("start bob: %v", err)
	}
	defer bob.Shutdown()

	fmt.Println("shelfdemo: two replicas started, exchanging Hello and advertising state vectors...")

	waitForPeers(alice, bob)

	if _, err := alice.Set([]string{"alice", "cursor_x"}, shelfcrdt.NewValue(shelfcrdt.Int(42))); err != nil {
		log.Fatalf("alice set: %v", err)
	}
	if _, err := bob.Set([]string{"bob", "status"}, shelfcrdt.NewValue(shelfcrdt.String("online"))); err != nil {
		log.Fatalf("bob set: %v", err)
	}

	fmt.Println("shelfdemo: waiting for convergence...")
	waitForValue(bob, []string{"alice", "cursor_x"})
	waitForValue(alice, []string{"bob", "status"})

	cursor, _ := bob.Get([]string{"alice", "cursor_x"})
	status, _ := alice.Get([]string{"bob", "status"})
	fmt.Printf("bob sees alice.cursor_x = %d\n", cursor.Value().AsInt())
	fmt.Printf("alice sees bob.status = %q\n", status.Value().AsString())
	fmt.Println("shelfdemo: converged.")
}

func waitForPeers(alice, bob *shelfcrdt.Replica) {
	for alice.PeerCount() == 0 || bob.PeerCount() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
}

func waitForValue(r *shelfcrdt.Replica, path []string) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Get(path); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	log.Fatalf("shelfdemo: timed out waiting for %v to converge", path)
}
