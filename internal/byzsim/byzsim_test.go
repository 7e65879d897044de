package byzsim

import "testing"

func TestHonestReplicasConvergeWithNoByzantineNodes(t *testing.T) {
	res := Run(1, Config{Replicas: 5, ByzantineFraction: 0, Rounds: 2})
	if res.ByzantineReplicas != 0 {
		t.Fatalf("expected no byzantine replicas, got %d", res.ByzantineReplicas)
	}
	if res.RejectedLeaves != 0 {
		t.Fatalf("expected zero rejections with no byzantine replicas, got %d", res.RejectedLeaves)
	}
	if !res.HonestRootsEqual {
		t.Fatal("honest replicas failed to converge with no byzantine replicas present")
	}
}

func TestConvergenceHoldsWithFortyPercentByzantine(t *testing.T) {
	res := Run(7, Config{Replicas: 10, ByzantineFraction: 0.4, Rounds: 2})
	if res.ByzantineReplicas != 4 {
		t.Fatalf("expected 4 byzantine replicas out of 10, got %d", res.ByzantineReplicas)
	}
	if !res.HonestRootsEqual {
		t.Fatal("honest replicas failed to converge despite secure_merge's tamper rejection")
	}
}

func TestTamperedLeavesAreRejected(t *testing.T) {
	res := Run(3, Config{Replicas: 6, ByzantineFraction: 0.5, Rounds: 1})
	if res.RejectedLeaves == 0 {
		t.Fatal("expected at least one rejected leaf with half the replicas byzantine")
	}
}

func TestZeroRoundsIsANoOp(t *testing.T) {
	res := Run(9, Config{Replicas: 4, ByzantineFraction: 0.25, Rounds: 0})
	if res.RejectedLeaves != 0 {
		t.Fatalf("expected zero rejections with zero gossip rounds, got %d", res.RejectedLeaves)
	}
	if !res.HonestRootsEqual {
		t.Fatal("expected trivially equal (empty) honest roots with zero rounds")
	}
}
