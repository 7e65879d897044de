package monitoring

import (
	"testing"
)

func TestNewMetrics(t *testing.T) {
	metrics := NewMetrics()
	if metrics == nil {
		t.Fatal("Expected Metrics, got nil")
	}

	if metrics.MergesTotal == nil {
		t.Error("Expected MergesTotal to be initialized")
	}
	if metrics.MergeDuration == nil {
		t.Error("Expected MergeDuration to be initialized")
	}
	if metrics.DeltasSent == nil {
		t.Error("Expected DeltasSent to be initialized")
	}
	if metrics.DeltasReceived == nil {
		t.Error("Expected DeltasReceived to be initialized")
	}
	if metrics.StateVectorsSent == nil {
		t.Error("Expected StateVectorsSent to be initialized")
	}
	if metrics.BytesTransferred == nil {
		t.Error("Expected BytesTransferred to be initialized")
	}
	if metrics.RejectedLeavesTotal == nil {
		t.Error("Expected RejectedLeavesTotal to be initialized")
	}
	if metrics.ActivePeers == nil {
		t.Error("Expected ActivePeers to be initialized")
	}
	if metrics.ShelfNodeCount == nil {
		t.Error("Expected ShelfNodeCount to be initialized")
	}
	if metrics.PruneOpsTotal == nil {
		t.Error("Expected PruneOpsTotal to be initialized")
	}
}
