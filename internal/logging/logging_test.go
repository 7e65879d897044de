package logging

import (
	"errors"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("info", "json")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Expected Logger, got nil")
	}
	if logger.Logger == nil {
		t.Error("Expected zap.Logger to be initialized")
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger("invalid", "json")
	if err == nil {
		t.Error("Expected error for invalid log level")
	}
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	logger, err := NewLogger("debug", "console")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Expected Logger, got nil")
	}
}

func TestWithReplicaID(t *testing.T) {
	logger, _ := NewLogger("info", "json")
	replicaLogger := logger.WithReplicaID("replica-123")

	if replicaLogger == nil {
		t.Error("Expected logger with replica ID, got nil")
	}
}

func TestWithPeerID(t *testing.T) {
	logger, _ := NewLogger("info", "json")
	peerLogger := logger.WithPeerID("peer-456")

	if peerLogger == nil {
		t.Error("Expected logger with peer ID, got nil")
	}
}

func TestWithError(t *testing.T) {
	logger, _ := NewLogger("info", "json")
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)

	if errorLogger == nil {
		t.Error("Expected logger with error, got nil")
	}
}