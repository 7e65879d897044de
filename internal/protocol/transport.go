package protocol

import (
	"strings"
	"sync"
)

// InboundMessage is one message as delivered by a Transport.
type InboundMessage struct {
	Sender string
	Topic  string
	Data   []byte
}

// Transport is the abstract duplex channel a Session runs its delta
// protocol over (spec §6). Delivery is unordered, may duplicate, and may
// drop; Send is best-effort and never blocks the caller on a slow peer.
type Transport interface {
	// Send multicasts data under topic. A bare topic name ("advertise")
	// reaches every subscriber; "advertise:peer-7" reaches only peer-7.
	Send(topic string, data []byte) error
	// TryRecv is a non-blocking receive. ok is false when the inbox is
	// currently empty.
	TryRecv() (InboundMessage, bool)
}

// splitTopic separates a topic's broadcast name from an optional
// directed-recipient suffix, following the "name" / "name:peer-id"
// convention spec §6 assigns to Transport.send.
func splitTopic(topic string) (name, target string) {
	if i := strings.IndexByte(topic, ':'); i >= 0 {
		return topic[:i], topic[i+1:]
	}
	return topic, ""
}

// LoopbackBus is an in-memory reference Transport connecting every peer
// registered against it in the same process; it backs this module's own
// tests and demo binary. A real deployment wires protocol.Transport to
// whatever multicast fabric it already has.
type LoopbackBus struct {
	mu    sync.Mutex
	peers map[string]chan InboundMessage
}

// NewLoopbackBus creates an empty bus. Each peer later registered gets a
// buffered inbox of 256 messages (see Register); a full inbox drops the
// message, matching the transport's "may drop" contract.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{peers: make(map[string]chan InboundMessage)}
}

// Register attaches peerID to the bus and returns its Transport handle.
func (b *LoopbackBus) Register(peerID string) Transport {
	b.mu.Lock()
	defer b.mu.Unlock()
	inbox := make(chan InboundMessage, 256)
	b.peers[peerID] = inbox
	return &busTransport{bus: b, selfID: peerID, inbox: inbox}
}

// Unregister removes peerID from the bus; it will no longer receive or be
// reachable by directed sends.
func (b *LoopbackBus) Unregister(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, peerID)
}

type busTransport struct {
	bus    *LoopbackBus
	selfID string
	inbox  chan InboundMessage
}

func (t *busTransport) Send(topic string, data []byte) error {
	name, target := splitTopic(topic)
	payload := append([]byte(nil), data...)

	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	for peerID, inbox := range t.bus.peers {
		if peerID == t.selfID {
			continue
		}
		if target != "" && target != peerID {
			continue
		}
		select {
		case inbox <- InboundMessage{Sender: t.selfID, Topic: name, Data: payload}:
		default:
			// inbox full: drop, same as a lossy real transport would.
		}
	}
	return nil
}

func (t *busTransport) TryRecv() (InboundMessage, bool) {
	select {
	case msg := <-t.inbox:
		return msg, true
	default:
		return InboundMessage{}, false
	}
}
