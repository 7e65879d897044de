// Package protocol implements the per-peer delta-protocol state machine
// (spec §4.5) on top of an abstract Transport: periodic StateVector
// advertisement, delta computation and exchange, and Dilithium-signed
// envelope verification.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign"
	"github.com/shelfcrdt/shelf/internal/awareness"
	"github.com/shelfcrdt/shelf/internal/clock"
	"github.com/shelfcrdt/shelf/internal/identity"
	"github.com/shelfcrdt/shelf/internal/logging"
	"github.com/shelfcrdt/shelf/internal/monitoring"
	"github.com/shelfcrdt/shelf/internal/shelf"
	"github.com/shelfcrdt/shelf/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// State names the FSM position spec §4.5 assigns to a replica's session:
// Idle -> Advertising -> AwaitingDelta -> Applying -> Idle.
type State int

const (
	StateIdle State = iota
	StateAdvertising
	StateAwaitingDelta
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateAdvertising:
		return "advertising"
	case StateAwaitingDelta:
		return "awaiting_delta"
	case StateApplying:
		return "applying"
	default:
		return "idle"
	}
}

const advertiseTopic = "advertise"
const helloTopic = "hello"
const deltaTopic = "delta"
const terminateTopic = "terminate"

// Session is the goroutine-owned actor driving one replica's side of the
// delta protocol. It exclusively owns an *awareness.Awareness; every
// access (local Set/Get or a remote StateVector/Delta) is serialized
// through its command channel, so the Shelf tree itself needs no lock
// (spec §5).
type Session struct {
	selfID       string
	awareness    *awareness.Awareness
	transport    Transport
	signer       *identity.KeyPair
	valueVariant clock.Variant
	metrics      *monitoring.Metrics
	logger       *logging.Logger
	gcOnMerge    bool

	advertiseInterval time.Duration
	pollInterval      time.Duration

	peerKeys map[string]sign.PublicKey
	state    State

	networkID      string
	bootstrapPeers []string

	cmdCh chan func()
	ctx   context.Context
}

// New builds a Session ready to Run. metrics and logger may be nil, in
// which case observability is skipped.
func New(selfID string, aw *awareness.Awareness, transport Transport, signer *identity.KeyPair, valueVariant clock.Variant, advertiseInterval time.Duration, metrics *monitoring.Metrics, logger *logging.Logger) *Session {
	return &Session{
		selfID:            selfID,
		awareness:         aw,
		transport:         transport,
		signer:            signer,
		valueVariant:      valueVariant,
		metrics:           metrics,
		logger:            logger,
		advertiseInterval: advertiseInterval,
		pollInterval:      20 * time.Millisecond,
		peerKeys:          make(map[string]sign.PublicKey),
		state:             StateIdle,
		cmdCh:             make(chan func()),
		ctx:               context.Background(),
	}
}

// WithGarbageCollection enables running Prune after every applied merge
// (the garbage_collect_on_merge config option). Call before Run.
func (s *Session) WithGarbageCollection(enabled bool) *Session {
	s.gcOnMerge = enabled
	return s
}

// WithNetworkID scopes this session to one logical network (the network_id
// config option): inbound envelopes stamped with a different, non-empty
// Network are ignored, so several independent replica sets can share one
// Transport (e.g. one LoopbackBus in a test process) without cross-talk. An
// empty id (the default) disables the check, accepting any network.
func (s *Session) WithNetworkID(id string) *Session {
	s.networkID = id
	return s
}

// WithBootstrapPeers records peer ids to greet directly, in addition to the
// broadcast Hello every session already sends on startup (the
// bootstrap_peers config option). It matters for transports that do not
// flood to every registered peer; on a flooding transport like LoopbackBus
// the direct greet is redundant with the broadcast but harmless. Call
// before Run.
func (s *Session) WithBootstrapPeers(peers []string) *Session {
	s.bootstrapPeers = peers
	return s
}

// Run is the actor loop. It blocks until ctx is cancelled or a Terminate
// envelope is processed; both are treated as the FSM's terminal state.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	advertiseTicker := time.NewTicker(s.advertiseInterval)
	defer advertiseTicker.Stop()
	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	s.sendHello()

	for {
		select {
		case <-ctx.Done():
			return
		case <-advertiseTicker.C:
			s.advertise()
		case <-pollTicker.C:
			for {
				msg, ok := s.transport.TryRecv()
				if !ok {
					break
				}
				if !s.handleInbound(msg) {
					return
				}
			}
		case cmd := <-s.cmdCh:
			cmd()
		}
	}
}

// Set enqueues a local write onto the actor loop and waits for its result.
func (s *Session) Set(path []string, newValue *shelf.Shelf) (*shelf.Shelf, error) {
	type result struct {
		prev *shelf.Shelf
		err  error
	}
	resCh := make(chan result, 1)
	s.cmdCh <- func() {
		prev, err := s.awareness.Set(path, newValue)
		resCh <- result{prev, err}
	}
	r := <-resCh
	return r.prev, r.err
}

// SetWithToken is Set gated by the Awareness's configured SessionAuthorizer,
// for replicas that require a capability token on every local write.
func (s *Session) SetWithToken(path []string, newValue *shelf.Shelf, token string) (*shelf.Shelf, error) {
	type result struct {
		prev *shelf.Shelf
		err  error
	}
	resCh := make(chan result, 1)
	s.cmdCh <- func() {
		prev, err := s.awareness.SetWithToken(path, newValue, token)
		resCh <- result{prev, err}
	}
	r := <-resCh
	return r.prev, r.err
}

// Get reads path from the actor's owned tree.
func (s *Session) Get(path []string) (*shelf.Shelf, error) {
	type result struct {
		val *shelf.Shelf
		err error
	}
	resCh := make(chan result, 1)
	s.cmdCh <- func() {
		v, err := s.awareness.Get(path)
		resCh <- result{v, err}
	}
	r := <-resCh
	return r.val, r.err
}

// GetOwn reads this replica's own sub-tree, the namespace rooted at its own
// replica id, without the caller having to prepend its id to a path.
func (s *Session) GetOwn() (*shelf.Shelf, error) {
	type result struct {
		val *shelf.Shelf
		err error
	}
	resCh := make(chan result, 1)
	s.cmdCh <- func() {
		v, err := s.awareness.GetOwn()
		resCh <- result{v, err}
	}
	r := <-resCh
	return r.val, r.err
}

// State reports the FSM's current position, mainly for tests and logging.
// Like PeerCount, it is serialized through cmdCh: state and peerKeys are
// owned exclusively by the Run goroutine and must never be read directly
// from a caller's goroutine.
func (s *Session) State() State {
	resCh := make(chan State, 1)
	s.cmdCh <- func() { resCh <- s.state }
	return <-resCh
}

// Terminate broadcasts a Terminate envelope, the FSM's only way out of the
// loop besides context cancellation (spec §4.5).
func (s *Session) Terminate() {
	env := Seal(MsgTerminate, s.selfID, "", nil, s.signer)
	s.send(terminateTopic, env)
}

// PeerCount reports how many distinct peers this replica has exchanged a
// Hello with.
func (s *Session) PeerCount() int {
	resCh := make(chan int, 1)
	s.cmdCh <- func() { resCh <- len(s.peerKeys) }
	return <-resCh
}

func (s *Session) sendHello() {
	pub, err := s.signer.MarshalPublicKey()
	if err != nil {
		s.logErr("marshal public key for hello", err)
		return
	}
	payload, err := marshalJSON(HelloPayload{PublicKey: pub})
	if err != nil {
		s.logErr("encode hello payload", err)
		return
	}
	env := Seal(MsgHello, s.selfID, "", payload, s.signer)
	s.send(helloTopic, env)

	for _, peerID := range s.bootstrapPeers {
		if peerID == s.selfID {
			continue
		}
		directed := Seal(MsgHello, s.selfID, peerID, payload, s.signer)
		s.send(helloTopic+":"+peerID, directed)
	}
}

func (s *Session) advertise() {
	_, span := tracing.StartSpan(s.ctx, "protocol.advertise", attribute.String("replica_id", s.selfID))
	defer span.End()

	s.state = StateAdvertising
	sv := s.awareness.GetStateVector()
	payload, err := marshalJSON(sv)
	if err != nil {
		s.logErr("encode state vector", err)
		return
	}
	env := Seal(MsgStateVector, s.selfID, "", payload, s.signer)
	s.send(advertiseTopic, env)
	if s.metrics != nil {
		s.metrics.StateVectorsSent.Inc()
	}
	s.state = StateIdle
}

// handleInbound processes one received envelope. false tells Run to stop
// (a Terminate was admitted).
func (s *Session) handleInbound(msg InboundMessage) bool {
	env, err := ParseEnvelope(msg.Data)
	if err != nil {
		s.logErr("parse envelope", err)
		return true
	}
	if env.Recipient != "" && env.Recipient != s.selfID {
		return true // addressed elsewhere; spec §4.5 "ignored".
	}
	if s.networkID != "" && env.Network != "" && env.Network != s.networkID {
		return true // a different logical network sharing this transport.
	}

	switch env.Type {
	case MsgHello:
		s.handleHello(env)
	case MsgStateVector:
		s.handleStateVector(env)
	case MsgDelta:
		s.handleDelta(env)
	case MsgTerminate:
		s.logInfo("terminate received, shutting down session")
		return false
	default:
		s.logErr("unknown envelope type", fmt.Errorf("%q", env.Type))
	}
	return true
}

func (s *Session) handleHello(env Envelope) {
	var hello HelloPayload
	if err := unmarshalJSON(env.Payload, &hello); err != nil {
		s.logPeerErr("decode hello payload", env.Sender, err)
		return
	}
	pub, err := identity.UnmarshalPublicKey(hello.PublicKey)
	if err != nil {
		s.logPeerErr("unmarshal hello public key", env.Sender, err)
		return
	}
	if !identity.Verify(pub, env.Payload, env.Signature) {
		s.logPeerErr("hello signature", env.Sender, ErrIntegrityViolation)
		return
	}
	s.peerKeys[env.Sender] = pub
	if s.metrics != nil {
		s.metrics.ActivePeers.Set(float64(len(s.peerKeys)))
	}
}

func (s *Session) verify(env Envelope) bool {
	pub, known := s.peerKeys[env.Sender]
	if !known {
		// We haven't seen this peer's Hello yet; reintroduce ourselves so a
		// future re-advertisement can be verified, and drop this one.
		s.sendHello()
		return false
	}
	return identity.Verify(pub, env.Payload, env.Signature)
}

func (s *Session) handleStateVector(env Envelope) {
	_, span := tracing.StartSpan(s.ctx, "protocol.await_delta", attribute.String("replica_id", s.selfID), attribute.String("peer_id", env.Sender))
	defer span.End()

	s.state = StateAwaitingDelta
	defer func() { s.state = StateIdle }()

	if !s.verify(env) {
		return
	}
	sv, err := shelf.DecodeStateVector(env.Payload, s.valueVariant)
	if err != nil {
		s.logPeerErr("decode state vector", env.Sender, err)
		return
	}
	delta, ok := s.awareness.GetStateDelta(sv)
	if !ok {
		return
	}
	payload, err := marshalJSON(delta)
	if err != nil {
		s.logErr("encode delta", err)
		return
	}
	outEnv := Seal(MsgDelta, s.selfID, env.Sender, payload, s.signer)
	s.send(deltaTopic+":"+env.Sender, outEnv)
	if s.metrics != nil {
		s.metrics.DeltasSent.Inc()
	}
}

func (s *Session) handleDelta(env Envelope) {
	_, span := tracing.StartSpan(s.ctx, "protocol.apply", attribute.String("replica_id", s.selfID), attribute.String("peer_id", env.Sender))
	defer span.End()

	s.state = StateApplying
	defer func() { s.state = StateIdle }()

	if !s.verify(env) {
		return
	}
	decoder := shelf.Decoder{ValueVariant: s.valueVariant}
	delta, err := decoder.Decode(env.Payload)
	if err != nil {
		s.logPeerErr("decode delta", env.Sender, err)
		return
	}

	if s.metrics != nil {
		s.metrics.DeltasReceived.Inc()
	}

	start := time.Now()
	rejected := s.awareness.Merge(delta)
	if s.gcOnMerge {
		s.awareness.Prune()
		if s.metrics != nil {
			s.metrics.PruneOpsTotal.Inc()
		}
	}

	if s.metrics != nil {
		s.metrics.MergesTotal.Inc()
		s.metrics.MergeDuration.Observe(time.Since(start).Seconds())
		if rejected > 0 {
			s.metrics.RejectedLeavesTotal.Add(float64(rejected))
		}
		if root := s.awareness.Root(); root != nil {
			s.metrics.ShelfNodeCount.Set(float64(root.NodeCount()))
		}
	}
}

func (s *Session) send(topic string, env Envelope) {
	env.Network = s.networkID
	data, err := Marshal(env)
	if err != nil {
		s.logErr("marshal envelope", err)
		return
	}
	if err := s.transport.Send(topic, data); err != nil {
		s.logErr("transport send", err)
		return
	}
	if s.metrics != nil {
		s.metrics.BytesTransferred.Add(float64(len(data)))
	}
}

func (s *Session) logErr(msg string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WithError(err).With(zap.String("replica_id", s.selfID)).Warn(msg)
}

func (s *Session) logInfo(msg string) {
	if s.logger == nil {
		return
	}
	s.logger.WithReplicaID(s.selfID).Info(msg)
}

// logPeerErr is logErr plus the remote peer id, for failures attributable
// to a specific sender (a malformed or misauthenticated envelope) rather
// than to this replica's own local state.
func (s *Session) logPeerErr(msg string, peerID string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WithPeerID(peerID).With(zap.String("replica_id", s.selfID), zap.Error(err)).Warn(msg)
}
