// Package shelfcrdt is the public facade over the internal Shelf CRDT
// engine: it wires config, awareness, identity, and protocol together the
// way pkg/knirvbase wires collection/database/storage together in the
// teacher repo, so a caller never has to reach into internal/ directly.
package shelfcrdt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelfcrdt/shelf/internal/awareness"
	"github.com/shelfcrdt/shelf/internal/clock"
	"github.com/shelfcrdt/shelf/internal/config"
	"github.com/shelfcrdt/shelf/internal/identity"
	"github.com/shelfcrdt/shelf/internal/logging"
	"github.com/shelfcrdt/shelf/internal/monitoring"
	"github.com/shelfcrdt/shelf/internal/protocol"
	"github.com/shelfcrdt/shelf/internal/shelf"
	"github.com/shelfcrdt/shelf/internal/tracing"
	"github.com/shelfcrdt/shelf/internal/value"
)

// tracingOnce guards otel.SetTracerProvider, a process-global call: a
// process hosting several Replicas with TracingEndpoint set must still only
// install one TracerProvider, the same constraint promauto's default
// registry puts on Metrics below.
var (
	tracingOnce sync.Once
	tracingErr  error
)

// Transport and LoopbackBus are re-exported so a caller can implement its
// own transport, or use the in-memory reference one, without importing
// internal/protocol directly.
type Transport = protocol.Transport
type LoopbackBus = protocol.LoopbackBus

// NewLoopbackBus builds an in-memory Transport hub, suitable for tests and
// single-process demos.
func NewLoopbackBus() *LoopbackBus { return protocol.NewLoopbackBus() }

// State is the delta-protocol FSM position (spec §4.5): Idle, Advertising,
// AwaitingDelta, or Applying.
type State = protocol.State

// Shelf is the recursive tree node type returned by Get/Set: either a Map
// of named children or a clocked Value leaf.
type Shelf = shelf.Shelf

// ClockVariant selects which clock family backs a replica's value nodes.
type ClockVariant = config.ClockVariant

const (
	ClockLamport = config.ClockLamport
	ClockDot     = config.ClockDot
	ClockSecure  = config.ClockSecure
)

// Value is the Shelf leaf payload type: a closed sum of JSON-like scalars
// plus arrays. The constructors below re-export internal/value's so a
// caller never has to import it directly.
type Value = value.Value

func String(s string) Value      { return value.String(s) }
func Bool(b bool) Value          { return value.Bool(b) }
func Int(i int64) Value          { return value.Int(i) }
func Float(f float32) Value      { return value.Float(f) }
func Null() Value                { return value.Null() }
func Array(items ...Value) Value { return value.Array(items...) }

// NewMap builds an intermediate Map node, e.g. to create a fresh namespace
// before writing into it.
var NewMap = shelf.NewMap

// Equal reports structural equality between two Shelf trees (spec invariant
// 4): Map-vs-Map equality only requires the clocks' logical counters to
// match, not a byte-identical clock.
var Equal = shelf.Equal

// NewValue builds a leaf Shelf ready to pass to Set/SetWithToken. Its clock
// is a placeholder: Set discards and recomputes it so the write is
// strictly newer than the parent map, the previous version at that path,
// and that previous version's children (spec §4.4).
func NewValue(v Value) *shelf.Shelf {
	return shelf.NewValue(v, clock.FromLamport(clock.Lamport{}))
}

// Options configures a Replica. Zero-valued fields fall back to
// config.Default()'s choices; a blank ReplicaID gets a random uuid so a
// quick demo never has to invent one.
type Options struct {
	ReplicaID             string
	NetworkID             string
	ClockVariant          ClockVariant
	AdvertiseInterval     time.Duration
	GarbageCollectOnMerge bool

	// BootstrapPeers are ids to greet directly on startup, in addition to
	// the protocol's usual broadcast Hello; see protocol.Session's
	// WithBootstrapPeers. Meaningful on a point-to-point transport; a
	// no-op (but harmless) on a flooding one like LoopbackBus.
	BootstrapPeers []string

	// AuthorizerSecret, when non-empty, gates every local write behind a
	// JWT capability token scoped to (replica id, path prefix); see
	// internal/identity.Authorizer. Leave blank to allow unrestricted
	// local writes.
	AuthorizerSecret string

	// DisableMetrics skips building a *monitoring.Metrics when Metrics is
	// left nil, the metrics_enabled config option inverted (Replica
	// defaults to metrics on, matching config.Default).
	DisableMetrics bool

	// TracingEndpoint, when non-empty, installs a Jaeger-backed
	// TracerProvider (internal/tracing.InitTracer) so the spans
	// protocol.Session already opens around each advertise, state-vector
	// and delta step are actually exported instead of landing in the no-op
	// tracer.
	TracingEndpoint string

	// Metrics and Logger may be shared across several Replicas living in
	// the same process: promauto panics on duplicate metric registration,
	// so a process hosting more than one Replica must pass the same
	// *monitoring.Metrics to each. Left nil, a Replica builds its own.
	Metrics *monitoring.Metrics
	Logger  *logging.Logger
}

// Replica is the public handle to one running delta-protocol participant.
type Replica struct {
	id      string
	session *protocol.Session
	issuer  *identity.TokenIssuer
	cancel  context.CancelFunc
}

// New builds a Replica and starts its session actor goroutine communicating
// over transport. The goroutine runs until ctx is cancelled or Shutdown is
// called.
func New(ctx context.Context, opts Options, transport Transport) (*Replica, error) {
	cfg := config.Default()
	cfg.ReplicaID = opts.ReplicaID
	if cfg.ReplicaID == "" {
		cfg.ReplicaID = uuid.New().String()
	}
	cfg.NetworkID = opts.NetworkID
	if cfg.NetworkID == "" {
		cfg.NetworkID = "default"
	}
	if opts.ClockVariant != "" {
		cfg.ClockVariant = opts.ClockVariant
	}
	cfg.GarbageCollectOnMerge = opts.GarbageCollectOnMerge
	cfg.BootstrapPeers = opts.BootstrapPeers
	cfg.MetricsEnabled = !opts.DisableMetrics
	if opts.TracingEndpoint != "" {
		cfg.TracingEndpoint = opts.TracingEndpoint
	}
	if opts.AdvertiseInterval > 0 {
		cfg.AdvertiseIntervalMS = int(opts.AdvertiseInterval / time.Millisecond)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("shelfcrdt: %w", err)
	}

	gen, err := cfg.ValueGenerator()
	if err != nil {
		return nil, fmt.Errorf("shelfcrdt: %w", err)
	}

	aw := awareness.New(cfg.ReplicaID, gen)

	var issuer *identity.TokenIssuer
	if opts.AuthorizerSecret != "" {
		issuer = identity.NewTokenIssuer(opts.AuthorizerSecret, 24*time.Hour)
		aw.WithAuthorizer(identity.NewAuthorizer(opts.AuthorizerSecret))
	}

	signer, err := identity.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("shelfcrdt: generate signing key: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return nil, fmt.Errorf("shelfcrdt: %w", err)
		}
	}
	metrics := opts.Metrics
	if metrics == nil && cfg.MetricsEnabled {
		metrics = monitoring.NewMetrics()
	}

	if cfg.TracingEndpoint != "" {
		tracingOnce.Do(func() { _, tracingErr = tracing.InitTracer("shelfcrdt", cfg.TracingEndpoint) })
		if tracingErr != nil {
			logger.Logger.With(zap.Error(tracingErr)).Warn("init tracer")
		}
	}

	sess := protocol.New(cfg.ReplicaID, aw, transport, signer, gen.Variant(), cfg.AdvertiseInterval(), metrics, logger).
		WithGarbageCollection(cfg.GarbageCollectOnMerge).
		WithNetworkID(cfg.NetworkID).
		WithBootstrapPeers(cfg.BootstrapPeers)

	runCtx, cancel := context.WithCancel(ctx)
	go sess.Run(runCtx)

	return &Replica{id: cfg.ReplicaID, session: sess, issuer: issuer, cancel: cancel}, nil
}

// ID returns the replica identity this Replica was constructed with.
func (r *Replica) ID() string { return r.id }

// Set writes newValue at path. Every path segment but the last must
// already resolve to an existing Map (spec §4.4); the first segment is
// conventionally the replica's own id.
func (r *Replica) Set(path []string, newValue *shelf.Shelf) (*shelf.Shelf, error) {
	return r.session.Set(path, newValue)
}

// SetWithToken is Set gated by a capability token minted with IssueToken.
func (r *Replica) SetWithToken(path []string, newValue *shelf.Shelf, token string) (*shelf.Shelf, error) {
	return r.session.SetWithToken(path, newValue, token)
}

// Get performs a read-only descent from the root.
func (r *Replica) Get(path []string) (*shelf.Shelf, error) {
	return r.session.Get(path)
}

// GetOwn reads this replica's own sub-tree, equivalent to
// Get([]string{r.ID()}) but without needing the caller to know its id.
func (r *Replica) GetOwn() (*shelf.Shelf, error) {
	return r.session.GetOwn()
}

// IssueToken mints a capability token scoped to (replicaID, pathPrefix).
// It errors if this Replica was built without AuthorizerSecret.
func (r *Replica) IssueToken(replicaID string, pathPrefix string) (string, error) {
	if r.issuer == nil {
		return "", fmt.Errorf("shelfcrdt: replica %s has no authorizer configured", r.id)
	}
	return r.issuer.Issue(replicaID, pathPrefix)
}

// PeerCount reports how many distinct peers this replica has exchanged a
// Hello with.
func (r *Replica) PeerCount() int { return r.session.PeerCount() }

// State reports the delta-protocol FSM's current position.
func (r *Replica) State() State { return r.session.State() }

// Shutdown broadcasts a Terminate envelope to every peer and stops this
// replica's session goroutine.
func (r *Replica) Shutdown() {
	r.session.Terminate()
	r.cancel()
}
