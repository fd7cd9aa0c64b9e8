package flagbind

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// recheckTimeout bounds the readiness probe made after deferred listeners are
// armed, catching a ready or failed event emitted before they were attached.
const recheckTimeout = time.Millisecond

var errClientFailed = errors.New("flagbind: client failed")

// Config is the immutable configuration of a [Provider].
type Config struct {
	// ClientID identifies the environment to the flag service. Required
	// unless Client or ClientFunc is set.
	ClientID string
	// Context is the evaluation subject.
	Context *EvalContext
	// User is the evaluation subject when Context is nil.
	//
	// Deprecated: use Context.
	User *EvalContext
	// DeferInit postpones initialization until a context is available,
	// either from Context/User or a later SetContext.
	DeferInit bool
	// ClientOptions are passed to Initialize. Inline bootstrap flags seed the
	// provider before initialization.
	ClientOptions ClientOptions
	// KeepOriginalKeys exposes flag keys as the flag service knows them
	// instead of camel-casing them.
	KeepOriginalKeys bool
	// DisableEvaluationEvents makes FlagView reads return cached values
	// without calling the client.
	DisableEvaluationEvents bool
	// TargetFlags restricts the provider to these keys; the values are the
	// defaults used when fetching them.
	TargetFlags FlagSet
	// Client is an already initialized client owned by the caller.
	Client Client
	// ClientFunc resolves a caller-owned client. A nil client without error
	// falls back to Initialize.
	ClientFunc func(ctx context.Context) (Client, error)
	// InitTimeout bounds the readiness wait. Zero waits without limit.
	InitTimeout time.Duration
	// Initialize constructs the client when none is supplied.
	Initialize InitializeFunc
}

func (c Config) validate() error {
	if c.InitTimeout < 0 {
		return &ConfigError{Field: "InitTimeout", Reason: "must not be negative"}
	}
	if c.Client != nil || c.ClientFunc != nil {
		return nil
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return &ConfigError{Field: "ClientID", Reason: "is required"}
	}
	if c.Initialize == nil {
		return &ConfigError{Field: "Initialize", Reason: "is required when no client is supplied"}
	}
	return nil
}

// Snapshot is the state a provider exposes to consumers. It is never
// modified after it is published.
type Snapshot struct {
	Flags      FlagView
	FlagKeyMap FlagKeyMap
	Client     Client
	Err        error
}

type state struct {
	// unproxied holds the raw values in original keys.
	unproxied FlagSet
	client    Client
	err       error
	snap      Snapshot
}

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

// Provider keeps a flag snapshot in sync with an evaluation client.
type Provider struct {
	cfg  Config
	opts options

	mu sync.RWMutex
	st state

	// notifyMu serializes state transitions with their notifications so
	// subscribers observe snapshots in commit order.
	notifyMu sync.Mutex
	subsMu   sync.Mutex
	subs     []subscriber
	nextSub  uint64

	lifeMu      sync.Mutex
	current     *EvalContext
	started     bool
	initStarted bool
	stopped     bool
	client      Client
	listeners   map[EventName]ListenerID

	settled atomic.Bool
	// halted mirrors stopped for client callbacks, which must not take lifeMu.
	halted atomic.Bool
}

// New validates cfg and returns a provider seeded from inline bootstrap
// flags. Nothing is contacted until Start.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:       cfg,
		opts:      buildOptions(opts),
		listeners: make(map[EventName]ListenerID, 3),
	}
	switch {
	case cfg.Context != nil:
		p.current = cfg.Context
	case cfg.User != nil:
		p.current = cfg.User
	}

	p.st = state{unproxied: mergeFlags(nil, cfg.ClientOptions.inlineBootstrap())}
	p.st.snap = p.derive(p.st)

	return p, nil
}

// StartAsync builds a provider and initializes it before returning,
// regardless of DeferInit.
func StartAsync(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	cfg.DeferInit = false
	p, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	p.Start(ctx)
	return p, nil
}

// Start initializes the provider and blocks until the client is ready, has
// failed, or InitTimeout elapsed. With DeferInit and no context yet it
// returns immediately. Client failures are reported through Snapshot().Err.
// Calls after the first, or after Stop, do nothing.
func (p *Provider) Start(ctx context.Context) {
	p.lifeMu.Lock()
	if p.started || p.stopped {
		p.lifeMu.Unlock()
		return
	}
	p.started = true
	if p.cfg.DeferInit && p.current == nil {
		p.lifeMu.Unlock()
		p.opts.logger.Debug("flag initialization deferred until a context is set")
		return
	}
	p.initStarted = true
	evalCtx := resolveContext(p.current, nil)
	p.lifeMu.Unlock()

	p.initialize(ctx, evalCtx)
}

// SetContext supplies the evaluation context. For a started provider with
// DeferInit it triggers initialization on the first context only; later
// contexts are recorded but do not re-initialize.
func (p *Provider) SetContext(ctx context.Context, evalCtx EvalContext) {
	p.lifeMu.Lock()
	arrived := p.current == nil
	p.current = &evalCtx
	run := arrived && p.cfg.DeferInit && p.started && !p.initStarted && !p.stopped
	if run {
		p.initStarted = true
	}
	p.lifeMu.Unlock()

	if run {
		p.initialize(ctx, evalCtx)
	}
}

// Stop removes every listener the provider may have attached to the client.
// The client itself is left running. Stop is idempotent.
func (p *Provider) Stop() {
	p.lifeMu.Lock()
	if p.stopped {
		p.lifeMu.Unlock()
		return
	}
	p.stopped = true
	p.halted.Store(true)
	client := p.client
	listeners := p.listeners
	p.listeners = nil
	p.lifeMu.Unlock()

	if client == nil {
		return
	}
	for _, name := range []EventName{EventChange, EventReady, EventFailed} {
		client.Off(name, listeners[name])
	}
}

// Snapshot returns the current state.
func (p *Provider) Snapshot() Snapshot {
	p.mu.RLock()
	snap := p.st.snap
	p.mu.RUnlock()

	return snap.withKeyMapCopy()
}

// withKeyMapCopy detaches the only mutable field of a published snapshot.
func (s Snapshot) withKeyMapCopy() Snapshot {
	keyMap := make(FlagKeyMap, len(s.FlagKeyMap))
	for k, v := range s.FlagKeyMap {
		keyMap[k] = v
	}
	s.FlagKeyMap = keyMap
	return s
}

// Subscribe calls fn with every new snapshot, in commit order, until the
// returned cancel function is called. fn runs synchronously with the state
// transition and must not call Start or SetContext.
func (p *Provider) Subscribe(fn func(Snapshot)) (cancel func()) {
	p.subsMu.Lock()
	p.nextSub++
	id := p.nextSub
	p.subs = append(p.subs, subscriber{id: id, fn: fn})
	p.subsMu.Unlock()

	return func() {
		p.subsMu.Lock()
		defer p.subsMu.Unlock()
		for i, s := range p.subs {
			if s.id == id {
				p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
				return
			}
		}
	}
}

func (p *Provider) initialize(ctx context.Context, evalCtx EvalContext) {
	ctx, span := p.opts.tracer.Start(ctx, "flagbind.initialize", trace.WithAttributes(
		attribute.String("flagbind.context.kind", evalCtx.Kind),
		attribute.Bool("flagbind.deferred", p.cfg.DeferInit),
	))
	defer span.End()

	started := time.Now()
	res := prepare(ctx, &p.cfg, evalCtx)
	elapsed := time.Since(started)

	outcome := OutcomeReady
	switch {
	case res.timedOut:
		outcome = OutcomeTimeout
		p.opts.logger.Warn("flag client not ready before timeout, keeping bootstrap flags",
			"timeout", p.cfg.InitTimeout, "error", res.err)
	case res.err != nil:
		outcome = OutcomeFailed
		p.opts.logger.Error("flag client initialization failed", "error", res.err)
	default:
		p.opts.logger.Info("flag client initialized",
			"flags", len(res.flags), "provided", res.provided, "duration", elapsed)
	}
	p.opts.recorder.InitCompleted(outcome, elapsed)
	span.SetAttributes(
		attribute.String("flagbind.outcome", outcome),
		attribute.Bool("flagbind.client.provided", res.provided),
	)
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}

	p.update(func(st state) state {
		if res.client != nil {
			st.client = res.client
		}
		st.err = res.err
		switch {
		case res.err == nil:
			st.unproxied = mergeFlags(st.unproxied, res.flags)
		case !res.timedOut:
			st.unproxied = FlagSet{}
		}
		return st
	})

	if res.client == nil || !p.listen(res.client, res.timedOut) {
		return
	}
	if res.timedOut {
		p.recheck(ctx, res.client)
	}
}

// listen attaches the change listener and, after a timeout, the deferred
// ready and failed listeners. It reports false when the provider was stopped
// in the meantime.
func (p *Provider) listen(client Client, deferred bool) bool {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.stopped {
		return false
	}

	p.client = client
	p.listeners[EventChange] = client.On(EventChange, p.handleChange)
	if deferred {
		p.listeners[EventReady] = client.On(EventReady, p.handleReady)
		p.listeners[EventFailed] = client.On(EventFailed, p.handleFailed)
	}
	return true
}

func (p *Provider) recheck(ctx context.Context, client Client) {
	err := client.WaitForInitialization(context.WithoutCancel(ctx), recheckTimeout)
	if p.settled.Load() || p.halted.Load() {
		return
	}
	switch {
	case err == nil:
		p.handleReady(Event{Name: EventReady})
	case !IsTimeout(err):
		p.handleFailed(Event{Name: EventFailed, Err: err})
	}
}

func (p *Provider) handleChange(ev Event) {
	if p.halted.Load() {
		return
	}
	flags := ReduceChangeset(ev.Changes, p.cfg.TargetFlags, false)
	if len(flags) == 0 {
		p.opts.recorder.ChangeProcessed(false)
		return
	}

	p.update(func(st state) state {
		st.unproxied = mergeFlags(st.unproxied, flags)
		return st
	})
	p.opts.recorder.ChangeProcessed(true)
	p.opts.logger.Debug("flag changes applied", "count", len(flags))
}

// handleReady replaces the flags once a timed out client becomes ready and
// clears the timeout error.
func (p *Provider) handleReady(Event) {
	if p.halted.Load() {
		return
	}
	p.settled.Store(true)

	p.mu.RLock()
	client := p.st.client
	p.mu.RUnlock()
	if client == nil {
		return
	}

	flags := fetchFlags(client, p.cfg.TargetFlags)
	p.update(func(st state) state {
		st.unproxied = flags
		st.err = nil
		return st
	})
	p.opts.recorder.DeferredEvent(EventReady)
	p.opts.logger.Info("flag client became ready after timeout", "flags", len(flags))
}

func (p *Provider) handleFailed(ev Event) {
	if p.halted.Load() {
		return
	}
	p.settled.Store(true)

	err := ev.Err
	if err == nil {
		err = errClientFailed
	}
	p.update(func(st state) state {
		st.err = err
		return st
	})
	p.opts.recorder.DeferredEvent(EventFailed)
	p.opts.logger.Error("flag client failed after timeout", "error", err)
}

// update applies fn to the latest state, republishes the derived snapshot
// and notifies subscribers.
func (p *Provider) update(fn func(state) state) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	next := fn(p.st)
	next.snap = p.derive(next)
	p.st = next
	snap := next.snap
	p.mu.Unlock()

	p.opts.recorder.FlagsExposed(snap.Flags.Len())

	p.subsMu.Lock()
	subs := append([]subscriber(nil), p.subs...)
	p.subsMu.Unlock()
	for _, s := range subs {
		s.fn(snap.withKeyMapCopy())
	}
}

func (p *Provider) derive(st state) Snapshot {
	flags := FilterFlags(st.unproxied, p.cfg.TargetFlags)
	keyMap := FlagKeyMap{}
	if !p.cfg.KeepOriginalKeys {
		flags, keyMap = NormalizeKeys(flags)
	}

	return Snapshot{
		Flags:      WrapFlags(st.client, flags, keyMap, !p.cfg.DisableEvaluationEvents),
		FlagKeyMap: keyMap,
		Client:     st.client,
		Err:        st.err,
	}
}
