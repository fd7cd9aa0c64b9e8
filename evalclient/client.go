// Package evalclient is a flagbind evaluation client for the flagz feature
// flag service. It evaluates every flag for one context over HTTP, keeps the
// results in memory and follows the server-sent event stream to report
// changes.
package evalclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matt-riley/flagbind"
)

const (
	defaultRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
	bestEffortTimeout   = 2 * time.Second
	defaultContextKind  = "user"

	// anonymousCacheKey stands in for generated anonymous keys in the Store so
	// a restarted client finds what the previous run saved.
	anonymousCacheKey = "$anonymous"
)

// Store persists the last known flag values of a context.
type Store interface {
	Load(ctx context.Context, clientID, contextKey string) (flagbind.FlagSet, error)
	Save(ctx context.Context, clientID, contextKey string, flags flagbind.FlagSet) error
}

// Config holds configuration for the evaluation client.
type Config struct {
	// BaseURL is the base URL of the flagz server, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient is optional; defaults to http.DefaultClient. It is also used
	// for the event stream, so it should not set a short Timeout.
	HTTPClient *http.Client
	// Store is optional. It backs flagbind.BootstrapFromCache and receives
	// every flag update.
	Store Store
	// Logger is optional; defaults to slog.Default().
	Logger *slog.Logger
	// OnEvaluation is called for every Variation.
	OnEvaluation func(key string, value any)
	// RetryBackoff is the first delay between failed loads and stream
	// reconnects. It doubles up to 30s.
	RetryBackoff time.Duration
}

// Client implements flagbind.Client against a flagz server.
type Client struct {
	cfg        Config
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	evalCtx    flagbind.EvalContext
	contextKey string
	opts       flagbind.ClientOptions

	mu          sync.RWMutex
	flags       flagbind.FlagSet
	lastEventID int64

	events emitter

	settleOnce sync.Once
	ready      chan struct{}
	failed     chan struct{}
	loadErr    error

	cancel context.CancelFunc
	done   chan struct{}
}

var _ flagbind.Client = (*Client)(nil)

// NewInitializer adapts cfg into a flagbind.InitializeFunc.
func NewInitializer(cfg Config) flagbind.InitializeFunc {
	return func(clientID string, evalCtx flagbind.EvalContext, opts flagbind.ClientOptions) (flagbind.Client, error) {
		c, err := Initialize(cfg, clientID, evalCtx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Initialize starts a client for evalCtx. clientID is sent as the bearer API
// key. Anonymous contexts without a key get a random one. The client loads
// in the background; use WaitForInitialization to wait for it.
func Initialize(cfg Config, clientID string, evalCtx flagbind.EvalContext, opts flagbind.ClientOptions) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("evalclient: base URL is required")
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, errors.New("evalclient: client id is required")
	}
	if evalCtx.Kind == "" {
		evalCtx.Kind = defaultContextKind
	}
	contextKey := evalCtx.Kind + ":" + evalCtx.Key
	if evalCtx.Key == "" {
		if !evalCtx.Anonymous {
			return nil, errors.New("evalclient: context key is required for non-anonymous contexts")
		}
		evalCtx.Key = uuid.NewString()
		contextKey = evalCtx.Kind + ":" + anonymousCacheKey
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		apiKey:     clientID,
		httpClient: hc,
		logger: logger.With(
			"wrapper", opts.WrapperName+"/"+opts.WrapperVersion,
			"context_kind", evalCtx.Kind,
		),
		evalCtx:    evalCtx,
		contextKey: contextKey,
		opts:       opts,
		flags:      make(flagbind.FlagSet),
		ready:      make(chan struct{}),
		failed:     make(chan struct{}),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if b := opts.Bootstrap; b != nil && !b.FromCache {
		for k, v := range b.Flags {
			c.flags[k] = v
		}
	}

	go c.run(ctx)

	return c, nil
}

// Context returns the evaluation context in use, including an assigned
// anonymous key.
func (c *Client) Context() flagbind.EvalContext {
	return c.evalCtx
}

// WaitForInitialization blocks until the first load finished. It returns the
// load error after a failure and a *flagbind.TimeoutError when timeout
// elapses first. A zero timeout waits until ctx is done.
func (c *Client) WaitForInitialization(ctx context.Context, timeout time.Duration) error {
	select {
	case <-c.ready:
		return nil
	case <-c.failed:
		return c.loadErr
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.ready:
		return nil
	case <-c.failed:
		return c.loadErr
	case <-expired:
		return &flagbind.TimeoutError{After: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AllFlags returns a copy of the current values.
func (c *Client) AllFlags() flagbind.FlagSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(flagbind.FlagSet, len(c.flags))
	for k, v := range c.flags {
		out[k] = v
	}
	return out
}

// Variation returns the current value of key, or defaultValue when the flag
// is unknown, and reports the evaluation to Config.OnEvaluation.
func (c *Client) Variation(key string, defaultValue any) any {
	c.mu.RLock()
	value, ok := c.flags[key]
	c.mu.RUnlock()
	if !ok {
		value = defaultValue
	}

	if c.cfg.OnEvaluation != nil {
		c.cfg.OnEvaluation(key, value)
	}
	return value
}

// On registers l for name. Listeners run on the client's worker goroutine,
// in registration order.
func (c *Client) On(name flagbind.EventName, l flagbind.Listener) flagbind.ListenerID {
	return c.events.on(name, l)
}

// Off removes a listener. Unknown or zero ids are ignored.
func (c *Client) Off(name flagbind.EventName, id flagbind.ListenerID) {
	c.events.off(name, id)
}

// Close stops the background worker and waits for it to exit.
func (c *Client) Close() error {
	c.cancel()
	<-c.done
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	if b := c.opts.Bootstrap; b != nil && b.FromCache {
		c.loadCached(ctx)
	}

	flags, err := c.loadWithRetry(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.settle(err)
		}
		return
	}

	c.mu.Lock()
	c.flags = flags
	c.mu.Unlock()
	c.persist(ctx)
	c.settle(nil)

	c.follow(ctx)
}

// settle records the outcome of the first load and emits ready or failed.
func (c *Client) settle(err error) {
	c.settleOnce.Do(func() {
		if err != nil {
			c.loadErr = err
			close(c.failed)
			c.logger.Error("flag load failed", "error", err)
			c.events.emit(flagbind.Event{Name: flagbind.EventFailed, Err: err})
			return
		}
		close(c.ready)
		c.logger.Info("flags loaded", "count", len(c.AllFlags()))
		c.events.emit(flagbind.Event{Name: flagbind.EventReady})
	})
}

func (c *Client) loadCached(ctx context.Context) {
	if c.cfg.Store == nil {
		return
	}

	loadCtx, cancel := context.WithTimeout(ctx, bestEffortTimeout)
	defer cancel()
	cached, err := c.cfg.Store.Load(loadCtx, c.apiKey, c.contextKey)
	if err != nil {
		c.logger.Debug("no cached flags", "error", err)
		return
	}

	c.mu.Lock()
	for k, v := range cached {
		c.flags[k] = v
	}
	c.mu.Unlock()
	c.logger.Debug("cached flags loaded", "count", len(cached))
}

func (c *Client) load(ctx context.Context) (flagbind.FlagSet, error) {
	keys, err := c.listFlagKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	flags, err := c.evaluateBatch(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("evaluate flags: %w", err)
	}
	return flags, nil
}

// loadWithRetry retries transient failures until ctx is done. Client errors
// other than 408 and 429 are returned at once.
func (c *Client) loadWithRetry(ctx context.Context) (flagbind.FlagSet, error) {
	backoff := c.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		flags, err := c.load(ctx)
		if err == nil {
			return flags, nil
		}
		if isPermanent(err) {
			return nil, err
		}

		c.logger.Warn("flag load failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if !sleep(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

// follow consumes the event stream until ctx is done, reconnecting from the
// last seen event id.
func (c *Client) follow(ctx context.Context) {
	backoff := c.cfg.RetryBackoff
	for {
		c.mu.RLock()
		lastEventID := c.lastEventID
		c.mu.RUnlock()

		events, err := c.stream(ctx, lastEventID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("flag stream connect failed", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = c.cfg.RetryBackoff
		for ev := range events {
			c.apply(ctx, ev)
		}
		if ctx.Err() != nil {
			return
		}
		c.logger.Debug("flag stream closed, reconnecting", "last_event_id", lastEventID)
		if !sleep(ctx, backoff) {
			return
		}
	}
}

// apply re-evaluates the flag named by ev and emits a change when its value
// for this context moved.
func (c *Client) apply(ctx context.Context, ev streamEvent) {
	if ev.Type == streamError {
		c.logger.Warn("flag stream reported an error", "message", ev.Message)
		return
	}

	var (
		current any
		present bool
	)
	if ev.Type == streamUpdate {
		c.mu.RLock()
		fallback := defaultBool(c.flags[ev.Key])
		c.mu.RUnlock()

		value, err := c.evaluate(ctx, ev.Key, fallback)
		if err != nil {
			c.logger.Warn("flag re-evaluation failed", "key", ev.Key, "error", err)
			return
		}
		current, present = value, true
	}

	c.mu.Lock()
	if ev.EventID > c.lastEventID {
		c.lastEventID = ev.EventID
	}
	previous, existed := c.flags[ev.Key]
	if existed == present && reflect.DeepEqual(previous, current) {
		c.mu.Unlock()
		return
	}
	if present {
		c.flags[ev.Key] = current
	} else {
		delete(c.flags, ev.Key)
	}
	c.mu.Unlock()

	c.persist(ctx)
	c.events.emit(flagbind.Event{
		Name:    flagbind.EventChange,
		Changes: flagbind.Changeset{ev.Key: {Current: current, Previous: previous}},
	})
}

func (c *Client) persist(ctx context.Context) {
	if c.cfg.Store == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()
	if err := c.cfg.Store.Save(saveCtx, c.apiKey, c.contextKey, c.AllFlags()); err != nil {
		c.logger.Warn("persist flags failed", "error", err)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
