package flagbind

import (
	"context"
	"sort"
	"sync"
	"time"
)

type fakeClient struct {
	mu sync.Mutex

	flags    FlagSet
	waitErrs []error

	waitCalls      int
	allFlagsCalls  int
	variationCalls []variationCall
	offCalls       []EventName

	nextID    ListenerID
	listeners map[EventName]map[ListenerID]Listener
}

type variationCall struct {
	key          string
	defaultValue any
}

func newFakeClient(flags FlagSet, waitErrs ...error) *fakeClient {
	return &fakeClient{
		flags:     flags,
		waitErrs:  waitErrs,
		listeners: make(map[EventName]map[ListenerID]Listener),
	}
}

func (c *fakeClient) WaitForInitialization(context.Context, time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	call := c.waitCalls
	c.waitCalls++
	if len(c.waitErrs) == 0 {
		return nil
	}
	if call >= len(c.waitErrs) {
		call = len(c.waitErrs) - 1
	}
	return c.waitErrs[call]
}

func (c *fakeClient) AllFlags() FlagSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.allFlagsCalls++
	return mergeFlags(nil, c.flags)
}

func (c *fakeClient) Variation(key string, defaultValue any) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.variationCalls = append(c.variationCalls, variationCall{key: key, defaultValue: defaultValue})
	if value, ok := c.flags[key]; ok {
		return value
	}
	return defaultValue
}

func (c *fakeClient) On(name EventName, l Listener) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	if c.listeners[name] == nil {
		c.listeners[name] = make(map[ListenerID]Listener)
	}
	c.listeners[name][c.nextID] = l
	return c.nextID
}

func (c *fakeClient) Off(name EventName, id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.offCalls = append(c.offCalls, name)
	delete(c.listeners[name], id)
}

func (c *fakeClient) setFlag(key string, value any) {
	c.mu.Lock()
	c.flags[key] = value
	c.mu.Unlock()
}

// emit delivers ev to the listeners registered for its name, in registration
// order, on the calling goroutine.
func (c *fakeClient) emit(ev Event) {
	for _, l := range c.registered(ev.Name) {
		l(ev)
	}
}

// registered returns the listeners currently attached for name, in
// registration order.
func (c *fakeClient) registered(name EventName) []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]ListenerID, 0, len(c.listeners[name]))
	for id := range c.listeners[name] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, c.listeners[name][id])
	}
	return ls
}

func (c *fakeClient) listenerCount(name EventName) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[name])
}

func (c *fakeClient) variations() []variationCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]variationCall(nil), c.variationCalls...)
}

func (c *fakeClient) waits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitCalls
}

type timeoutNamed struct{}

func (timeoutNamed) Error() string { return "timed out waiting for client" }
func (timeoutNamed) Name() string  { return "LDTimeoutError" }

type recordingInitializer struct {
	client   Client
	err      error
	calls    int
	clientID string
	evalCtx  EvalContext
	opts     ClientOptions
}

func (r *recordingInitializer) initialize(clientID string, evalCtx EvalContext, opts ClientOptions) (Client, error) {
	r.calls++
	r.clientID = clientID
	r.evalCtx = evalCtx
	r.opts = opts
	if r.err != nil {
		return nil, r.err
	}
	return r.client, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	applied  int
	skipped  int
	deferred []EventName
	exposed  int
}

func (r *fakeRecorder) InitCompleted(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) ChangeProcessed(applied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if applied {
		r.applied++
		return
	}
	r.skipped++
}

func (r *fakeRecorder) DeferredEvent(name EventName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred = append(r.deferred, name)
}

func (r *fakeRecorder) FlagsExposed(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exposed = n
}
