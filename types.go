package flagbind

import (
	"context"
	"time"
)

const (
	// WrapperName identifies this module to the evaluation client.
	WrapperName = "flagbind"
	// Version is the released version of this module.
	Version = "1.4.0"

	// reservedPrefix marks client bookkeeping entries such as "$flagsState".
	reservedPrefix = "$"
)

// FlagSet maps flag keys to their evaluated values.
type FlagSet map[string]any

// FlagKeyMap maps a camel-cased flag key back to the key known to the flag
// service.
type FlagKeyMap map[string]string

// Change is the old and new value of a single flag.
type Change struct {
	Current  any `json:"current"`
	Previous any `json:"previous"`
}

// Changeset is the payload of a change notification, keyed by original flag
// key.
type Changeset map[string]Change

// EventName names a client notification.
type EventName string

const (
	EventChange EventName = "change"
	EventReady  EventName = "ready"
	EventFailed EventName = "failed"
)

// Event is delivered to listeners registered with [Client.On]. Changes is set
// for EventChange and Err for EventFailed.
type Event struct {
	Name    EventName
	Changes Changeset
	Err     error
}

// Listener receives client notifications.
type Listener func(Event)

// ListenerID identifies a registered listener. The zero value never
// identifies a listener, so Off with it is a no-op.
type ListenerID uint64

// Client is the evaluation client contract the provider builds on. A Client
// may be shared with other owners; the provider only uses these methods.
type Client interface {
	// WaitForInitialization blocks until the client is ready, has failed, or
	// timeout elapses. A zero timeout waits without limit. On expiry the
	// returned error carries a name containing "timeout".
	WaitForInitialization(ctx context.Context, timeout time.Duration) error
	// AllFlags returns every flag value known to the client.
	AllFlags() FlagSet
	// Variation returns the value of key, or defaultValue when unknown, and
	// records an evaluation event.
	Variation(key string, defaultValue any) any
	On(name EventName, l Listener) ListenerID
	Off(name EventName, id ListenerID)
}

// InitializeFunc constructs an evaluation client. It must not block on
// network readiness; the provider waits through WaitForInitialization.
type InitializeFunc func(clientID string, evalCtx EvalContext, opts ClientOptions) (Client, error)

// EvalContext is the subject flags are evaluated for.
type EvalContext struct {
	Kind       string         `json:"kind"`
	Key        string         `json:"key,omitempty"`
	Anonymous  bool           `json:"anonymous,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// AnonymousContext is used when neither a context nor a user is configured.
// Clients assign the key.
func AnonymousContext() EvalContext {
	return EvalContext{Kind: "user", Anonymous: true}
}

// Bootstrap is the initial flag source handed to the client.
type Bootstrap struct {
	// Flags are inline values used before the client is ready.
	Flags FlagSet
	// FromCache asks the client to load the last persisted values instead.
	// The provider then starts empty.
	FromCache bool
}

// BootstrapFlags returns an inline bootstrap.
func BootstrapFlags(flags FlagSet) *Bootstrap {
	return &Bootstrap{Flags: flags}
}

// BootstrapFromCache returns the persisted-cache bootstrap sentinel.
func BootstrapFromCache() *Bootstrap {
	return &Bootstrap{FromCache: true}
}

// ClientOptions are passed through to [InitializeFunc]. WrapperName and
// WrapperVersion are always overwritten by the provider.
type ClientOptions struct {
	WrapperName    string
	WrapperVersion string
	// SendEventsOnlyForVariation defaults to true when nil.
	SendEventsOnlyForVariation *bool
	Bootstrap                  *Bootstrap
	// Extra carries client specific settings untouched.
	Extra map[string]any
}

func (o ClientOptions) inlineBootstrap() FlagSet {
	if o.Bootstrap == nil || o.Bootstrap.FromCache || len(o.Bootstrap.Flags) == 0 {
		return nil
	}
	return o.Bootstrap.Flags
}
