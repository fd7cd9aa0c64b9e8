package flagbind

import (
	"context"
	"errors"
	"fmt"
)

var errNoClient = errors.New("flagbind: no client available")

type initResult struct {
	client   Client
	flags    FlagSet
	err      error
	timedOut bool
	provided bool
}

// prepare obtains a ready client and its current flags. Client failures are
// reported in the result, never returned.
func prepare(ctx context.Context, cfg *Config, evalCtx EvalContext) initResult {
	client := cfg.Client
	if client == nil && cfg.ClientFunc != nil {
		resolved, err := cfg.ClientFunc(ctx)
		if err != nil {
			return initResult{flags: FlagSet{}, err: fmt.Errorf("flagbind: resolve client: %w", err)}
		}
		client = resolved
	}
	if client != nil {
		return initResult{client: client, flags: fetchFlags(client, cfg.TargetFlags), provided: true}
	}

	if cfg.Initialize == nil {
		return initResult{flags: FlagSet{}, err: errNoClient}
	}
	client, err := cfg.Initialize(cfg.ClientID, evalCtx, withWrapperOptions(cfg.ClientOptions))
	if err != nil {
		return initResult{flags: FlagSet{}, err: fmt.Errorf("flagbind: initialize client: %w", err)}
	}
	if client == nil {
		return initResult{flags: FlagSet{}, err: errNoClient}
	}

	if err := client.WaitForInitialization(ctx, cfg.InitTimeout); err != nil {
		if IsTimeout(err) {
			return initResult{client: client, err: err, timedOut: true}
		}
		return initResult{client: client, flags: FlagSet{}, err: err}
	}

	return initResult{client: client, flags: fetchFlags(client, cfg.TargetFlags)}
}

// withWrapperOptions stamps the wrapper identity onto opts. Only
// SendEventsOnlyForVariation may be overridden by the caller.
func withWrapperOptions(opts ClientOptions) ClientOptions {
	opts.WrapperName = WrapperName
	opts.WrapperVersion = Version
	if opts.SendEventsOnlyForVariation == nil {
		enabled := true
		opts.SendEventsOnlyForVariation = &enabled
	}
	return opts
}

// resolveContext prefers Context over the deprecated User and falls back to
// an anonymous context.
func resolveContext(evalCtx, user *EvalContext) EvalContext {
	switch {
	case evalCtx != nil:
		return *evalCtx
	case user != nil:
		return *user
	default:
		return AnonymousContext()
	}
}
