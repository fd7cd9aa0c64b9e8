package flagbind

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigError reports a provider configuration that can never work. It is
// returned from [New] and never stored in provider state.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("flagbind: invalid config: %s %s", e.Field, e.Reason)
}

// TimeoutError is returned by clients whose readiness wait expired.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("flagbind: client not ready after %s", e.After)
}

// Name identifies the error kind for [IsTimeout].
func (e *TimeoutError) Name() string {
	return "TimeoutError"
}

type namedError interface {
	Name() string
}

// IsTimeout reports whether err is a readiness timeout: an error in the chain
// whose Name contains "timeout" in any case, or [context.DeadlineExceeded].
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var named namedError
	if errors.As(err, &named) {
		return strings.Contains(strings.ToLower(named.Name()), "timeout")
	}
	return false
}
