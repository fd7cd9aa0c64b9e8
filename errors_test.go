package flagbind

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout error", err: &TimeoutError{After: time.Second}, want: true},
		{name: "wrapped timeout error", err: fmt.Errorf("wait: %w", &TimeoutError{}), want: true},
		{name: "named timeout any case", err: timeoutNamed{}, want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "plain error", err: errors.New("timeout in message only"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.want {
				t.Fatalf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "ClientID", Reason: "is required"}

	want := "flagbind: invalid config: ClientID is required"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
