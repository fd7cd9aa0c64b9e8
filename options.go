package flagbind

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/matt-riley/flagbind"

// Outcomes reported to [Recorder.InitCompleted].
const (
	OutcomeReady   = "ready"
	OutcomeTimeout = "timeout"
	OutcomeFailed  = "failed"
)

// Recorder receives provider lifecycle measurements.
type Recorder interface {
	InitCompleted(outcome string, elapsed time.Duration)
	// ChangeProcessed is called for every change notification; applied is
	// false when the notification touched no observed flag.
	ChangeProcessed(applied bool)
	DeferredEvent(name EventName)
	FlagsExposed(n int)
}

type nopRecorder struct{}

func (nopRecorder) InitCompleted(string, time.Duration) {}
func (nopRecorder) ChangeProcessed(bool)                {}
func (nopRecorder) DeferredEvent(EventName)             {}
func (nopRecorder) FlagsExposed(int)                    {}

type options struct {
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// Option customizes a [Provider].
type Option func(*options)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder reports provider measurements to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracerProvider sets the tracer provider used for initialization spans.
// The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	return o
}
