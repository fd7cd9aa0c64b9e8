package flagbind

import (
	"context"
	"net/http"
)

// Source is anything that exposes a flag snapshot: a [*Provider], or a fixed
// set from [Static].
type Source interface {
	Snapshot() Snapshot
}

type sourceKey struct{}

// NewContext returns a copy of ctx carrying src. A nested provider added to a
// derived context shadows the outer one.
func NewContext(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, src)
}

// FromContext returns the nearest source stored in ctx.
func FromContext(ctx context.Context) (Source, bool) {
	src, ok := ctx.Value(sourceKey{}).(Source)
	return src, ok && src != nil
}

// FlagsFrom returns the flags exposed by src. A nil source yields an empty
// view.
func FlagsFrom(src Source) FlagView {
	if src == nil {
		return FlagView{}
	}
	return src.Snapshot().Flags
}

// ClientFrom returns the client behind src, if any.
func ClientFrom(src Source) Client {
	if src == nil {
		return nil
	}
	return src.Snapshot().Client
}

// ErrorFrom returns the initialization error recorded by src.
func ErrorFrom(src Source) error {
	if src == nil {
		return nil
	}
	return src.Snapshot().Err
}

// ConsumerOptions select what [Consume] projects.
type ConsumerOptions struct {
	// ClientOnly leaves Props.Flags empty.
	ClientOnly bool
}

// Props is the projection handed to a consumer.
type Props struct {
	Flags  FlagView
	Client Client
}

// Consume projects the current snapshot of src for a consumer.
func Consume(src Source, opts ConsumerOptions) Props {
	if src == nil {
		return Props{}
	}
	snap := src.Snapshot()
	if opts.ClientOnly {
		return Props{Client: snap.Client}
	}
	return Props{Flags: snap.Flags, Client: snap.Client}
}

// Middleware makes src available to handlers through [FromContext].
func Middleware(src Source) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), src)))
		})
	}
}

type staticSource struct {
	snap Snapshot
}

func (s staticSource) Snapshot() Snapshot {
	return s.snap
}

// Static returns a source exposing fixed flags under their given keys, with
// no client. It is intended for tests of flag consumers.
func Static(flags FlagSet) Source {
	return staticSource{snap: Snapshot{
		Flags:      WrapFlags(nil, mergeFlags(nil, flags), nil, false),
		FlagKeyMap: FlagKeyMap{},
	}}
}
