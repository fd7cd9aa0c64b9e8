package flagbind

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNestedProviders(t *testing.T) {
	outerClient := newFakeClient(FlagSet{"outer-flag": "outer"})
	innerClient := newFakeClient(FlagSet{"inner-flag": "inner"})
	outerRec := &recordingInitializer{client: outerClient}
	innerRec := &recordingInitializer{client: innerClient}

	outer := newTestProvider(t, Config{
		ClientID:   "env-outer",
		Context:    &EvalContext{Kind: "user", Key: "outer-user"},
		Initialize: outerRec.initialize,
	})
	inner := newTestProvider(t, Config{
		ClientID:   "env-inner",
		Context:    &EvalContext{Kind: "device", Key: "inner-device"},
		Initialize: innerRec.initialize,
	})
	outer.Start(context.Background())
	inner.Start(context.Background())

	outerCtx := NewContext(context.Background(), outer)
	innerCtx := NewContext(outerCtx, inner)

	src, ok := FromContext(outerCtx)
	if !ok {
		t.Fatal("outer context has no source")
	}
	assertFlags(t, FlagsFrom(src), FlagSet{"outerFlag": "outer"})
	if ClientFrom(src) != Client(outerClient) {
		t.Fatal("outer source returned the wrong client")
	}

	src, ok = FromContext(innerCtx)
	if !ok {
		t.Fatal("inner context has no source")
	}
	assertFlags(t, FlagsFrom(src), FlagSet{"innerFlag": "inner"})
	if ClientFrom(src) != Client(innerClient) {
		t.Fatal("inner source returned the wrong client")
	}

	if innerRec.evalCtx.Key != "inner-device" || outerRec.evalCtx.Key != "outer-user" {
		t.Fatalf("contexts crossed: inner=%q outer=%q", innerRec.evalCtx.Key, outerRec.evalCtx.Key)
	}

	innerClient.emit(Event{Name: EventChange, Changes: Changeset{"shared-flag": {Current: true}}})
	if FlagsFrom(outer).Has("sharedFlag") {
		t.Error("inner change leaked into the outer provider")
	}
	if !FlagsFrom(inner).Has("sharedFlag") {
		t.Error("inner change was not applied")
	}
}

func TestFromContext_Empty(t *testing.T) {
	src, ok := FromContext(context.Background())

	if ok || src != nil {
		t.Fatalf("FromContext = %v, %v; want nil, false", src, ok)
	}
	if FlagsFrom(src).Len() != 0 {
		t.Error("FlagsFrom(nil) is not empty")
	}
	if ClientFrom(src) != nil {
		t.Error("ClientFrom(nil) returned a client")
	}
	if err := ErrorFrom(src); err != nil {
		t.Errorf("ErrorFrom(nil) = %v", err)
	}
}

func TestConsume(t *testing.T) {
	client := newFakeClient(FlagSet{"test-flag": true})
	p := newTestProvider(t, Config{Client: client})
	p.Start(context.Background())

	t.Run("flags and client", func(t *testing.T) {
		props := Consume(p, ConsumerOptions{})

		assertFlags(t, props.Flags, FlagSet{"testFlag": true})
		if props.Client != Client(client) {
			t.Fatal("wrong client")
		}
	})

	t.Run("client only", func(t *testing.T) {
		props := Consume(p, ConsumerOptions{ClientOnly: true})

		if props.Flags.Len() != 0 {
			t.Fatalf("expected no flags, got %v", props.Flags.Map())
		}
		if props.Client != Client(client) {
			t.Fatal("wrong client")
		}
	})

	t.Run("no source", func(t *testing.T) {
		props := Consume(nil, ConsumerOptions{})

		if props.Client != nil || props.Flags.Len() != 0 {
			t.Fatalf("expected empty props, got %+v", props)
		}
	})
}

func TestMiddleware(t *testing.T) {
	src := Static(FlagSet{"newCheckout": true})

	var got Source
	handler := Middleware(src)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		got, ok = FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if !FlagsFrom(got).Bool("newCheckout", false) {
		t.Fatal("handler did not see the source flags")
	}
}

func TestStatic(t *testing.T) {
	flags := FlagSet{"test-flag": "as-given"}
	src := Static(flags)
	flags["test-flag"] = "mutated"

	snap := src.Snapshot()
	if got := snap.Flags.Value("test-flag"); got != "as-given" {
		t.Fatalf("Value = %v, want as-given", got)
	}
	if snap.Client != nil || snap.Err != nil || len(snap.FlagKeyMap) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestErrorFrom(t *testing.T) {
	loadErr := errors.New("unreachable")
	client := newFakeClient(FlagSet{}, loadErr)
	p := newTestProvider(t, Config{ClientID: "env-1", Initialize: (&recordingInitializer{client: client}).initialize})
	p.Start(context.Background())

	if err := ErrorFrom(roundTrip(t, p)); !errors.Is(err, loadErr) {
		t.Fatalf("ErrorFrom = %v, want %v", err, loadErr)
	}
}

// roundTrip passes src through a context, as a handler would see it.
func roundTrip(t *testing.T, src Source) Source {
	t.Helper()
	got, ok := FromContext(NewContext(context.Background(), src))
	if !ok {
		t.Fatal("source lost in context")
	}
	return got
}
