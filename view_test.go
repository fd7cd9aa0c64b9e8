package flagbind

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestFlagView_Get(t *testing.T) {
	t.Run("known flags evaluated with the original key", func(t *testing.T) {
		client := newFakeClient(FlagSet{"test-flag": false})
		view := WrapFlags(client, FlagSet{"testFlag": true}, FlagKeyMap{"testFlag": "test-flag"}, true)

		value, ok := view.Get("testFlag")

		if !ok || value != false {
			t.Fatalf("Get = %v, %v; want false, true", value, ok)
		}
		want := []variationCall{{key: "test-flag", defaultValue: true}}
		if got := client.variations(); !reflect.DeepEqual(got, want) {
			t.Fatalf("variations = %v, want %v", got, want)
		}
	})

	t.Run("key used as is when not in the key map", func(t *testing.T) {
		client := newFakeClient(FlagSet{})
		view := WrapFlags(client, FlagSet{"plain": "v"}, FlagKeyMap{}, true)

		if got := view.Value("plain"); got != "v" {
			t.Fatalf("Value = %v, want v", got)
		}
		want := []variationCall{{key: "plain", defaultValue: "v"}}
		if got := client.variations(); !reflect.DeepEqual(got, want) {
			t.Fatalf("variations = %v, want %v", got, want)
		}
	})

	t.Run("unknown keys not evaluated", func(t *testing.T) {
		client := newFakeClient(FlagSet{"hidden": true})
		view := WrapFlags(client, FlagSet{"testFlag": true}, FlagKeyMap{"testFlag": "test-flag"}, true)

		value, ok := view.Get("hidden")

		if ok || value != nil {
			t.Fatalf("Get = %v, %v; want nil, false", value, ok)
		}
		if n := len(client.variations()); n != 0 {
			t.Fatalf("expected no variation calls, got %d", n)
		}
	})

	t.Run("cached values when events are disabled", func(t *testing.T) {
		client := newFakeClient(FlagSet{"test-flag": false})
		view := WrapFlags(client, FlagSet{"testFlag": true}, FlagKeyMap{"testFlag": "test-flag"}, false)

		if !view.Bool("testFlag", false) {
			t.Fatal("expected the cached true value")
		}
		if n := len(client.variations()); n != 0 {
			t.Fatalf("expected no variation calls, got %d", n)
		}
	})

	t.Run("cached values without a client", func(t *testing.T) {
		view := WrapFlags(nil, FlagSet{"color": "blue"}, nil, true)

		if got := view.StringValue("color", "red"); got != "blue" {
			t.Errorf("StringValue(color) = %q", got)
		}
		if got := view.StringValue("missing", "red"); got != "red" {
			t.Errorf("StringValue(missing) = %q", got)
		}
	})
}

func TestFlagView_IntrospectionDoesNotEvaluate(t *testing.T) {
	client := newFakeClient(FlagSet{"a-flag": 1, "b-flag": 2})
	view := WrapFlags(client, FlagSet{"aFlag": 1, "bFlag": 2}, FlagKeyMap{"aFlag": "a-flag", "bFlag": "b-flag"}, true)

	if !view.Has("aFlag") || view.Has("a-flag") {
		t.Fatal("Has must match normalized keys only")
	}
	if got := view.Keys(); !reflect.DeepEqual(got, []string{"aFlag", "bFlag"}) {
		t.Fatalf("Keys = %v", got)
	}
	if view.Len() != 2 {
		t.Fatalf("Len = %d, want 2", view.Len())
	}

	copied := view.Map()
	copied["aFlag"] = 100
	if got := view.Map()["aFlag"]; got != 1 {
		t.Fatalf("Map returned shared storage: aFlag = %v", got)
	}

	encoded, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(encoded) != `{"aFlag":1,"bFlag":2}` {
		t.Fatalf("encoded = %s", encoded)
	}

	if n := len(client.variations()); n != 0 {
		t.Fatalf("introspection evaluated %d flags", n)
	}
}

func TestFlagView_Zero(t *testing.T) {
	var view FlagView

	if _, ok := view.Get("anything"); ok {
		t.Fatal("zero view reported a flag")
	}
	if view.Len() != 0 || len(view.Keys()) != 0 {
		t.Fatalf("zero view is not empty: %v", view.Keys())
	}

	encoded, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(encoded) != "{}" {
		t.Fatalf("encoded = %s, want {}", encoded)
	}
}
