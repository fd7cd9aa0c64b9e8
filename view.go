package flagbind

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FlagView is a read-only view over a flag set. [FlagView.Get] re-evaluates
// known flags through the client so that every read is recorded as an
// evaluation event; the other methods only look at the cached values.
//
// The zero FlagView is empty.
type FlagView struct {
	client Client
	flags  FlagSet
	keyMap FlagKeyMap
	emit   bool
}

// WrapFlags builds a view over flags. keyMap translates exposed keys back to
// the keys the client knows. With emit unset, or without a client, Get returns
// the cached value without calling the client.
func WrapFlags(client Client, flags FlagSet, keyMap FlagKeyMap, emit bool) FlagView {
	return FlagView{
		client: client,
		flags:  flags,
		keyMap: keyMap,
		emit:   emit,
	}
}

// Get returns the value of key and whether the flag is known. Unknown keys
// never reach the client.
func (v FlagView) Get(key string) (any, bool) {
	cached, ok := v.flags[key]
	if !ok {
		return nil, false
	}
	if !v.emit || v.client == nil {
		return cached, true
	}

	original := key
	if mapped, ok := v.keyMap[key]; ok {
		original = mapped
	}
	return v.client.Variation(original, cached), true
}

// Value is Get without the presence flag.
func (v FlagView) Value(key string) any {
	value, _ := v.Get(key)
	return value
}

// Bool reads key as a boolean, returning fallback when the flag is unknown or
// not a boolean.
func (v FlagView) Bool(key string, fallback bool) bool {
	if b, ok := v.Value(key).(bool); ok {
		return b
	}
	return fallback
}

// StringValue reads key as a string, returning fallback when the flag is
// unknown or not a string.
func (v FlagView) StringValue(key, fallback string) string {
	if s, ok := v.Value(key).(string); ok {
		return s
	}
	return fallback
}

// Has reports whether key is a known flag.
func (v FlagView) Has(key string) bool {
	_, ok := v.flags[key]
	return ok
}

// Keys returns the known flag keys in sorted order.
func (v FlagView) Keys() []string {
	keys := make([]string, 0, len(v.flags))
	for key := range v.flags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (v FlagView) Len() int {
	return len(v.flags)
}

// Map returns a copy of the cached values.
func (v FlagView) Map() FlagSet {
	return mergeFlags(nil, v.flags)
}

// MarshalJSON encodes the cached values.
func (v FlagView) MarshalJSON() ([]byte, error) {
	if v.flags == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v.flags)
}

func (v FlagView) GoString() string {
	return fmt.Sprintf("flagbind.FlagView%v", map[string]any(v.flags))
}
