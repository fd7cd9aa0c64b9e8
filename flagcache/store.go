// Package flagcache persists the last known flag values of an evaluation
// context so that a client can bootstrap from them on the next start.
//
// Two backends are provided: [Postgres] keeps rows in a flag_cache table and
// [Redis] keeps one JSON document per key with a TTL. Both satisfy
// evalclient.Store.
package flagcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matt-riley/flagbind"
)

// ErrNotFound is returned by Load when nothing was saved for the key.
var ErrNotFound = errors.New("flagcache: not found")

// hashClientID keeps raw client ids (API keys) out of storage.
func hashClientID(clientID string) string {
	sum := sha256.Sum256([]byte(clientID))
	return hex.EncodeToString(sum[:])
}

func encodeFlags(flags flagbind.FlagSet) ([]byte, error) {
	if flags == nil {
		flags = flagbind.FlagSet{}
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("flagcache: encode flags: %w", err)
	}
	return b, nil
}

func decodeFlags(b []byte) (flagbind.FlagSet, error) {
	flags := flagbind.FlagSet{}
	if len(b) == 0 {
		return flags, nil
	}
	if err := json.Unmarshal(b, &flags); err != nil {
		return nil, fmt.Errorf("flagcache: decode flags: %w", err)
	}
	if flags == nil {
		flags = flagbind.FlagSet{}
	}
	return flags, nil
}
