package flagcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matt-riley/flagbind"
)

// Postgres stores flag sets in the flag_cache table. Run [Migrate] before
// first use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a [Postgres] store backed by pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Load returns the flags saved for clientID and contextKey, or
// [ErrNotFound].
func (p *Postgres) Load(ctx context.Context, clientID, contextKey string) (flagbind.FlagSet, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `
		SELECT flags
		FROM flag_cache
		WHERE client_hash = $1 AND context_key = $2
	`, hashClientID(clientID), contextKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flagcache: load: %w", err)
	}

	return decodeFlags(raw)
}

// Save upserts flags for clientID and contextKey.
func (p *Postgres) Save(ctx context.Context, clientID, contextKey string, flags flagbind.FlagSet) error {
	raw, err := encodeFlags(flags)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO flag_cache (client_hash, context_key, flags)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_hash, context_key)
		DO UPDATE SET flags = EXCLUDED.flags, updated_at = NOW()
	`, hashClientID(clientID), contextKey, raw)
	if err != nil {
		return fmt.Errorf("flagcache: save: %w", err)
	}

	return nil
}
