package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebook/booking/internal/platform/db"
)

// ProviderStore is a directory that can also be written, used by the import
// command and dev-mode seeding.
type ProviderStore interface {
	ProviderDirectory
	Upsert(ctx context.Context, p *ProviderAvailability) error
}

// =========== Static Directory ===========

// StaticDirectory serves profiles held in memory.
type StaticDirectory struct {
	mu        sync.RWMutex
	providers map[uuid.UUID]*ProviderAvailability
}

func NewStaticDirectory(providers ...*ProviderAvailability) *StaticDirectory {
	d := &StaticDirectory{providers: make(map[uuid.UUID]*ProviderAvailability)}
	for _, p := range providers {
		d.providers[p.ProviderID] = p
	}
	return d
}

func (d *StaticDirectory) GetAvailability(_ context.Context, providerID uuid.UUID) (*ProviderAvailability, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.providers[providerID]
	if !ok {
		return nil, notFound("provider", providerID)
	}
	cp := *p
	return &cp, nil
}

func (d *StaticDirectory) Upsert(_ context.Context, p *ProviderAvailability) error {
	if err := p.Validate(); err != nil {
		return err
	}
	cp := *p
	d.mu.Lock()
	d.providers[p.ProviderID] = &cp
	d.mu.Unlock()
	return nil
}

// LoadProviders decodes a JSON array of provider profiles.
func LoadProviders(r io.Reader) ([]*ProviderAvailability, error) {
	var providers []*ProviderAvailability
	if err := json.NewDecoder(r).Decode(&providers); err != nil {
		return nil, fmt.Errorf("decode providers: %w", err)
	}
	for _, p := range providers {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return providers, nil
}

// =========== Postgres Directory ===========

type providerDirectoryPG struct{ pool db.Querier }

func NewProviderDirectoryPG(pool db.Querier) ProviderStore {
	return &providerDirectoryPG{pool: pool}
}

func (r *providerDirectoryPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *providerDirectoryPG) GetAvailability(ctx context.Context, providerID uuid.UUID) (*ProviderAvailability, error) {
	p := &ProviderAvailability{ProviderID: providerID}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT active, slot_duration_minutes, fee_cents, currency, default_payment_method, time_zone
		FROM provider WHERE id = $1`, providerID).
		Scan(&p.Active, &p.SlotDurationMinutes, &p.FeeCents, &p.Currency, &p.DefaultPaymentMethod, &p.TimeZone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("provider", providerID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT weekday, start_time, end_time FROM provider_working_hours
		WHERE provider_id = $1 ORDER BY weekday`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var wd int
		var day WorkingDay
		if err := rows.Scan(&wd, &day.Start, &day.End); err != nil {
			return nil, err
		}
		if wd < int(Monday) || wd > int(Sunday) {
			continue
		}
		day.Working = true
		p.Week[wd] = day
	}
	return p, rows.Err()
}

func (r *providerDirectoryPG) Upsert(ctx context.Context, p *ProviderAvailability) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return db.WithTx(ctx, r.conn(ctx), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO provider (id, active, slot_duration_minutes, fee_cents, currency, default_payment_method, time_zone)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET active=EXCLUDED.active,
				slot_duration_minutes=EXCLUDED.slot_duration_minutes, fee_cents=EXCLUDED.fee_cents,
				currency=EXCLUDED.currency, default_payment_method=EXCLUDED.default_payment_method,
				time_zone=EXCLUDED.time_zone, updated_at=NOW()`,
			p.ProviderID, p.Active, p.SlotDurationMinutes, p.FeeCents, p.Currency, p.DefaultPaymentMethod, p.TimeZone); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM provider_working_hours WHERE provider_id = $1`, p.ProviderID); err != nil {
			return err
		}
		for wd, day := range p.Week {
			if !day.Working {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO provider_working_hours (provider_id, weekday, start_time, end_time)
				VALUES ($1,$2,$3,$4)`, p.ProviderID, wd, day.Start, day.End); err != nil {
				return err
			}
		}
		return nil
	})
}

// =========== Redis Cache ===========

// CachedDirectory is a read-through Redis cache in front of a directory.
// Redis failures are logged and the request falls through to the directory.
type CachedDirectory struct {
	next   ProviderDirectory
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedDirectory(next ProviderDirectory, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedDirectory) key(ctx context.Context, providerID uuid.UUID) string {
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "default"
	}
	return fmt.Sprintf("provider:availability:%s:%s", tenant, providerID)
}

func (c *CachedDirectory) GetAvailability(ctx context.Context, providerID uuid.UUID) (*ProviderAvailability, error) {
	key := c.key(ctx, providerID)
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p ProviderAvailability
		if jerr := json.Unmarshal(data, &p); jerr == nil {
			return &p, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable provider cache entry")
	case err != redis.Nil:
		c.logger.Warn().Err(err).Str("key", key).Msg("provider cache read failed")
	}

	p, err := c.next.GetAvailability(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("provider cache write failed")
		}
	}
	return p, nil
}

// Upsert writes through to the underlying store and drops the cached entry.
func (c *CachedDirectory) Upsert(ctx context.Context, p *ProviderAvailability) error {
	store, ok := c.next.(ProviderStore)
	if !ok {
		return fmt.Errorf("provider directory is read-only")
	}
	if err := store.Upsert(ctx, p); err != nil {
		return err
	}
	return c.Invalidate(ctx, p.ProviderID)
}

func (c *CachedDirectory) Invalidate(ctx context.Context, providerID uuid.UUID) error {
	if err := c.redis.Del(ctx, c.key(ctx, providerID)).Err(); err != nil {
		return fmt.Errorf("invalidate provider cache: %w", err)
	}
	return nil
}
