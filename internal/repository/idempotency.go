package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

type IdempotencyCacheEntry struct {
	Key          string
	RequestHash  string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Pending reports whether the entry is a reservation whose request has not
// finished yet.
func (e *IdempotencyCacheEntry) Pending() bool {
	return e.StatusCode == 0
}

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*IdempotencyCacheEntry, error) {
	var e IdempotencyCacheEntry
	err := r.db.QueryRowContext(ctx,
		`SELECT idempotency_key, request_hash, status_code, response_body, created_at, expires_at
		FROM idempotency_cache
		WHERE idempotency_key = $1 AND expires_at > now()`,
		key,
	).Scan(&e.Key, &e.RequestHash, &e.StatusCode, &e.ResponseBody, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &e, nil
}

// Reserve claims key for one in-flight request. It reports false when a live
// entry, pending or complete, already holds the key.
func (r *IdempotencyRepository) Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_cache (idempotency_key, request_hash, status_code, response_body, created_at, expires_at)
		VALUES ($1, $2, 0, $3, now(), $4)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			status_code = 0,
			response_body = EXCLUDED.response_body,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_cache.expires_at <= now()`,
		key, requestHash, []byte{}, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("Reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Reserve: rows affected: %w", err)
	}
	return n == 1, nil
}

// Set stores the finished response. It replaces the matching reservation or an
// expired entry; a live completed entry is never overwritten.
func (r *IdempotencyRepository) Set(ctx context.Context, entry *IdempotencyCacheEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_cache (idempotency_key, request_hash, status_code, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			status_code = EXCLUDED.status_code,
			response_body = EXCLUDED.response_body,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_cache.expires_at <= now()
			OR (idempotency_cache.status_code = 0 AND idempotency_cache.request_hash = EXCLUDED.request_hash)`,
		entry.Key, entry.RequestHash, entry.StatusCode, entry.ResponseBody, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("Set: %w", err)
	}
	return nil
}

// Release drops a reservation so the key can be retried.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_cache WHERE idempotency_key = $1 AND status_code = 0`,
		key,
	); err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) CleanExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_cache WHERE expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: rows affected: %w", err)
	}
	return n, nil
}

// MemoryIdempotencyCache is the in-process counterpart of IdempotencyRepository.
type MemoryIdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]IdempotencyCacheEntry
	now     func() time.Time
}

func NewMemoryIdempotencyCache() *MemoryIdempotencyCache {
	return &MemoryIdempotencyCache{
		entries: make(map[string]IdempotencyCacheEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *MemoryIdempotencyCache) Get(_ context.Context, key string) (*IdempotencyCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.ExpiresAt.After(c.now()) {
		return nil, nil
	}
	return &e, nil
}

func (c *MemoryIdempotencyCache) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.ExpiresAt.After(c.now()) {
		return false, nil
	}
	c.entries[key] = IdempotencyCacheEntry{
		Key:         key,
		RequestHash: requestHash,
		CreatedAt:   c.now(),
		ExpiresAt:   expiresAt,
	}
	return true, nil
}

func (c *MemoryIdempotencyCache) Set(_ context.Context, entry *IdempotencyCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[entry.Key]; ok && e.ExpiresAt.After(c.now()) {
		if !e.Pending() || e.RequestHash != entry.RequestHash {
			return nil
		}
	}
	c.entries[entry.Key] = *entry
	return nil
}

func (c *MemoryIdempotencyCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.Pending() {
		delete(c.entries, key)
	}
	return nil
}

func (c *MemoryIdempotencyCache) CleanExpired(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for k, e := range c.entries {
		if !e.ExpiresAt.After(c.now()) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}
