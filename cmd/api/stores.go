package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/eventsourced-accounts/internal/config"
	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
	"github.com/josh-kwaku/eventsourced-accounts/internal/repository"
)

type eventStore interface {
	Append(ctx context.Context, subjectID uuid.UUID, expectedVersion int64, events []domain.Event) error
	ReadAll(ctx context.Context, subjectID uuid.UUID) ([]domain.Event, error)
	Ping(ctx context.Context) error
}

type idempotencyCache interface {
	Get(ctx context.Context, key string) (*repository.IdempotencyCacheEntry, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) (bool, error)
	Set(ctx context.Context, entry *repository.IdempotencyCacheEntry) error
	Release(ctx context.Context, key string) error
	CleanExpired(ctx context.Context) (int64, error)
}

type stores struct {
	events      eventStore
	idempotency idempotencyCache
	db          *sql.DB
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("using in-memory event store, state is lost on restart")
		return &stores{
			events:      repository.NewMemoryEventStore(),
			idempotency: repository.NewMemoryIdempotencyCache(),
		}, nil
	}

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		PingAttempts:     cfg.DBPingAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("openStores: %w", err)
	}

	return &stores{
		events:      repository.NewEventRepository(db),
		idempotency: repository.NewIdempotencyRepository(db),
		db:          db,
	}, nil
}

func (s *stores) close() {
	if s.db != nil {
		s.db.Close()
	}
}

func sweepIdempotencyCache(ctx context.Context, cache idempotencyCache, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cache.CleanExpired(ctx)
			if err != nil {
				slog.Warn("idempotency cache sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("idempotency cache swept", "removed", n)
			}
		}
	}
}
