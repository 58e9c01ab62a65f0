// Package repository internal/domain/repository/rate_repository.go
package repository

import (
	"context"
	"time"

	"github.com/venrates/bcv-rates-service/internal/domain/entity"
)

// RateRepository defines the persistence port for the rate snapshot, the
// bounded history and the refresh attempt log. It is the sole owner of
// persistent state; every other component receives read-only copies.
type RateRepository interface {
	// LoadSnapshot returns the current snapshot, or (nil, nil) when no
	// snapshot has ever been persisted.
	LoadSnapshot(ctx context.Context) (*entity.RateSnapshot, error)

	// SaveSnapshot idempotently upserts the single current-snapshot record.
	SaveSnapshot(ctx context.Context, snapshot *entity.RateSnapshot) error

	// ListHistory returns up to limit history entries, most recent
	// effective date first.
	ListHistory(ctx context.Context, limit int) ([]entity.HistoryEntry, error)

	// MergeHistory updates the entry with the same effective date in place,
	// or inserts a new one, then truncates the collection to the retention
	// window.
	MergeHistory(ctx context.Context, entry entity.HistoryEntry) error

	// PurgeOlderThan deletes all history entries with an effective date
	// before cutoff and returns how many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// AppendAttempt records one refresh attempt in the bounded operation log.
	AppendAttempt(ctx context.Context, attempt entity.RefreshAttempt) error

	// RecentAttempts returns up to limit refresh attempts, newest first.
	RecentAttempts(ctx context.Context, limit int) ([]entity.RefreshAttempt, error)
}
