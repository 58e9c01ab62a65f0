// Package db internal/infrastructure/db/badger_rate_repository.go
package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/venrates/bcv-rates-service/internal/apperrors"
	"github.com/venrates/bcv-rates-service/internal/domain/entity"
	"github.com/venrates/bcv-rates-service/internal/domain/repository"
)

// Key layout. History keys embed the ISO date so lexicographic key order is
// chronological order; attempt keys embed a zero-padded unix-nano timestamp
// for the same reason.
const (
	snapshotKey   = "rates:current"
	historyPrefix = "history:"
	attemptPrefix = "attempt:"

	// maxAttempts bounds the refresh operation log.
	maxAttempts = 50
)

const historyKeyDateLayout = "2006-01-02"

// BadgerRateRepository implements the rate repository interface using
// BadgerDB as a simple key-value document store.
type BadgerRateRepository struct {
	db        *badger.DB
	retention int
}

// NewBadgerRateRepository creates a new BadgerDB rate repository keeping at
// most retention history entries.
func NewBadgerRateRepository(db *badger.DB, retention int) repository.RateRepository {
	return &BadgerRateRepository{db: db, retention: retention}
}

// LoadSnapshot reads the current snapshot record. Returns (nil, nil) when
// no snapshot has ever been persisted.
func (r *BadgerRateRepository) LoadSnapshot(ctx context.Context) (*entity.RateSnapshot, error) {
	const op = "db.LoadSnapshot"

	var snapshot entity.RateSnapshot
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snapshot)
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.KindPersistence, op, err)
	}

	return &snapshot, nil
}

// SaveSnapshot upserts the single current-snapshot record.
func (r *BadgerRateRepository) SaveSnapshot(ctx context.Context, snapshot *entity.RateSnapshot) error {
	const op = "db.SaveSnapshot"

	data, err := json.Marshal(snapshot)
	if err != nil {
		return apperrors.New(apperrors.KindPersistence, op, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), data)
	})
	if err != nil {
		return apperrors.New(apperrors.KindPersistence, op, err)
	}

	return nil
}

// ListHistory returns up to limit history entries, most recent first.
func (r *BadgerRateRepository) ListHistory(ctx context.Context, limit int) ([]entity.HistoryEntry, error) {
	const op = "db.ListHistory"

	entries := make([]entity.HistoryEntry, 0, limit)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(historyPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the whole prefix range.
		seek := append([]byte(historyPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(historyPrefix)); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}

			var entry entity.HistoryEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.New(apperrors.KindPersistence, op, err)
	}

	return entries, nil
}

// MergeHistory upserts the entry for its effective date, then truncates the
// collection to the retention window. Upsert-by-date-key makes "at most one
// entry per date" structural.
func (r *BadgerRateRepository) MergeHistory(ctx context.Context, entry entity.HistoryEntry) error {
	const op = "db.MergeHistory"

	data, err := json.Marshal(entry)
	if err != nil {
		return apperrors.New(apperrors.KindPersistence, op, err)
	}

	key := historyKey(entry.EffectiveDate)
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}

		if r.retention <= 0 {
			return nil
		}

		keys, err := collectKeys(txn, historyPrefix)
		if err != nil {
			return err
		}

		// Keys sort oldest first; delete everything beyond the window.
		for i := 0; i < len(keys)-r.retention; i++ {
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.New(apperrors.KindPersistence, op, err)
	}

	return nil
}

// PurgeOlderThan deletes history entries with an effective date before cutoff.
func (r *BadgerRateRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	const op = "db.PurgeOlderThan"

	cutoffKey := historyKey(cutoff)
	purged := 0

	err := r.db.Update(func(txn *badger.Txn) error {
		keys, err := collectKeys(txn, historyPrefix)
		if err != nil {
			return err
		}

		for _, key := range keys {
			if bytes.Compare(key, cutoffKey) >= 0 {
				break
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.New(apperrors.KindPersistence, op, err)
	}

	return purged, nil
}

// AppendAttempt records one refresh attempt and trims the log to its bound.
func (r *BadgerRateRepository) AppendAttempt(ctx context.Context, attempt entity.RefreshAttempt) error {
	const op = "db.AppendAttempt"

	data, err := json.Marshal(attempt)
	if err != nil {
		return apperrors.New(apperrors.KindPersistence, op, err)
	}

	key := []byte(fmt.Sprintf("%s%020d", attemptPrefix, attempt.Timestamp.UnixNano()))
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}

		keys, err := collectKeys(txn, attemptPrefix)
		if err != nil {
			return err
		}

		for i := 0; i < len(keys)-maxAttempts; i++ {
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.New(apperrors.KindPersistence, op, err)
	}

	return nil
}

// RecentAttempts returns up to limit refresh attempts, newest first.
func (r *BadgerRateRepository) RecentAttempts(ctx context.Context, limit int) ([]entity.RefreshAttempt, error) {
	const op = "db.RecentAttempts"

	attempts := make([]entity.RefreshAttempt, 0, limit)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(attemptPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append([]byte(attemptPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(attemptPrefix)); it.Next() {
			if limit > 0 && len(attempts) >= limit {
				break
			}

			var attempt entity.RefreshAttempt
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &attempt)
			})
			if err != nil {
				return err
			}
			attempts = append(attempts, attempt)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.New(apperrors.KindPersistence, op, err)
	}

	return attempts, nil
}

func historyKey(date time.Time) []byte {
	return []byte(historyPrefix + date.Format(historyKeyDateLayout))
}

// collectKeys returns all keys under prefix in ascending order.
func collectKeys(txn *badger.Txn, prefix string) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}
