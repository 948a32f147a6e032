package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/odstat/internal/domain"
	"github.com/timmy/odstat/internal/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertResult mirrors the Query Service upsert contract.
type UpsertResult struct {
	Success       bool   `json:"success"`
	AffectedCount int64  `json:"affected_count"`
	Message       string `json:"message"`
}

// StatRepositoryOptions tunes batching and retries of StatRepository.Upsert.
type StatRepositoryOptions struct {
	BatchSize  int
	RetryCount int           // total attempts, at least 1
	Backoff    time.Duration // multiplied by the attempt number
}

// StatRepository persists StatRecords into stop_bar_detail.
type StatRepository struct {
	db    *gorm.DB
	opts  StatRepositoryOptions
	sleep func(context.Context, time.Duration) error
}

// NewStatRepository creates a new StatRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - opts: batching and retry options; zero values fall back to defaults.
//
// Returns:
//   - *StatRepository: repository instance bound to db.
func NewStatRepository(db *gorm.DB, opts StatRepositoryOptions) *StatRepository {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = 1
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	return &StatRepository{db: db, opts: opts, sleep: sleep}
}

// upsertClause updates the measured columns when the business key already exists.
var upsertClause = clause.OnConflict{
	Columns: []clause.Column{
		{Name: "od_version"}, {Name: "plat_form"}, {Name: "scene_name"},
		{Name: "direction"}, {Name: "lane"}, {Name: "od_time"},
	},
	DoUpdates: append(
		clause.AssignmentColumns([]string{"ground_truth", "tp", "fp", "fn", "precision", "recall"}),
		clause.Assignment{Column: clause.Column{Name: "update_time"}, Value: gorm.Expr("CURRENT_TIMESTAMP")},
	),
}

// Upsert inserts records, updating existing rows with the same business key.
// Duplicate keys within records are collapsed (last wins) before writing.
// All batches run in one transaction and are retried as a whole.
//
// Returns a failed UpsertResult together with an error wrapping
// domain.ErrPersistence when every attempt fails.
func (r *StatRepository) Upsert(ctx context.Context, records []domain.StatRecord) (*UpsertResult, error) {
	if len(records) == 0 {
		return &UpsertResult{Success: true, Message: "no records to upsert"}, nil
	}

	rows := domain.DedupeStatRecords(records)

	var lastErr error
	for attempt := 1; ; attempt++ {
		affected, err := r.upsertOnce(ctx, rows)
		if err == nil {
			return &UpsertResult{
				Success:       true,
				AffectedCount: affected,
				Message:       fmt.Sprintf("upserted %d records", len(rows)),
			}, nil
		}
		lastErr = err

		if attempt >= r.opts.RetryCount || ctx.Err() != nil {
			break
		}
		logger.FromContext(ctx).WithError(err).
			WithField("attempt", attempt).
			Warn("Upsert failed, retrying")
		if err := r.sleep(ctx, time.Duration(attempt)*r.opts.Backoff); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	return &UpsertResult{Success: false, Message: lastErr.Error()},
		fmt.Errorf("%w: %v", domain.ErrPersistence, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *StatRepository) upsertOnce(ctx context.Context, rows []domain.StatRecord) (int64, error) {
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += r.opts.BatchSize {
			end := min(start+r.opts.BatchSize, len(rows))
			batch := rows[start:end]
			res := tx.Clauses(upsertClause).Create(&batch)
			if res.Error != nil {
				return res.Error
			}
			affected += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Count returns the number of stored records.
func (r *StatRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.StatRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListByVersion returns records of one version and platform ordered by scene,
// direction, lane and time.
func (r *StatRepository) ListByVersion(ctx context.Context, version, platform string) ([]domain.StatRecord, error) {
	var records []domain.StatRecord
	err := r.db.WithContext(ctx).
		Where("od_version = ? AND plat_form = ?", version, platform).
		Order("scene_name, direction, lane, od_time").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
