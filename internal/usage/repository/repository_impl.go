package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rec *usagedomain.UsageRecord) error {
	return db.WithContext(ctx).Create(rec).Error
}

func (r *repo) FindByUserDay(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time) (*usagedomain.UsageRecord, error) {
	var rec usagedomain.UsageRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// IncrementIfBelow is the linearization point for quota enforcement: the
// cap check and the bump happen in one conditional UPDATE, so concurrent
// callers for the same (user, day) serialize on the row and the counter can
// never pass its limit.
func (r *repo) IncrementIfBelow(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time, kind usagedomain.UsageKind, now time.Time) (bool, error) {
	var result *gorm.DB
	switch kind {
	case usagedomain.KindQuery:
		result = db.WithContext(ctx).Exec(
			`UPDATE usage_records
			 SET query_count = query_count + 1, updated_at = ?
			 WHERE user_id = ? AND day = ?
			   AND (queries_limit = -1 OR query_count < queries_limit)`,
			now, userID, day,
		)
	case usagedomain.KindPrediction:
		result = db.WithContext(ctx).Exec(
			`UPDATE usage_records
			 SET prediction_count = prediction_count + 1, updated_at = ?
			 WHERE user_id = ? AND day = ?
			   AND (predictions_limit = -1 OR prediction_count < predictions_limit)`,
			now, userID, day,
		)
	default:
		return false, usagedomain.ErrInvalidKind
	}

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpsertReset(ctx context.Context, db *gorm.DB, rec *usagedomain.UsageRecord) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"subscription_id":   rec.SubscriptionID,
			"query_count":       0,
			"queries_limit":     rec.QueriesLimit,
			"prediction_count":  0,
			"predictions_limit": rec.PredictionsLimit,
			"updated_at":        rec.UpdatedAt,
		}),
	}).Create(rec).Error
}

func (r *repo) ResetPredictions(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time, predictionsLimit int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_records
		 SET prediction_count = 0, predictions_limit = ?, updated_at = ?
		 WHERE user_id = ? AND day = ?`,
		predictionsLimit, now, userID, day,
	).Error
}

func (r *repo) RaiseLimits(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time, queriesLimit, predictionsLimit int, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE usage_records
		 SET queries_limit = ?, predictions_limit = ?, updated_at = ?
		 WHERE user_id = ? AND day = ?`,
		queriesLimit, predictionsLimit, now, userID, day,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// IncrementFeature is read-modify-write inside a short transaction. The
// counter is observability-only, so lost updates under extreme contention
// are acceptable; correctness of enforcement never depends on it.
func (r *repo) IncrementFeature(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time, feature string, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := r.FindByUserDay(ctx, tx, userID, day)
		if err != nil {
			return err
		}
		if rec == nil {
			return gorm.ErrRecordNotFound
		}

		usage := rec.FeatureUsage
		if usage == nil {
			usage = datatypes.JSONMap{}
		}
		count, _ := usage[feature].(float64)
		usage[feature] = count + 1

		return tx.Exec(
			`UPDATE usage_records SET feature_usage = ?, updated_at = ? WHERE id = ?`,
			usage, now, rec.ID,
		).Error
	})
}
