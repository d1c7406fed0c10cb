package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/tiergate/internal/subscription/domain"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	"github.com/smallbiznis/tiergate/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier", "status", "start_date", "end_date", "auto_renew",
			"cancelled_at", "scheduled_tier_change", "scheduled_change_date",
			"external_ref", "metadata", "updated_at",
		}),
	}).Create(sub).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			tier = ?, status = ?, start_date = ?, end_date = ?, auto_renew = ?,
			cancelled_at = ?, scheduled_tier_change = ?, scheduled_change_date = ?,
			external_ref = ?, updated_at = ?
		 WHERE id = ?`,
		sub.Tier,
		sub.Status,
		sub.StartDate,
		sub.EndDate,
		sub.AutoRenew,
		sub.CancelledAt,
		sub.ScheduledTierChange,
		sub.ScheduledChangeDate,
		sub.ExternalRef,
		sub.UpdatedAt,
		sub.ID,
	).Error
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("status = ? AND end_date <= ?", subscriptiondomain.SubscriptionStatusActive, now).
		Order("end_date ASC, id ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) FindExpiringBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]subscriptiondomain.Subscription, error) {
	q := db.WithContext(ctx).
		Where("status = ?", subscriptiondomain.SubscriptionStatusActive)
	for _, opt := range []option.QueryOption{
		option.ApplyOperator(option.Condition{Field: "end_date", Operator: option.GTE, Value: from}),
		option.ApplyOperator(option.Condition{Field: "end_date", Operator: option.LT, Value: to}),
	} {
		q = opt.Apply(q)
	}

	var subs []subscriptiondomain.Subscription
	if err := q.Order("end_date ASC, id ASC").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) ListUserIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT user_id FROM subscriptions
		 UNION
		 SELECT user_id FROM usage_records`,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ApplyScheduledChange and Expire guard on status and end_date so a
// concurrent or repeated sweep observes zero affected rows instead of
// double-applying a transition.

func (r *repo) ApplyScheduledChange(ctx context.Context, db *gorm.DB, id snowflake.ID, newTier tierdomain.Tier, now, newStart, newEnd time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			tier = ?, scheduled_tier_change = NULL, scheduled_change_date = NULL,
			start_date = ?, end_date = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND end_date <= ? AND scheduled_tier_change IS NOT NULL`,
		newTier,
		newStart,
		newEnd,
		now,
		id,
		subscriptiondomain.SubscriptionStatusActive,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Expire(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time, collapseTier tierdomain.Tier, collapse bool) (bool, error) {
	var result *gorm.DB
	if collapse {
		result = db.WithContext(ctx).Exec(
			`UPDATE subscriptions SET status = ?, tier = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND end_date <= ?`,
			subscriptiondomain.SubscriptionStatusExpired,
			collapseTier,
			now,
			id,
			subscriptiondomain.SubscriptionStatusActive,
			now,
		)
	} else {
		result = db.WithContext(ctx).Exec(
			`UPDATE subscriptions SET status = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND end_date <= ?`,
			subscriptiondomain.SubscriptionStatusExpired,
			now,
			id,
			subscriptiondomain.SubscriptionStatusActive,
			now,
		)
	}
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
