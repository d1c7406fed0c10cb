// Package domain contains quota counter models and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageKind selects which counter a quota check consumes.
type UsageKind string

const (
	KindQuery      UsageKind = "query"
	KindPrediction UsageKind = "prediction"
)

// UsageRecord is the per-user-per-day counter row. Rows are created lazily
// on first check and never deleted; limits are frozen at creation from the
// user's tier at that moment and only change via an explicit reset or an
// in-place upgrade.
type UsageRecord struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	UserID           snowflake.ID      `gorm:"not null;uniqueIndex:idx_usage_user_day,priority:1"`
	SubscriptionID   *snowflake.ID     `gorm:""`
	Day              time.Time         `gorm:"not null;uniqueIndex:idx_usage_user_day,priority:2"`
	QueryCount       int               `gorm:"not null;default:0"`
	QueriesLimit     int               `gorm:"not null;default:0"`
	PredictionCount  int               `gorm:"not null;default:0"`
	PredictionsLimit int               `gorm:"not null;default:0"`
	FeatureUsage     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// Remaining returns the units left for a kind, -1 when unlimited.
func (r *UsageRecord) Remaining(kind UsageKind) int {
	var count, limit int
	switch kind {
	case KindPrediction:
		count, limit = r.PredictionCount, r.PredictionsLimit
	default:
		count, limit = r.QueryCount, r.QueriesLimit
	}
	if limit < 0 {
		return -1
	}
	if remaining := limit - count; remaining > 0 {
		return remaining
	}
	return 0
}

// DayOf truncates a time to its UTC calendar day, the counter key.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// BulkReport summarizes a bulk reset run.
type BulkReport struct {
	Processed int
	Failed    int

	// AlertTriggered is set when the failure rate crossed the operator
	// alert threshold.
	AlertTriggered bool
}

// FailureRate returns failed/processed, 0 for an empty batch.
func (r BulkReport) FailureRate() float64 {
	if r.Processed == 0 {
		return 0
	}
	return float64(r.Failed) / float64(r.Processed)
}
