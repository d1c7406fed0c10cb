// Package domain contains the subscription record and lifecycle contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
// A cancelled-pending subscription stays ACTIVE with CancelledAt set until
// the sweep expires it.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
)

// Subscription captures a user's billing agreement. At most one row exists
// per user.
type Subscription struct {
	ID                  snowflake.ID       `gorm:"primaryKey"`
	UserID              snowflake.ID       `gorm:"not null;uniqueIndex"`
	Tier                tierdomain.Tier    `gorm:"type:text;not null"`
	Status              SubscriptionStatus `gorm:"type:text;not null"`
	StartDate           time.Time          `gorm:"not null"`
	EndDate             time.Time          `gorm:"not null"`
	AutoRenew           bool               `gorm:"not null;default:true"`
	CancelledAt         *time.Time         `gorm:""`
	ScheduledTierChange *tierdomain.Tier   `gorm:"type:text"`
	ScheduledChangeDate *time.Time         `gorm:""`
	ExternalRef         string             `gorm:"type:text"`
	Metadata            datatypes.JSONMap  `gorm:"type:jsonb"`
	CreatedAt           time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// DaysRemaining returns whole days until EndDate, never negative.
func (s *Subscription) DaysRemaining(now time.Time) int {
	if s == nil || !now.Before(s.EndDate) {
		return 0
	}
	return int(s.EndDate.Sub(now) / (24 * time.Hour))
}

// DueForSweep reports whether the sweep should process this row.
func (s *Subscription) DueForSweep(now time.Time) bool {
	return s != nil &&
		s.Status == SubscriptionStatusActive &&
		!s.EndDate.After(now)
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Processed  int
	Expired    int
	Downgraded int
	Failed     int

	// AlertTriggered is set when the per-user failure rate crossed the
	// operator alert threshold.
	AlertTriggered bool
}

// FailureRate returns failed/processed, 0 for an empty batch.
func (r SweepReport) FailureRate() float64 {
	if r.Processed == 0 {
		return 0
	}
	return float64(r.Failed) / float64(r.Processed)
}
