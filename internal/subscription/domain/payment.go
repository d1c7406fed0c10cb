package domain

import (
	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
)

// PaymentEventType discriminates gateway events relevant to activation.
type PaymentEventType string

const (
	PaymentEventCaptured PaymentEventType = "payment.captured"
	PaymentEventPending  PaymentEventType = "payment.pending"
)

// PaymentEvent is delivered by the payment gateway after signature
// verification. Amount validation stays with the gateway; this core only
// applies the lifecycle transition.
type PaymentEvent struct {
	Type         PaymentEventType `json:"type"`
	UserID       snowflake.ID     `json:"user_id"`
	Tier         tierdomain.Tier  `json:"tier"`
	DurationDays int              `json:"duration_days"`
	ExternalRef  string           `json:"external_ref"`
	Amount       int64            `json:"amount"`
}
