// Package notifier is the outbound notification port. Delivery is an
// external concern; the engine only hands off template + payload, and a
// failed hand-off never rolls back the mutation that triggered it.
package notifier

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Notification templates emitted by the engine.
const (
	TemplateRenewalReminder     = "renewal_reminder"
	TemplateSubscriptionExpired = "subscription_expired"
	TemplateDowngradeApplied    = "downgrade_applied"
)

type Notifier interface {
	Notify(ctx context.Context, userID snowflake.ID, template string, data map[string]any) error
}

// LogNotifier is the default sink: it records the notification and lets an
// external delivery pipeline tail the log stream.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, userID snowflake.ID, template string, data map[string]any) error {
	_ = ctx
	n.log.Info("notification.emit",
		zap.String("user_id", userID.String()),
		zap.String("template", template),
		zap.Any("data", data),
	)
	return nil
}
