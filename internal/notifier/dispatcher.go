package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	backoff "github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	dispatchTimeout  = 30 * time.Second
	dispatchMaxTries = 3
)

// Dispatcher sends notifications fire-and-forget with bounded retries.
// Callers never block on delivery and never see delivery errors.
type Dispatcher struct {
	notifier Notifier
	log      *zap.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		log:      log.Named("notifier.dispatch"),
	}
}

// Dispatch hands the notification to a background goroutine. Transient
// failures are retried with exponential backoff; a final failure is logged
// as a warning and dropped.
func (d *Dispatcher) Dispatch(userID snowflake.ID, template string, data map[string]any) {
	if d == nil || d.notifier == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		operation := func() (struct{}, error) {
			return struct{}{}, d.notifier.Notify(ctx, userID, template, data)
		}

		_, err := backoff.Retry(ctx, operation,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(dispatchMaxTries),
		)
		if err != nil {
			d.log.Warn("notification dropped",
				zap.String("user_id", userID.String()),
				zap.String("template", template),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until all in-flight dispatches settle. Used by tests and
// graceful shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
