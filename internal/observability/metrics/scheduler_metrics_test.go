package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifySchedulerErrorType(t *testing.T) {
	assert.Equal(t, SchedulerErrorTypeUnknown, ClassifySchedulerErrorType(nil))
	assert.Equal(t, SchedulerErrorTypeDeadlineExceeded, ClassifySchedulerErrorType(context.DeadlineExceeded))
	assert.Equal(t, SchedulerErrorTypeDeadlineExceeded,
		ClassifySchedulerErrorType(fmt.Errorf("sweep: %w", context.Canceled)))
	assert.Equal(t, SchedulerErrorTypeDB, ClassifySchedulerErrorType(errors.New("database is locked")))
	assert.Equal(t, SchedulerErrorTypeDB, ClassifySchedulerErrorType(gorm.ErrDuplicatedKey))
	assert.Equal(t, SchedulerErrorTypeDB, ClassifySchedulerErrorType(gorm.ErrInvalidTransaction))
	assert.Equal(t, SchedulerErrorTypeUnknown, ClassifySchedulerErrorType(errors.New("tier_not_found")))
}
