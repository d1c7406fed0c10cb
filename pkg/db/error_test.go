package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(errors.New(`duplicate key value violates unique constraint "usage_records_user_day"`)))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: subscriptions.user_id")))
	assert.False(t, IsDuplicateKeyErr(gorm.ErrRecordNotFound))
}

func TestIsTransientErr(t *testing.T) {
	assert.False(t, IsTransientErr(nil))
	assert.True(t, IsTransientErr(errors.New("could not serialize access due to concurrent update")))
	assert.True(t, IsTransientErr(errors.New("database is locked")))
	assert.False(t, IsTransientErr(errors.New("duplicate key value violates unique constraint")))
}
