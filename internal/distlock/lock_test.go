package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerIsDisabled(t *testing.T) {
	var locker *Locker
	assert.False(t, locker.Enabled())
	assert.Nil(t, NewLocker(nil))

	release, ok, err := locker.AcquireGroup(context.Background(), "invoices", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release()

	_, _, err = locker.TryLock(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
}

func TestGroupKey(t *testing.T) {
	assert.Equal(t, "crmjobs:scheduler:signatures", GroupKey("signatures"))
}
