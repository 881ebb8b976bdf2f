package util

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDatabaseLocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"locked", errors.New("database is locked"), true},
		{"wrapped", fmt.Errorf("insert postings: %w", errors.New("sqlite: database is locked (5)")), true},
		{"busy code", errors.New("SQLITE_BUSY: cannot commit"), true},
		{"table locked", errors.New("database table is locked: tags"), true},
		{"other", errors.New("no such table: files"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsDatabaseLocked(tt.err))
		})
	}
}

func TestRetry_LockedThenSucceeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	calls := 0
	err := Retry(ctx, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, append(DatabaseRetryOptions(ctx), retry.Delay(0))...)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonLockErrorNotRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	calls := 0
	boom := errors.New("boom")
	err := Retry(ctx, func() error {
		calls++
		return boom
	}, DatabaseRetryOptions(ctx)...)

	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, calls)
}

func TestRetry_DefaultsToDatabaseOptions(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return errors.New("no such table: files")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "only lock errors are retried")
}

func TestRetryWithResult(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	calls := 0
	got, err := RetryWithResult(ctx, func() ([]string, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("database is locked")
		}
		return []string{"red"}, nil
	}, append(QueryRetryOptions(ctx), retry.Delay(0))...)

	require.NoError(t, err)
	assert.Equal(t, []string{"red"}, got)
	assert.Equal(t, 2, calls)
}
