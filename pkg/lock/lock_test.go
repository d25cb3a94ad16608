package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	err := l.WithLock(ctx, "claim:tok", time.Second, func(ctx context.Context) error {
		inner := l.WithLock(ctx, "claim:tok", time.Second, func(context.Context) error { return nil })
		assert.True(t, errors.Is(inner, ErrNotAcquired))

		return l.WithLock(ctx, "claim:other", time.Second, func(context.Context) error { return nil })
	})
	require.NoError(t, err)

	ran := false
	require.NoError(t, l.WithLock(ctx, "claim:tok", time.Second, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran, "lock is released after fn returns")
}

func TestLocalLockerReturnsFnError(t *testing.T) {
	l := NewLocalLocker()
	want := errors.New("boom")
	err := l.WithLock(context.Background(), "x", time.Second, func(context.Context) error { return want })
	assert.Equal(t, want, err)
}

func TestAcquireErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		contended bool
	}{
		{"retries exhausted", redsync.ErrFailed, true},
		{"taken on quorum", &redsync.ErrTaken{Nodes: []int{0}}, true},
		{"redis unreachable", &redsync.RedisError{Node: 0, Err: errors.New("dial tcp: connection refused")}, false},
		{"other", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := acquireError("install:tok", tc.err)
			require.Error(t, err)
			assert.Equal(t, tc.contended, errors.Is(err, ErrNotAcquired))
		})
	}
}
