package redislock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/store/redislock"
)

// Integration tests need a live Redis:
//
//	TUITION_TEST_REDIS_URL=redis://localhost:6379/15 go test ./store/redislock/
func newTestLocker(t *testing.T) *redislock.Locker {
	url := os.Getenv("TUITION_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TUITION_TEST_REDIS_URL not set")
	}
	locker, err := redislock.New(url, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { locker.Close() })
	return locker
}

func TestKey(t *testing.T) {
	assert.Equal(t, "tuition:lock:obligation:abc", redislock.Key(billing.ObligationLockKey("abc")))
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := redislock.New("not a url", time.Second)
	assert.Error(t, err)
}

func TestLock_ExcludesSecondHolder(t *testing.T) {
	// GIVEN: A lock held on one obligation
	// WHEN: A second caller tries with a short deadline, then after release
	// THEN: Timeout first, success second

	locker := newTestLocker(t)
	key := billing.ObligationLockKey(billing.ObligationID("redislock-test-" + time.Now().Format("150405.000")))

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, billing.ErrLockTimeout)

	unlock()

	unlock2, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock2()
}
