package lock

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/meikuraledutech/flow"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// testExclusion runs overlapping critical sections on one key and checks
// that at most one is active at a time.
func testExclusion(t *testing.T, l locker) {
	t.Helper()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "graph:g1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
}

func TestLocalExclusion(t *testing.T) {
	l := NewLocal()
	testExclusion(t, l)
	assert.Empty(t, l.locks)
}

func TestLocalContextDone(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	require.ErrorIs(t, err, flow.ErrLockNotAcquired)

	// Other keys are independent.
	other, err := l.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Empty(t, l.locks)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisExclusion(t *testing.T) {
	_, client := newTestRedis(t)
	testExclusion(t, NewRedis(client, WithRetryWait(time.Millisecond)))
}

func TestRedisLease(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedis(client, WithTTL(time.Minute), WithRetryWait(time.Millisecond))

	unlock, err := l.Lock(context.Background(), "graph:g1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("flow:lock:graph:g1"))
	assert.Equal(t, time.Minute, mr.TTL("flow:lock:graph:g1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "graph:g1")
	require.ErrorIs(t, err, flow.ErrLockNotAcquired)

	unlock()
	assert.False(t, mr.Exists("flow:lock:graph:g1"))
}

func TestRedisExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	mr, client := newTestRedis(t)
	var logs bytes.Buffer
	l := NewRedis(client, WithTTL(time.Second), WithPrefix("test:"), WithLogger(zerolog.New(&logs)))
	other := NewRedis(client, WithTTL(time.Second), WithPrefix("test:"))

	stale, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := other.Lock(context.Background(), "k")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("test:k"))
	assert.Contains(t, logs.String(), "lease expired before release")

	fresh()
	assert.False(t, mr.Exists("test:k"))
}

func TestRedisRenewsHeldLease(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedis(client, WithTTL(300*time.Millisecond))

	unlock, err := l.Lock(context.Background(), "graph:g1")
	require.NoError(t, err)
	defer unlock()

	mr.SetTTL("flow:lock:graph:g1", time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("flow:lock:graph:g1") == 300*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)
}
