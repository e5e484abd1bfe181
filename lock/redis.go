package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meikuraledutech/flow"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultLeaseTTL is how long a lease lives without renewal. Held leases
	// are renewed every third of it.
	DefaultLeaseTTL = 30 * time.Second
	// DefaultRetryWait is the pause between acquisition attempts.
	DefaultRetryWait = 50 * time.Millisecond
)

// Redis uses a Redis lease to serialize runs across processes.
type Redis struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
	logger    zerolog.Logger
}

// Option configures a Redis lock.
type Option func(*Redis)

// WithTTL sets the lease TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithRetryWait sets the pause between acquisition attempts.
func WithRetryWait(d time.Duration) Option {
	return func(r *Redis) {
		r.retryWait = d
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Redis) {
		r.logger = logger
	}
}

// NewRedis creates a Redis lease lock.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	r := &Redis{
		client:    client,
		prefix:    "flow:lock:",
		ttl:       DefaultLeaseTTL,
		retryWait: DefaultRetryWait,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// releaseScript deletes the key only if we still hold it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// renewScript extends the key only if we still hold it.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// Lock retries SETNX until the lease is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	holder := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, k, holder, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("flow: acquire lease %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(r.retryWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s: %v", flow.ErrLockNotAcquired, key, ctx.Err())
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(k, holder, stop, done)

	return func() {
		close(stop)
		<-done
		// Release must not depend on the caller's ctx, which may be done already.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := r.client.Eval(ctx, releaseScript, []string{k}, holder).Int()
		switch {
		case err != nil:
			r.logger.Warn().Err(err).Str("key", key).Msg("release lease")
		case n == 0:
			r.logger.Warn().Str("key", key).Msg("lease expired before release, run was not exclusive")
		}
	}, nil
}

// renew extends the lease every third of its TTL until stop is closed.
func (r *Redis) renew(k, holder string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tick := time.NewTicker(max(r.ttl/3, time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.ttl)
		n, err := r.client.Eval(ctx, renewScript, []string{k}, holder, r.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			r.logger.Warn().Err(err).Str("key", k).Msg("renew lease")
		case n == 0:
			r.logger.Warn().Str("key", k).Msg("lease lost")
			return
		}
	}
}
