package resilience

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps breaker state in a Redis hash so every service instance
// observes the same failure count and open/closed position. Required for
// horizontally scaled deployments; independent in-memory counters per replica
// would under-enforce the failure threshold.
//
// Mutations run as Lua scripts so concurrent replicas cannot lose failure
// increments or both claim the half-open trial slot, the same way the
// fixed-window limiter leans on atomic INCR.
type RedisStore struct {
	client *redis.Client
	key    string
}

// recordFailure increments the counter, stamps the failure time and opens the
// breaker at the threshold or on a failed half-open trial, in one round trip.
var recordFailureScript = redis.NewScript(`
local failures = redis.call('HINCRBY', KEYS[1], 'failures', 1)
redis.call('HSET', KEYS[1], 'last_failure', ARGV[1])
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	state = 'closed'
end
if state == 'half_open' or failures >= tonumber(ARGV[2]) then
	state = 'open'
end
redis.call('HSET', KEYS[1], 'state', state)
return {failures, state}
`)

// tryHalfOpen is the OPEN -> HALF_OPEN compare-and-swap; exactly one caller
// sees 1.
var tryHalfOpenScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') == 'open' then
	redis.call('HSET', KEYS[1], 'state', 'half_open')
	return 1
end
return 0
`)

func NewRedisStore(client *redis.Client, name string) *RedisStore {
	return &RedisStore{client: client, key: "breaker:" + name}
}

func (r *RedisStore) Load(ctx context.Context) (BreakerState, error) {
	vals, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return BreakerState{}, err
	}
	if len(vals) == 0 {
		return BreakerState{State: StateClosed}, nil
	}

	s := BreakerState{State: StateClosed}
	if v, ok := vals["state"]; ok && v != "" {
		s.State = State(v)
	}
	if v, ok := vals["failures"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.ConsecutiveFailures = n
		}
	}
	if v, ok := vals["last_failure"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.LastFailure = t
		}
	}
	return s, nil
}

func (r *RedisStore) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *RedisStore) RecordFailure(ctx context.Context, at time.Time, threshold int) (BreakerState, error) {
	res, err := recordFailureScript.Run(ctx, r.client, []string{r.key},
		at.UTC().Format(time.RFC3339Nano), threshold,
	).Slice()
	if err != nil {
		return BreakerState{}, fmt.Errorf("record breaker failure: %w", err)
	}
	if len(res) != 2 {
		return BreakerState{}, fmt.Errorf("record breaker failure: unexpected reply %v", res)
	}

	s := BreakerState{LastFailure: at}
	if n, ok := res[0].(int64); ok {
		s.ConsecutiveFailures = int(n)
	}
	if state, ok := res[1].(string); ok {
		s.State = State(state)
	}
	return s, nil
}

func (r *RedisStore) TryHalfOpen(ctx context.Context) (bool, error) {
	n, err := tryHalfOpenScript.Run(ctx, r.client, []string{r.key}).Int()
	if err != nil {
		return false, fmt.Errorf("breaker half-open transition: %w", err)
	}
	return n == 1, nil
}
