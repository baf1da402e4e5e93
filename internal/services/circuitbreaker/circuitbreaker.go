package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// State is the classic three-state breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	keyPrefix = "provider_gateway:breaker:"

	stateKey        = "state"
	failureCountKey = "failure_count"
	successCountKey = "success_count"
	lastFailureKey  = "last_failure_time"
	lastChangeKey   = "last_state_change"

	opTimeout = 1 * time.Second
)

// Lua keeps count-and-transition atomic across gateway instances sharing
// the same redis.
const (
	// KEYS: state, failure_count, success_count, last_state_change
	// ARGV: success threshold, now (unix seconds)
	successScript = `
		local state = tonumber(redis.call('GET', KEYS[1]) or '0')
		redis.call('SET', KEYS[2], 0)

		if state == 2 then
			local count = redis.call('INCR', KEYS[3])
			if count >= tonumber(ARGV[1]) then
				redis.call('SET', KEYS[1], 0)
				redis.call('SET', KEYS[3], 0)
				redis.call('SET', KEYS[4], ARGV[2])
				return 2
			end
			return 1
		end
		return 0
	`

	// KEYS: state, failure_count, last_failure_time, last_state_change, success_count
	// ARGV: failure threshold, now (unix seconds)
	failureScript = `
		local state = tonumber(redis.call('GET', KEYS[1]) or '0')
		local failures = redis.call('INCR', KEYS[2])
		redis.call('SET', KEYS[3], ARGV[2])

		if (state == 0 and failures >= tonumber(ARGV[1])) or state == 2 then
			redis.call('SET', KEYS[1], 1)
			redis.call('SET', KEYS[4], ARGV[2])
			redis.call('SET', KEYS[5], '0')
			return 1
		end
		return 0
	`
)

// Breaker gates calls to one provider. Failures past the threshold open the
// circuit; after the cool-off a half-open probe decides whether it closes
// again. State lives in redis so every gateway instance sees the same
// verdict.
type Breaker struct {
	redisClient  *redis.Client
	providerCode string
	prefix       string

	failureThreshold int
	successThreshold int
	coolOff          time.Duration
}

func New(redisClient *redis.Client, providerCode string, cfg models.CircuitBreakerConfig) *Breaker {
	b := &Breaker{
		redisClient:      redisClient,
		providerCode:     providerCode,
		prefix:           keyPrefix + providerCode + ":",
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		coolOff:          time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if b.failureThreshold <= 0 {
		b.failureThreshold = 5
	}
	if b.successThreshold <= 0 {
		b.successThreshold = 3
	}
	if b.coolOff <= 0 {
		b.coolOff = 30 * time.Second
	}

	b.initState()
	return b
}

func (b *Breaker) key(name string) string {
	return b.prefix + name
}

func (b *Breaker) initState() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	exists, err := b.redisClient.Exists(ctx, b.key(stateKey)).Result()
	if err != nil {
		fiberlog.Errorf("breaker %s: state probe failed: %v", b.providerCode, err)
		return
	}
	if exists != 0 {
		return
	}

	pipe := b.redisClient.Pipeline()
	pipe.Set(ctx, b.key(stateKey), int(Closed), 0)
	pipe.Set(ctx, b.key(failureCountKey), 0, 0)
	pipe.Set(ctx, b.key(successCountKey), 0, 0)
	pipe.Set(ctx, b.key(lastChangeKey), time.Now().Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		fiberlog.Errorf("breaker %s: state init failed: %v", b.providerCode, err)
	}
}

// CanExecute reports whether a call to the provider may proceed. Redis
// trouble fails open: a broken breaker must not take the gateway down.
func (b *Breaker) CanExecute() bool {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	state, err := b.state(ctx)
	if err != nil {
		fiberlog.Errorf("breaker %s: state read failed, allowing: %v", b.providerCode, err)
		return true
	}

	switch state {
	case Closed, HalfOpen:
		return true
	case Open:
		lastFailure, err := b.redisClient.Get(ctx, b.key(lastFailureKey)).Int64()
		if err != nil {
			fiberlog.Errorf("breaker %s: last failure read failed: %v", b.providerCode, err)
			return false
		}
		if time.Since(time.Unix(lastFailure, 0)) > b.coolOff {
			return b.transition(HalfOpen)
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	keys := []string{
		b.key(stateKey),
		b.key(failureCountKey),
		b.key(successCountKey),
		b.key(lastChangeKey),
	}
	result, err := b.redisClient.Eval(ctx, successScript, keys, b.successThreshold, time.Now().Unix()).Int()
	if err != nil {
		fiberlog.Errorf("breaker %s: success record failed: %v", b.providerCode, err)
		return
	}
	if result == 2 {
		fiberlog.Infof("breaker %s: closed after recovery", b.providerCode)
	}
}

func (b *Breaker) RecordFailure() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	keys := []string{
		b.key(stateKey),
		b.key(failureCountKey),
		b.key(lastFailureKey),
		b.key(lastChangeKey),
		b.key(successCountKey),
	}
	result, err := b.redisClient.Eval(ctx, failureScript, keys, b.failureThreshold, time.Now().Unix()).Int()
	if err != nil {
		fiberlog.Errorf("breaker %s: failure record failed: %v", b.providerCode, err)
		return
	}
	if result == 1 {
		fiberlog.Warnf("breaker %s: opened after repeated failures", b.providerCode)
	}
}

// GetState returns the current circuit state, defaulting closed on error.
func (b *Breaker) GetState() State {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	state, err := b.state(ctx)
	if err != nil {
		return Closed
	}
	return state
}

// Reset forces the breaker back to closed; admin escape hatch.
func (b *Breaker) Reset() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := b.redisClient.Pipeline()
	pipe.Set(ctx, b.key(stateKey), int(Closed), 0)
	pipe.Set(ctx, b.key(failureCountKey), 0, 0)
	pipe.Set(ctx, b.key(successCountKey), 0, 0)
	pipe.Set(ctx, b.key(lastChangeKey), time.Now().Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		fiberlog.Errorf("breaker %s: reset failed: %v", b.providerCode, err)
	}
}

func (b *Breaker) state(ctx context.Context) (State, error) {
	raw, err := b.redisClient.Get(ctx, b.key(stateKey)).Result()
	if err != nil {
		return Closed, fmt.Errorf("failed to read breaker state: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Closed, fmt.Errorf("invalid breaker state %q: %w", raw, err)
	}
	return State(n), nil
}

func (b *Breaker) transition(newState State) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for attempt := 0; attempt < 3; attempt++ {
		err := b.redisClient.Watch(ctx, func(tx *redis.Tx) error {
			current, err := b.state(ctx)
			if err != nil {
				return err
			}
			if current == newState {
				return nil
			}

			pipe := tx.TxPipeline()
			pipe.Set(ctx, b.key(stateKey), int(newState), 0)
			pipe.Set(ctx, b.key(lastChangeKey), time.Now().Unix(), 0)
			if newState != HalfOpen {
				pipe.Set(ctx, b.key(successCountKey), 0, 0)
			}
			_, err = pipe.Exec(ctx)
			return err
		}, b.key(stateKey))

		if err == nil {
			fiberlog.Debugf("breaker %s: now %s", b.providerCode, newState)
			return true
		}
		if err != redis.TxFailedErr {
			fiberlog.Errorf("breaker %s: transition failed: %v", b.providerCode, err)
			return false
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return false
}
