package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Task is a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

// Enqueuer publishes tasks to Redis-backed queues. Tasks live in a sorted set
// scored by their availability time, so delayed and retried tasks share one
// structure with immediately-due ones.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
}

// Enqueue inserts the task. With an idempotency key the task is enqueued at
// most once per deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	if t.Kind == "" {
		return errors.New("queue: task kind is required")
	}

	msg := taskMessage{
		Kind:        t.Kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 5
	}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		ok, err := e.R.SetNX(ctx, dedupKey(e.Prefix, msg.Kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup check: %w", err)
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal task: %w", err)
	}
	return e.R.ZAdd(ctx, queueKey(e.Prefix, msg.Kind), redis.Z{
		Score:  float64(msg.AvailableAt),
		Member: raw,
	}).Err()
}

// Worker consumes tasks of one kind. Failed tasks are retried with exponential
// backoff until MaxAttempts, then dropped to the dead letter list.
type Worker struct {
	R            *redis.Client
	Prefix       string
	Kind         string
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Run processes tasks until the context is cancelled.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	if w.Kind == "" {
		return errors.New("queue: worker kind is required")
	}

	poll := w.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		processed, err := w.processOne(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if !processed {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(poll):
			}
		}
	}
}

// processOne claims and handles the earliest due task. Returns false when the
// queue has no due task.
func (w Worker) processOne(ctx context.Context) (bool, error) {
	key := queueKey(w.Prefix, w.Kind)
	now := time.Now().UnixNano()

	due, err := w.R.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Count: 1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("queue: poll: %w", err)
	}
	if len(due) == 0 {
		return false, nil
	}

	raw := due[0]
	// ZRem is the claim: only one worker wins the removal.
	removed, err := w.R.ZRem(ctx, key, raw).Result()
	if err != nil {
		return false, fmt.Errorf("queue: claim: %w", err)
	}
	if removed == 0 {
		return true, nil
	}

	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		w.Logger.Error().Err(err).Str("kind", w.Kind).Msg("dropping undecodable task")
		return true, nil
	}
	msg.Attempt++

	handlerErr := w.Handler(ctx, Task{Kind: msg.Kind, Payload: msg.Payload, IdempotencyKey: msg.Key})
	if handlerErr == nil {
		if msg.Key != "" {
			_ = w.R.Del(ctx, dedupKey(w.Prefix, msg.Kind, msg.Key)).Err()
		}
		return true, nil
	}

	if msg.Attempt >= msg.MaxAttempts {
		w.Logger.Error().Err(handlerErr).
			Str("kind", msg.Kind).Int("attempt", msg.Attempt).
			Msg("task exhausted retries, moving to dead letter list")
		if encoded, err := json.Marshal(msg); err == nil {
			_ = w.R.LPush(ctx, dlqKey(w.Prefix, msg.Kind), encoded).Err()
		}
		if msg.Key != "" {
			_ = w.R.Del(ctx, dedupKey(w.Prefix, msg.Kind, msg.Key)).Err()
		}
		return true, nil
	}

	msg.AvailableAt = time.Now().Add(backoff(w.RetryBase, msg.Attempt)).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return true, nil
	}
	w.Logger.Warn().Err(handlerErr).
		Str("kind", msg.Kind).Int("attempt", msg.Attempt).
		Msg("task failed, scheduling retry")
	return true, w.R.ZAdd(ctx, key, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
}

// backoff doubles the base delay per attempt with up to 25% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	delay := base
	for i := 1; i < attempt && delay < time.Minute; i++ {
		delay *= 2
	}
	if delay > time.Minute {
		delay = time.Minute
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func queueKey(prefix, kind string) string {
	if prefix == "" {
		return "queue:" + kind
	}
	return prefix + ":queue:" + kind
}

func dlqKey(prefix, kind string) string {
	return queueKey(prefix, kind) + ":dlq"
}

func dedupKey(prefix, kind, key string) string {
	if prefix == "" {
		return "queue:dedup:" + kind + ":" + key
	}
	return prefix + ":dedup:" + kind + ":" + key
}
