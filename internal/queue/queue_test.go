package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func testClients(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestEnqueueDeduplicates(t *testing.T) {
	_, client := testClients(t)
	enq := Enqueuer{R: client, Prefix: "promo", DedupTTL: time.Minute}
	ctx := context.Background()

	task := Task{Kind: "rule-audit", Payload: []byte(`{}`), IdempotencyKey: "abc"}
	if err := enq.Enqueue(ctx, task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := enq.Enqueue(ctx, task); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	n, err := client.ZCard(ctx, "promo:queue:rule-audit").Result()
	if err != nil {
		t.Fatalf("zcard: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one queued task, got %d", n)
	}
}

func TestWorkerProcessesDueTask(t *testing.T) {
	_, client := testClients(t)
	ctx := context.Background()

	enq := Enqueuer{R: client, Prefix: "promo"}
	if err := enq.Enqueue(ctx, Task{Kind: "rule-audit", Payload: []byte(`{"rule_id":"x"}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var got Task
	w := Worker{
		R: client, Prefix: "promo", Kind: "rule-audit", Logger: zerolog.Nop(),
		Handler: func(ctx context.Context, t Task) error {
			got = t
			return nil
		},
	}
	processed, err := w.processOne(ctx)
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if !processed {
		t.Fatal("expected a task to be processed")
	}
	if string(got.Payload) != `{"rule_id":"x"}` {
		t.Fatalf("unexpected payload %s", got.Payload)
	}
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	_, client := testClients(t)
	ctx := context.Background()

	enq := Enqueuer{R: client, Prefix: "promo"}
	if err := enq.Enqueue(ctx, Task{Kind: "rule-audit", Payload: []byte(`{}`), MaxAttempts: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	failures := 0
	w := Worker{
		R: client, Prefix: "promo", Kind: "rule-audit",
		RetryBase: time.Millisecond, Logger: zerolog.Nop(),
		Handler: func(ctx context.Context, t Task) error {
			failures++
			return errors.New("boom")
		},
	}

	if _, err := w.processOne(ctx); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	// RetryBase is a millisecond, so the retried task becomes due almost
	// immediately; poll until the second attempt lands.
	deadline := time.Now().Add(2 * time.Second)
	for failures < 2 && time.Now().Before(deadline) {
		if _, err := w.processOne(ctx); err != nil {
			t.Fatalf("retry attempt: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if failures != 2 {
		t.Fatalf("expected 2 attempts, got %d", failures)
	}

	n, err := client.LLen(ctx, "promo:queue:rule-audit:dlq").Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one dead-lettered task, got %d", n)
	}
}

func TestRuleAuditSchedulerPayload(t *testing.T) {
	_, client := testClients(t)
	ctx := context.Background()

	id := uuid.New()
	sched := RuleAuditScheduler{E: Enqueuer{R: client, Prefix: "promo"}}
	if err := sched.ScheduleAudit(ctx, id); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	members, err := client.ZRange(ctx, "promo:queue:rule-audit", 0, -1).Result()
	if err != nil || len(members) != 1 {
		t.Fatalf("expected one queued audit, got %d err=%v", len(members), err)
	}
	var msg struct {
		Payload []byte `json:"payload"`
		Key     string `json:"key"`
	}
	if err := json.Unmarshal([]byte(members[0]), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	var payload RuleAuditPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.RuleID != id {
		t.Fatalf("payload rule id %s, want %s", payload.RuleID, id)
	}
	if msg.Key != id.String() {
		t.Fatalf("idempotency key %q, want rule id", msg.Key)
	}
}
