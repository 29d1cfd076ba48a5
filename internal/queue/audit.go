package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RuleAuditKind is the task kind for background rule verification.
const RuleAuditKind = "rule-audit"

// RuleAuditPayload carries the rule to verify.
type RuleAuditPayload struct {
	RuleID uuid.UUID `json:"rule_id"`
}

// RuleAuditScheduler enqueues rule audit tasks. The rule id doubles as the
// idempotency key, so rapid consecutive edits collapse into one audit.
type RuleAuditScheduler struct {
	E           Enqueuer
	MaxAttempts int
}

func (s RuleAuditScheduler) ScheduleAudit(ctx context.Context, ruleID uuid.UUID) error {
	payload, err := json.Marshal(RuleAuditPayload{RuleID: ruleID})
	if err != nil {
		return fmt.Errorf("queue: marshal audit payload: %w", err)
	}
	return s.E.Enqueue(ctx, Task{
		Kind:           RuleAuditKind,
		Payload:        payload,
		IdempotencyKey: ruleID.String(),
		MaxAttempts:    s.MaxAttempts,
	})
}
