package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

const (
	QueueDefault = "reconcile"

	TaskRun    = "reconcile:run"
	TaskRepair = "reconcile:repair"
	TaskSweep  = "reconcile:sweep"
)

// Kind is the public name of a scope task.
type Kind string

const (
	KindRun    Kind = "run"
	KindRepair Kind = "repair"
)

func (k Kind) TaskType() (string, error) {
	switch k {
	case KindRun:
		return TaskRun, nil
	case KindRepair:
		return TaskRepair, nil
	}

	return "", fmt.Errorf("unknown job kind %q", k)
}

// SweepPayload lists the companies a sweep enqueues runs for.
type SweepPayload struct {
	CompanyIDs []uuid.UUID `json:"company_ids"`
}

// NewScopeTask builds a run or repair task for scope. The payload is the
// scope itself, so two tasks for the same scope and kind are identical.
func NewScopeTask(kind Kind, scope ledger.Scope) (*asynq.Task, error) {
	typ, err := kind.TaskType()
	if err != nil {
		return nil, err
	}

	if err := scope.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(scope)
	if err != nil {
		return nil, fmt.Errorf("marshal scope: %w", err)
	}

	return asynq.NewTask(typ, data), nil
}

func NewSweepTask(companyIDs []uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(SweepPayload{CompanyIDs: companyIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal sweep: %w", err)
	}

	return asynq.NewTask(TaskSweep, data), nil
}

// scopeFromTask decodes a scope payload. Malformed payloads never succeed on
// retry, so they are marked SkipRetry.
func scopeFromTask(t *asynq.Task) (ledger.Scope, error) {
	var scope ledger.Scope
	if err := json.Unmarshal(t.Payload(), &scope); err != nil {
		return ledger.Scope{}, fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	if err := scope.Validate(); err != nil {
		return ledger.Scope{}, fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	return scope, nil
}
