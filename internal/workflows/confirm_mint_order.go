package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"mint-confirm-service/internal/modal"
	"mint-confirm-service/internal/recovery"
)

const TaskQueue = "MINT_CONFIRM_TASK_QUEUE"

const (
	QueryAuditLog = "audit_log"
	QueryStatus   = "status"
)

type workflowState struct {
	Progress modal.ConfirmProgress `json:"progress"`
	Audit    []modal.AuditEvent    `json:"audit,omitempty"`
}

// storeActivityOptions cover the local store activities. They are cheap and
// idempotent, so Temporal may retry them.
var storeActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 10 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    1 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    3,
	},
}

// confirmActivityOptions allow a single attempt: the workflow owns the retry
// schedule for the confirm endpoint.
var confirmActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 60 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		MaximumAttempts: 1,
	},
}

// ConfirmMintOrder is the server-side form of recovery.Driver.ConfirmWithRecovery.
// The pending record is written before the first confirm call and removed only
// once the backend reports the order as confirmed. Failed calls back off
// linearly; calls that succeed without confirming are retried at once.
func ConfirmMintOrder(ctx workflow.Context, req modal.ConfirmRequest) (string, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("workflow started", "orderID", req.OrderID, "txHash", req.TxHash)

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = recovery.DefaultMaxAttempts
	}
	backoffBase := req.BackoffBase
	if backoffBase <= 0 {
		backoffBase = recovery.DefaultBackoffBase
	}

	state := &workflowState{
		Progress: modal.ConfirmProgress{OrderID: req.OrderID, TxHash: req.TxHash},
		Audit:    make([]modal.AuditEvent, 0),
	}
	appendAudit := func(kind, message string, data map[string]any) {
		state.Audit = append(state.Audit, modal.AuditEvent{
			At:      workflow.Now(ctx),
			Kind:    kind,
			Message: message,
			Data:    data,
		})
	}

	_ = workflow.SetQueryHandler(ctx, QueryAuditLog, func() ([]modal.AuditEvent, error) {
		return state.Audit, nil
	})
	_ = workflow.SetQueryHandler(ctx, QueryStatus, func() (modal.ConfirmProgress, error) {
		return state.Progress, nil
	})

	storeCtx := workflow.WithActivityOptions(ctx, storeActivityOptions)
	confirmCtx := workflow.WithActivityOptions(ctx, confirmActivityOptions)

	record := modal.PendingConfirmation{OrderID: req.OrderID, TxHash: req.TxHash, CharacterID: req.CharacterID}
	if err := workflow.ExecuteActivity(storeCtx, "RecordPending", record).Get(ctx, nil); err != nil {
		// The confirm call is still worth making without the local backstop.
		logger.Warn("failed to record pending confirmation", "error", err)
	} else {
		appendAudit(modal.AuditRecorded, "pending confirmation recorded", nil)
	}

	for i := 0; i < maxAttempts; i++ {
		attempt := i + 1
		state.Progress.Attempts = attempt

		var status modal.OrderStatus
		err := workflow.ExecuteActivity(confirmCtx, "ConfirmOrder", req.OrderID, req.TxHash).Get(ctx, &status)
		if err == nil {
			state.Progress.LastStatus = status
			state.Progress.LastError = ""
			appendAudit(modal.AuditAttempt, "confirm call answered", map[string]any{
				"attempt": attempt,
				"status":  status,
			})
			if modal.IsConfirmed(string(status)) {
				if err := workflow.ExecuteActivity(storeCtx, "ClearPending", req.OrderID).Get(ctx, nil); err != nil {
					// A later flush sees the order confirmed and drops the record.
					logger.Warn("failed to clear pending confirmation", "orderID", req.OrderID, "error", err)
					appendAudit(modal.AuditClearFailed, "pending record left for the next flush", map[string]any{
						"error": err.Error(),
					})
				}
				state.Progress.Outcome = modal.OutcomeConfirmed
				appendAudit(modal.AuditConfirmed, "mint order confirmed", map[string]any{"attempt": attempt})
				return modal.OutcomeConfirmed, nil
			}
			continue
		}

		state.Progress.LastError = err.Error()
		appendAudit(modal.AuditAttemptFailed, "confirm call failed", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		if i < maxAttempts-1 {
			if err := workflow.Sleep(ctx, recovery.Backoff(backoffBase, i)); err != nil {
				state.Progress.Outcome = modal.OutcomePendingRetry
				return modal.OutcomePendingRetry, err
			}
		}
	}

	state.Progress.Outcome = modal.OutcomePendingRetry
	appendAudit(modal.AuditExhausted, "attempts exhausted, record kept for later recovery", map[string]any{
		"attempts": maxAttempts,
	})
	logger.Info("confirmation attempts exhausted", "orderID", req.OrderID, "attempts", maxAttempts)
	return modal.OutcomePendingRetry, nil
}
