package modal

import "strings"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderVerifying OrderStatus = "verifying"
	OrderConfirmed OrderStatus = "confirmed"
	OrderFailed    OrderStatus = "failed"
)

// IsConfirmed reports whether a backend status string means the order is confirmed.
// The backend is not consistent about casing, so the comparison ignores it.
func IsConfirmed(status string) bool {
	return strings.EqualFold(status, string(OrderConfirmed))
}

const (
	OutcomeConfirmed    = "CONFIRMED"
	OutcomePendingRetry = "PENDING_RETRY_LATER"
	AuditRecorded       = "RECORDED"
	AuditAttempt        = "CONFIRM_ATTEMPT"
	AuditAttemptFailed  = "CONFIRM_FAILED"
	AuditConfirmed      = "CONFIRMED"
	AuditExhausted      = "EXHAUSTED"
	AuditClearFailed    = "CLEAR_FAILED"
)
