package modal

import "time"

type ConfirmRequest struct {
	OrderID     string        `json:"orderId"`
	TxHash      string        `json:"txHash"`
	CharacterID string        `json:"characterId,omitempty"`
	MaxAttempts int           `json:"maxAttempts,omitempty"`
	BackoffBase time.Duration `json:"backoffBase,omitempty"`
}

// WithRecoveryDefaults fills unset retry settings.
func (r ConfirmRequest) WithRecoveryDefaults(maxAttempts int, backoffBase time.Duration) ConfirmRequest {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = maxAttempts
	}
	if r.BackoffBase <= 0 {
		r.BackoffBase = backoffBase
	}
	return r
}

// ConfirmProgress is what the "status" query of a confirm workflow returns.
type ConfirmProgress struct {
	OrderID    string      `json:"orderId"`
	TxHash     string      `json:"txHash"`
	Attempts   int         `json:"attempts"`
	LastStatus OrderStatus `json:"lastStatus,omitempty"`
	LastError  string      `json:"lastError,omitempty"`
	Outcome    string      `json:"outcome,omitempty"`
}

type AuditEvent struct {
	At      time.Time      `json:"at"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
