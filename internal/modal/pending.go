package modal

import "time"

// PendingConfirmation is a mint payment that was sent on-chain but not yet
// acknowledged by the backend.
type PendingConfirmation struct {
	OrderID     string `json:"orderId"`
	TxHash      string `json:"txHash"`
	CharacterID string `json:"characterId,omitempty"`
	UpdatedAt   int64  `json:"updatedAt"` // unix millis
}

func (p PendingConfirmation) UpdatedTime() time.Time {
	return time.UnixMilli(p.UpdatedAt).UTC()
}

type FlushReport struct {
	Total     int      `json:"total"`
	Confirmed int      `json:"confirmed"`
	Kept      int      `json:"kept"`
	KeptIDs   []string `json:"keptIds,omitempty"`
}
