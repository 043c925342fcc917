package modal

import "time"

type MintOrder struct {
	ID          uint64      `json:"id"`
	OrderNo     string      `json:"order_no,omitempty"`
	CharacterID uint64      `json:"character_id,omitempty"`
	Status      OrderStatus `json:"status"`
	ChainID     int64       `json:"chain_id,omitempty"`
	TokenSymbol string      `json:"token_symbol,omitempty"`
	TokenAmount string      `json:"token_amount,omitempty"`
	TxHash      string      `json:"tx_hash,omitempty"`
	BlockNumber uint64      `json:"block_number,omitempty"`
	FailReason  string      `json:"fail_reason,omitempty"`
	VerifiedAt  *time.Time  `json:"verified_at,omitempty"`
}

// ConfirmResult is the data payload returned by the confirm and get order endpoints.
type ConfirmResult struct {
	Order *MintOrder `json:"order"`
}

// Status returns the order status, or "" when the result carries no order.
func (r *ConfirmResult) Status() OrderStatus {
	if r == nil || r.Order == nil {
		return ""
	}
	return r.Order.Status
}

func (r *ConfirmResult) Confirmed() bool {
	return IsConfirmed(string(r.Status()))
}
