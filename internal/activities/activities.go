package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"mint-confirm-service/internal/modal"
	"mint-confirm-service/internal/recovery"
)

// Activities are the side effects of the confirm workflows: the pending store
// and the backend's confirm endpoint.
type Activities struct {
	Store  recovery.PendingStore
	Client recovery.ConfirmationClient
}

func (a *Activities) RecordPending(ctx context.Context, p modal.PendingConfirmation) error {
	a.Store.Upsert(p.OrderID, p.TxHash, p.CharacterID)
	activity.GetLogger(ctx).Info("recorded pending confirmation", "orderID", p.OrderID, "txHash", p.TxHash)
	return nil
}

// ConfirmOrder makes one call to the confirm endpoint and returns the order
// status it reports.
func (a *Activities) ConfirmOrder(ctx context.Context, orderID, txHash string) (modal.OrderStatus, error) {
	res, err := a.Client.Confirm(ctx, orderID, txHash)
	if err != nil {
		return "", err
	}
	return res.Status(), nil
}

func (a *Activities) ClearPending(ctx context.Context, orderID string) error {
	a.Store.Remove(orderID)
	activity.GetLogger(ctx).Info("cleared pending confirmation", "orderID", orderID)
	return nil
}

func (a *Activities) ListPending(ctx context.Context) ([]modal.PendingConfirmation, error) {
	return a.Store.ListAll(), nil
}
