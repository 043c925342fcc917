package workflows

import (
	"go.temporal.io/sdk/workflow"

	"mint-confirm-service/internal/modal"
)

// FlushPendingConfirms sweeps the pending store once: every record gets one
// confirm call, confirmed ones are cleared and the rest wait for the next
// sweep.
func FlushPendingConfirms(ctx workflow.Context) (modal.FlushReport, error) {
	logger := workflow.GetLogger(ctx)

	storeCtx := workflow.WithActivityOptions(ctx, storeActivityOptions)
	confirmCtx := workflow.WithActivityOptions(ctx, confirmActivityOptions)

	var all []modal.PendingConfirmation
	if err := workflow.ExecuteActivity(storeCtx, "ListPending").Get(ctx, &all); err != nil {
		return modal.FlushReport{}, err
	}

	report := modal.FlushReport{Total: len(all)}
	for _, it := range all {
		var status modal.OrderStatus
		err := workflow.ExecuteActivity(confirmCtx, "ConfirmOrder", it.OrderID, it.TxHash).Get(ctx, &status)
		if err == nil && modal.IsConfirmed(string(status)) {
			if err := workflow.ExecuteActivity(storeCtx, "ClearPending", it.OrderID).Get(ctx, nil); err != nil {
				logger.Warn("failed to clear pending confirmation", "orderID", it.OrderID, "error", err)
			}
			report.Confirmed++
			continue
		}
		report.Kept++
		report.KeptIDs = append(report.KeptIDs, it.OrderID)
	}

	logger.Info("flush finished", "total", report.Total, "confirmed", report.Confirmed, "kept", report.Kept)
	return report, nil
}
