// Package recovery makes sure the backend hears about mint payments that were
// already sent on-chain.
//
// ConfirmWithRecovery records the (order, tx) pair in the pending store before
// it contacts the backend, retries failed calls with linear backoff, and only
// removes the record once the backend reports the order as confirmed.
// FlushPending sweeps records left behind by an earlier run.
package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mint-confirm-service/internal/modal"
)

const (
	DefaultMaxAttempts = 4
	DefaultBackoffBase = 1200 * time.Millisecond
)

// ConfirmationClient performs exactly one round-trip to the backend's
// confirmation endpoint.
type ConfirmationClient interface {
	Confirm(ctx context.Context, orderID, txHash string) (*modal.ConfirmResult, error)
}

// ConfirmFunc adapts an ordinary function to ConfirmationClient.
type ConfirmFunc func(ctx context.Context, orderID, txHash string) (*modal.ConfirmResult, error)

func (f ConfirmFunc) Confirm(ctx context.Context, orderID, txHash string) (*modal.ConfirmResult, error) {
	return f(ctx, orderID, txHash)
}

// PendingStore is the subset of pending.Store the driver needs.
type PendingStore interface {
	Upsert(orderID, txHash, characterID string)
	Remove(orderID string)
	ListAll() []modal.PendingConfirmation
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Driver struct {
	store       PendingStore
	client      ConfirmationClient
	logger      *zap.Logger
	maxAttempts int
	backoffBase time.Duration
	sleep       Sleeper
}

type Option func(*Driver)

func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMaxAttempts sets the attempt budget used when a call passes maxAttempts <= 0.
func WithMaxAttempts(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithBackoffBase(base time.Duration) Option {
	return func(d *Driver) {
		if base > 0 {
			d.backoffBase = base
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(d *Driver) {
		if s != nil {
			d.sleep = s
		}
	}
}

func NewDriver(store PendingStore, client ConfirmationClient, opts ...Option) *Driver {
	d := &Driver{
		store:       store,
		client:      client,
		logger:      zap.NewNop(),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Backoff is the delay after the failed attempt with zero-based index attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt+1)
}

// ConfirmWithRecovery tells the backend that txHash paid for orderID. It
// reports whether the backend confirmed the order; on false the record stays
// in the store for FlushPending or a manual retry. maxAttempts <= 0 uses the
// driver default.
func (d *Driver) ConfirmWithRecovery(ctx context.Context, orderID, txHash string, maxAttempts int) bool {
	return d.ConfirmWithRecoveryFor(ctx, modal.PendingConfirmation{OrderID: orderID, TxHash: txHash}, maxAttempts)
}

// ConfirmWithRecoveryFor is ConfirmWithRecovery with the character id kept on
// the pending record.
func (d *Driver) ConfirmWithRecoveryFor(ctx context.Context, p modal.PendingConfirmation, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = d.maxAttempts
	}
	log := d.logger.With(zap.String("orderId", p.OrderID), zap.String("txHash", p.TxHash))

	// Record first: if the process dies mid-call the intent survives.
	d.store.Upsert(p.OrderID, p.TxHash, p.CharacterID)

	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			log.Info("confirmation abandoned, record kept", zap.Int("attempt", i+1), zap.Error(err))
			return false
		}

		res, err := d.confirmOnce(ctx, p.OrderID, p.TxHash)
		if err == nil {
			if res.Confirmed() {
				d.store.Remove(p.OrderID)
				log.Info("mint order confirmed", zap.Int("attempt", i+1))
				return true
			}
			// Not confirmed yet is not a failure: poll again straight away.
			log.Debug("mint order not confirmed yet",
				zap.Int("attempt", i+1), zap.String("status", string(res.Status())))
			continue
		}

		log.Warn("confirm call failed", zap.Int("attempt", i+1), zap.Error(err))
		if i < maxAttempts-1 {
			if err := d.sleep(ctx, Backoff(d.backoffBase, i)); err != nil {
				log.Info("confirmation abandoned, record kept", zap.Int("attempt", i+1), zap.Error(err))
				return false
			}
		}
	}

	log.Warn("confirmation attempts exhausted, record kept", zap.Int("attempts", maxAttempts))
	return false
}

// FlushPending tries every stored record once, in listing order, and removes
// the ones the backend reports as confirmed. Everything else is kept for a
// later flush.
func (d *Driver) FlushPending(ctx context.Context) modal.FlushReport {
	all := d.store.ListAll()
	report := modal.FlushReport{Total: len(all)}

	for _, it := range all {
		res, err := d.confirmOnce(ctx, it.OrderID, it.TxHash)
		if err == nil && res.Confirmed() {
			d.store.Remove(it.OrderID)
			report.Confirmed++
			continue
		}
		if err != nil {
			d.logger.Debug("flush: confirm call failed", zap.String("orderId", it.OrderID), zap.Error(err))
		}
		report.Kept++
		report.KeptIDs = append(report.KeptIDs, it.OrderID)
	}

	if report.Total > 0 {
		d.logger.Info("flushed pending mint confirmations",
			zap.Int("total", report.Total), zap.Int("confirmed", report.Confirmed), zap.Int("kept", report.Kept))
	}
	return report
}

// confirmOnce turns a panicking client into an ordinary error.
func (d *Driver) confirmOnce(ctx context.Context, orderID, txHash string) (res *modal.ConfirmResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("confirm client panicked: %v", r)
		}
	}()
	return d.client.Confirm(ctx, orderID, txHash)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
