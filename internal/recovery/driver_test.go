package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mint-confirm-service/internal/kv"
	"mint-confirm-service/internal/modal"
	"mint-confirm-service/internal/pending"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedClient answers each Confirm call with the next scripted step and
// records the calls it saw.
type scriptedClient struct {
	mu    sync.Mutex
	steps []func(orderID string) (*modal.ConfirmResult, error)
	calls []string
}

func (c *scriptedClient) Confirm(_ context.Context, orderID, _ string) (*modal.ConfirmResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, orderID)
	step := c.steps[len(c.steps)-1]
	if len(c.calls) <= len(c.steps) {
		step = c.steps[len(c.calls)-1]
	}
	return step(orderID)
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func status(s string) func(string) (*modal.ConfirmResult, error) {
	return func(string) (*modal.ConfirmResult, error) {
		return &modal.ConfirmResult{Order: &modal.MintOrder{Status: modal.OrderStatus(s)}}, nil
	}
}

func fail(string) (*modal.ConfirmResult, error) {
	return nil, errors.New("network down")
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestDriver(client ConfirmationClient) (*Driver, *pending.Store, *sleepRecorder) {
	store := pending.New(kv.NewMemory())
	rec := &sleepRecorder{}
	return NewDriver(store, client, WithSleeper(rec.sleep)), store, rec
}

func TestConfirmWithRecovery_FirstCallConfirms(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){status("confirmed")}}
	d, store, rec := newTestDriver(client)

	ok := d.ConfirmWithRecovery(context.Background(), "o1", "0xabc", 0)

	assert.True(t, ok)
	assert.Equal(t, 1, client.callCount())
	assert.Empty(t, rec.delays)
	_, found := store.Get("o1")
	assert.False(t, found)
}

func TestConfirmWithRecovery_StatusIsCaseInsensitive(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){status("CONFIRMED")}}
	d, _, _ := newTestDriver(client)

	assert.True(t, d.ConfirmWithRecovery(context.Background(), "o1", "0xabc", 0))
}

func TestConfirmWithRecovery_RetriesAfterErrorsWithLinearBackoff(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){
		fail, fail, status("confirmed"),
	}}
	d, store, rec := newTestDriver(client)

	ok := d.ConfirmWithRecovery(context.Background(), "o1", "0xabc", 4)

	assert.True(t, ok)
	assert.Equal(t, 3, client.callCount())
	assert.Equal(t, []time.Duration{1200 * time.Millisecond, 2400 * time.Millisecond}, rec.delays)
	_, found := store.Get("o1")
	assert.False(t, found)
}

func TestConfirmWithRecovery_ExhaustionKeepsRecord(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){fail}}
	d, store, rec := newTestDriver(client)

	ok := d.ConfirmWithRecovery(context.Background(), "o2", "0xdef", 3)

	assert.False(t, ok)
	assert.Equal(t, 3, client.callCount())
	// No sleep after the final attempt.
	assert.Equal(t, []time.Duration{1200 * time.Millisecond, 2400 * time.Millisecond}, rec.delays)

	got, found := store.Get("o2")
	require.True(t, found)
	assert.Equal(t, "0xdef", got.TxHash)
}

func TestConfirmWithRecovery_NotConfirmedRetriesWithoutDelay(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){status("pending")}}
	d, store, rec := newTestDriver(client)

	ok := d.ConfirmWithRecovery(context.Background(), "o3", "0x333", 4)

	assert.False(t, ok)
	assert.Equal(t, 4, client.callCount())
	assert.Empty(t, rec.delays)
	_, found := store.Get("o3")
	assert.True(t, found)
}

func TestConfirmWithRecovery_NilResultIsNotConfirmed(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){
		func(string) (*modal.ConfirmResult, error) { return nil, nil },
		func(string) (*modal.ConfirmResult, error) { return &modal.ConfirmResult{}, nil },
	}}
	d, _, _ := newTestDriver(client)

	assert.False(t, d.ConfirmWithRecovery(context.Background(), "o1", "0x1", 2))
	assert.Equal(t, 2, client.callCount())
}

func TestConfirmWithRecovery_PanickingClientCountsAsFailure(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){
		func(string) (*modal.ConfirmResult, error) { panic("boom") },
		status("confirmed"),
	}}
	d, _, rec := newTestDriver(client)

	assert.True(t, d.ConfirmWithRecovery(context.Background(), "o1", "0x1", 4))
	assert.Equal(t, []time.Duration{1200 * time.Millisecond}, rec.delays)
}

func TestConfirmWithRecovery_RecordsBeforeFirstAttempt(t *testing.T) {
	store := pending.New(kv.NewMemory())
	var seen bool
	client := ConfirmFunc(func(_ context.Context, orderID, txHash string) (*modal.ConfirmResult, error) {
		got, ok := store.Get(orderID)
		seen = ok && got.TxHash == txHash
		return nil, errors.New("unreachable backend")
	})
	d := NewDriver(store, client, WithSleeper(func(context.Context, time.Duration) error { return nil }))

	d.ConfirmWithRecoveryFor(context.Background(), modal.PendingConfirmation{
		OrderID: "o1", TxHash: "0xabc", CharacterID: "c7",
	}, 1)

	assert.True(t, seen)
	got, ok := store.Get("o1")
	require.True(t, ok)
	assert.Equal(t, "c7", got.CharacterID)
}

func TestConfirmWithRecovery_UsesDriverDefaults(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){fail}}
	store := pending.New(kv.NewMemory())
	rec := &sleepRecorder{}
	d := NewDriver(store, client,
		WithSleeper(rec.sleep), WithMaxAttempts(2), WithBackoffBase(10*time.Millisecond))

	assert.False(t, d.ConfirmWithRecovery(context.Background(), "o1", "0x1", 0))
	assert.Equal(t, 2, client.callCount())
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, rec.delays)
}

func TestConfirmWithRecovery_NonPositiveBudgetUsesDefault(t *testing.T) {
	for _, budget := range []int{0, -1, -10} {
		client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){status("pending")}}
		d, store, rec := newTestDriver(client)

		assert.False(t, d.ConfirmWithRecovery(context.Background(), "o1", "0x1", budget))
		assert.Equal(t, DefaultMaxAttempts, client.callCount(), "budget %d", budget)
		assert.Empty(t, rec.delays)
		_, ok := store.Get("o1")
		assert.True(t, ok, "budget %d", budget)
	}
}

func TestConfirmWithRecovery_CancelledDuringBackoff(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){fail}}
	store := pending.New(kv.NewMemory())
	d := NewDriver(store, client, WithBackoffBase(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() {
		done <- d.ConfirmWithRecovery(ctx, "o1", "0x1", 4)
	}()

	require.Eventually(t, func() bool { return client.callCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("ConfirmWithRecovery did not return after cancellation")
	}
	assert.Equal(t, 1, client.callCount())
	_, found := store.Get("o1")
	assert.True(t, found)
}

func TestConfirmWithRecovery_RealSleeperWaits(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){fail, status("confirmed")}}
	d := NewDriver(pending.New(kv.NewMemory()), client, WithBackoffBase(20*time.Millisecond))

	start := time.Now()
	assert.True(t, d.ConfirmWithRecovery(context.Background(), "o1", "0x1", 4))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestFlushPending_RemovesOnlyConfirmed(t *testing.T) {
	store := pending.New(kv.NewMemory())
	store.Upsert("o1", "0x1", "")
	store.Upsert("o2", "0x2", "")

	var calls []string
	client := ConfirmFunc(func(_ context.Context, orderID, _ string) (*modal.ConfirmResult, error) {
		calls = append(calls, orderID)
		if orderID == "o1" {
			return &modal.ConfirmResult{Order: &modal.MintOrder{Status: modal.OrderConfirmed}}, nil
		}
		return nil, errors.New("timeout")
	})
	d := NewDriver(store, client)

	report := d.FlushPending(context.Background())

	assert.Equal(t, []string{"o1", "o2"}, calls)
	all := store.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, "o2", all[0].OrderID)
	assert.Equal(t, modal.FlushReport{Total: 2, Confirmed: 1, Kept: 1, KeptIDs: []string{"o2"}}, report)
}

func TestFlushPending_KeepsNotYetConfirmedAndCallsOnce(t *testing.T) {
	store := pending.New(kv.NewMemory())
	store.Upsert("o1", "0x1", "")

	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){status("verifying")}}
	d := NewDriver(store, client)

	report := d.FlushPending(context.Background())

	assert.Equal(t, 1, client.callCount())
	assert.Equal(t, 1, report.Kept)
	_, found := store.Get("o1")
	assert.True(t, found)
}

func TestFlushPending_EmptyStore(t *testing.T) {
	client := &scriptedClient{steps: []func(string) (*modal.ConfirmResult, error){status("confirmed")}}
	d := NewDriver(pending.New(kv.NewMemory()), client)

	report := d.FlushPending(context.Background())

	assert.Equal(t, modal.FlushReport{}, report)
	assert.Equal(t, 0, client.callCount())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 1200*time.Millisecond, Backoff(DefaultBackoffBase, 0))
	assert.Equal(t, 2400*time.Millisecond, Backoff(DefaultBackoffBase, 1))
	assert.Equal(t, 3600*time.Millisecond, Backoff(DefaultBackoffBase, 2))
}
