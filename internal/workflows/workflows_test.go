package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"mint-confirm-service/internal/activities"
	"mint-confirm-service/internal/kv"
	"mint-confirm-service/internal/modal"
	"mint-confirm-service/internal/pending"
)

// backendFake answers confirm calls per order from a script; the last entry
// repeats once the script runs out.
type backendFake struct {
	mu     sync.Mutex
	script map[string][]string // "error" or a status
	calls  map[string]int
}

func newBackendFake(script map[string][]string) *backendFake {
	return &backendFake{script: script, calls: make(map[string]int)}
}

func (b *backendFake) Confirm(_ context.Context, orderID, _ string) (*modal.ConfirmResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	steps := b.script[orderID]
	n := b.calls[orderID]
	b.calls[orderID] = n + 1
	if len(steps) == 0 {
		return nil, errors.New("unknown order")
	}
	step := steps[len(steps)-1]
	if n < len(steps) {
		step = steps[n]
	}
	if step == "error" {
		return nil, errors.New("backend unavailable")
	}
	return &modal.ConfirmResult{Order: &modal.MintOrder{Status: modal.OrderStatus(step)}}, nil
}

func (b *backendFake) callsFor(orderID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[orderID]
}

type harness struct {
	env    *testsuite.TestWorkflowEnvironment
	store  *pending.Store
	timers []time.Duration
}

func newHarness(t *testing.T, backend *backendFake) *harness {
	t.Helper()
	var s testsuite.WorkflowTestSuite
	h := &harness{
		env:   s.NewTestWorkflowEnvironment(),
		store: pending.New(kv.NewMemory()),
	}
	h.env.RegisterActivity(&activities.Activities{Store: h.store, Client: backend})
	h.env.SetOnTimerScheduledListener(func(_ string, d time.Duration) {
		h.timers = append(h.timers, d)
	})
	return h
}

func TestConfirmMintOrder_ConfirmedOnFirstCall(t *testing.T) {
	backend := newBackendFake(map[string][]string{"o1": {"confirmed"}})
	h := newHarness(t, backend)

	h.env.ExecuteWorkflow(ConfirmMintOrder, modal.ConfirmRequest{OrderID: "o1", TxHash: "0xabc"})

	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())
	var outcome string
	require.NoError(t, h.env.GetWorkflowResult(&outcome))
	assert.Equal(t, modal.OutcomeConfirmed, outcome)
	assert.Equal(t, 1, backend.callsFor("o1"))
	assert.Empty(t, h.timers)

	_, found := h.store.Get("o1")
	assert.False(t, found)
}

func TestConfirmMintOrder_BacksOffAfterFailures(t *testing.T) {
	backend := newBackendFake(map[string][]string{"o1": {"error", "error", "CONFIRMED"}})
	h := newHarness(t, backend)

	h.env.ExecuteWorkflow(ConfirmMintOrder, modal.ConfirmRequest{OrderID: "o1", TxHash: "0xabc", MaxAttempts: 4})

	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())
	var outcome string
	require.NoError(t, h.env.GetWorkflowResult(&outcome))
	assert.Equal(t, modal.OutcomeConfirmed, outcome)
	assert.Equal(t, 3, backend.callsFor("o1"))
	assert.Equal(t, []time.Duration{1200 * time.Millisecond, 2400 * time.Millisecond}, h.timers)
}

func TestConfirmMintOrder_ExhaustedKeepsRecord(t *testing.T) {
	backend := newBackendFake(map[string][]string{"o2": {"error"}})
	h := newHarness(t, backend)

	h.env.ExecuteWorkflow(ConfirmMintOrder, modal.ConfirmRequest{
		OrderID: "o2", TxHash: "0xdef", CharacterID: "c1", MaxAttempts: 3,
	})

	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())
	var outcome string
	require.NoError(t, h.env.GetWorkflowResult(&outcome))
	assert.Equal(t, modal.OutcomePendingRetry, outcome)
	assert.Equal(t, 3, backend.callsFor("o2"))
	assert.Len(t, h.timers, 2)

	got, found := h.store.Get("o2")
	require.True(t, found)
	assert.Equal(t, "0xdef", got.TxHash)
	assert.Equal(t, "c1", got.CharacterID)
}

func TestConfirmMintOrder_PendingStatusRetriesWithoutTimer(t *testing.T) {
	backend := newBackendFake(map[string][]string{"o3": {"pending"}})
	h := newHarness(t, backend)

	h.env.ExecuteWorkflow(ConfirmMintOrder, modal.ConfirmRequest{OrderID: "o3", TxHash: "0x3", MaxAttempts: 4})

	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())
	assert.Equal(t, 4, backend.callsFor("o3"))
	assert.Empty(t, h.timers)

	_, found := h.store.Get("o3")
	assert.True(t, found)
}

func TestConfirmMintOrder_Queries(t *testing.T) {
	backend := newBackendFake(map[string][]string{"o1": {"error", "confirmed"}})
	h := newHarness(t, backend)

	h.env.ExecuteWorkflow(ConfirmMintOrder, modal.ConfirmRequest{OrderID: "o1", TxHash: "0xabc"})
	require.True(t, h.env.IsWorkflowCompleted())

	res, err := h.env.QueryWorkflow(QueryStatus)
	require.NoError(t, err)
	var progress modal.ConfirmProgress
	require.NoError(t, res.Get(&progress))
	assert.Equal(t, 2, progress.Attempts)
	assert.Equal(t, modal.OrderConfirmed, progress.LastStatus)
	assert.Equal(t, modal.OutcomeConfirmed, progress.Outcome)

	res, err = h.env.QueryWorkflow(QueryAuditLog)
	require.NoError(t, err)
	var audit []modal.AuditEvent
	require.NoError(t, res.Get(&audit))

	var kinds []string
	for _, ev := range audit {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{
		modal.AuditRecorded, modal.AuditAttemptFailed, modal.AuditAttempt, modal.AuditConfirmed,
	}, kinds)
}

func TestFlushPendingConfirms(t *testing.T) {
	backend := newBackendFake(map[string][]string{
		"o1": {"confirmed"},
		"o2": {"error"},
		"o3": {"verifying"},
	})
	h := newHarness(t, backend)
	h.store.Upsert("o1", "0x1", "")
	h.store.Upsert("o2", "0x2", "")
	h.store.Upsert("o3", "0x3", "")

	h.env.ExecuteWorkflow(FlushPendingConfirms)

	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())
	var report modal.FlushReport
	require.NoError(t, h.env.GetWorkflowResult(&report))
	assert.Equal(t, modal.FlushReport{Total: 3, Confirmed: 1, Kept: 2, KeptIDs: []string{"o2", "o3"}}, report)

	for _, id := range []string{"o1", "o2", "o3"} {
		assert.Equal(t, 1, backend.callsFor(id), id)
	}
	var left []string
	for _, it := range h.store.ListAll() {
		left = append(left, it.OrderID)
	}
	assert.Equal(t, []string{"o2", "o3"}, left)
}
