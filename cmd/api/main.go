package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"

	"mint-confirm-service/internal/app"
	"mint-confirm-service/internal/modal"
	"mint-confirm-service/internal/workflows"
)

// workflowClient is the part of client.Client the API uses.
type workflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

type pendingStore interface {
	Get(orderID string) (modal.PendingConfirmation, bool)
	Remove(orderID string)
	ListAll() []modal.PendingConfirmation
}

type server struct {
	tc          workflowClient
	store       pendingStore
	taskQueue   string
	maxAttempts int
	backoffBase time.Duration
	logger      *zap.Logger
}

type confirmReq struct {
	OrderID     string `json:"orderId"`
	TxHash      string `json:"txHash"`
	CharacterID string `json:"characterId,omitempty"`
	MaxAttempts int    `json:"maxAttempts,omitempty"`
}

type startResp struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
}

var errAlreadyRunning = errors.New("a confirmation for this order is already running")

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "mintconfirm.yaml", "path to config file")
	flag.Parse()

	deps, err := app.Bootstrap(configPath)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer deps.Close()

	tc, err := deps.DialTemporal()
	if err != nil {
		deps.Logger.Fatal("temporal dial failed", zap.Error(err))
	}
	defer tc.Close()

	s := &server{
		tc:          tc,
		store:       deps.Store,
		taskQueue:   deps.Config.Temporal.TaskQueue,
		maxAttempts: deps.Config.Recovery.MaxAttempts,
		backoffBase: deps.Config.BackoffBase(),
		logger:      deps.Logger.Named("api"),
	}

	addr := deps.Config.HTTP.Addr
	s.logger.Info("api listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, s.routes()); err != nil {
		s.logger.Fatal("api stopped", zap.Error(err))
	}
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/confirms", s.handleStartConfirm)
	r.Post("/confirms/flush", s.handleStartFlush)
	r.Get("/confirms", s.handleListPending)
	r.Get("/confirms/{orderId}", s.handleGetPending)
	r.Delete("/confirms/{orderId}", s.handleDeletePending)
	r.Get("/workflows/{workflowId}/audit", s.handleQuery(workflows.QueryAuditLog))
	r.Get("/workflows/{workflowId}/status", s.handleQuery(workflows.QueryStatus))

	registerUIRoutes(r, s)
	return r
}

// startConfirm starts ConfirmMintOrder for one order. The workflow id is tied
// to the order so two confirmations of the same order never run at once; a
// finished one may be started again. Unset retry settings are filled from the
// configured recovery section.
func (s *server) startConfirm(ctx context.Context, req modal.ConfirmRequest) (startResp, error) {
	req = req.WithRecoveryDefaults(s.maxAttempts, s.backoffBase)

	opts := client.StartWorkflowOptions{
		ID:                                       "confirm-" + req.OrderID,
		TaskQueue:                                s.taskQueue,
		WorkflowExecutionTimeout:                 10 * time.Minute,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}

	we, err := s.tc.ExecuteWorkflow(ctx, opts, workflows.ConfirmMintOrder, req)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return startResp{}, errAlreadyRunning
		}
		return startResp{}, err
	}
	s.logger.Info("confirm workflow started",
		zap.String("orderId", req.OrderID), zap.String("workflowId", we.GetID()))
	return startResp{WorkflowID: we.GetID(), RunID: we.GetRunID()}, nil
}

func (s *server) startFlush(ctx context.Context) (startResp, error) {
	opts := client.StartWorkflowOptions{
		ID:                       "flush-" + uuid.NewString(),
		TaskQueue:                s.taskQueue,
		WorkflowExecutionTimeout: 30 * time.Minute,
	}
	we, err := s.tc.ExecuteWorkflow(ctx, opts, workflows.FlushPendingConfirms)
	if err != nil {
		return startResp{}, err
	}
	return startResp{WorkflowID: we.GetID(), RunID: we.GetRunID()}, nil
}

func (s *server) handleStartConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `invalid body: {"orderId":"...","txHash":"0x..."}`, http.StatusBadRequest)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.TxHash = strings.TrimSpace(req.TxHash)
	if req.OrderID == "" || req.TxHash == "" {
		http.Error(w, "orderId and txHash are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp, err := s.startConfirm(ctx, modal.ConfirmRequest{
		OrderID:     req.OrderID,
		TxHash:      req.TxHash,
		CharacterID: req.CharacterID,
		MaxAttempts: req.MaxAttempts,
	})
	if errors.Is(err, errAlreadyRunning) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) handleStartFlush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp, err := s.startFlush(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) handleListPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListAll())
}

func (s *server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	p, ok := s.store.Get(chi.URLParam(r, "orderId"))
	if !ok {
		http.Error(w, "no pending confirmation for this order", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleDeletePending(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	s.store.Remove(orderID)
	s.logger.Info("pending confirmation cleared by operator", zap.String("orderId", orderID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleQuery(queryType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := chi.URLParam(r, "workflowId")
		runID := r.URL.Query().Get("runId")

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		qr, err := s.tc.QueryWorkflow(ctx, workflowID, runID, queryType)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var out any = &modal.ConfirmProgress{}
		if queryType == workflows.QueryAuditLog {
			out = &[]modal.AuditEvent{}
		}
		if err := qr.Get(out); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
