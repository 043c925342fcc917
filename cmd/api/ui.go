package main

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mint-confirm-service/internal/modal"
	"mint-confirm-service/internal/workflows"
)

type uiServer struct {
	s *server
	t *template.Template
}

type uiPendingRow struct {
	Pending modal.PendingConfirmation
	Updated time.Time
}

type uiIndexData struct {
	Pending []uiPendingRow
	Notice  string
	Error   string
}

type uiDetailData struct {
	WorkflowID string
	RunID      string
	Progress   modal.ConfirmProgress
	Audit      []modal.AuditEvent
	Error      string
}

func registerUIRoutes(r chi.Router, s *server) {
	t := template.Must(template.New("base").Parse(uiTemplates))
	u := &uiServer{s: s, t: t}

	r.Get("/ui", u.handleIndex)
	r.Post("/ui/retry/{orderId}", u.handleRetry)
	r.Post("/ui/flush", u.handleFlush)
	r.Get("/ui/wf/{workflowId}", u.handleDetail)
}

// handleIndex lists the pending confirmations in the local store.
func (u *uiServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := uiIndexData{
		Notice: r.URL.Query().Get("notice"),
		Error:  r.URL.Query().Get("error"),
	}
	for _, p := range u.s.store.ListAll() {
		data.Pending = append(data.Pending, uiPendingRow{Pending: p, Updated: p.UpdatedTime()})
	}
	_ = u.t.ExecuteTemplate(w, "index", data)
}

// handleRetry starts a confirm workflow for a stored record and jumps to its detail page.
func (u *uiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	p, ok := u.s.store.Get(orderID)
	if !ok {
		redirectIndex(w, r, "", "no pending confirmation for order "+orderID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp, err := u.s.startConfirm(ctx, modal.ConfirmRequest{
		OrderID:     p.OrderID,
		TxHash:      p.TxHash,
		CharacterID: p.CharacterID,
	})
	if errors.Is(err, errAlreadyRunning) {
		http.Redirect(w, r, "/ui/wf/confirm-"+url.PathEscape(orderID), http.StatusSeeOther)
		return
	}
	if err != nil {
		u.s.logger.Warn("ui retry failed", zap.String("orderId", orderID), zap.Error(err))
		redirectIndex(w, r, "", err.Error())
		return
	}
	http.Redirect(w, r, "/ui/wf/"+url.PathEscape(resp.WorkflowID)+"?runId="+url.QueryEscape(resp.RunID), http.StatusSeeOther)
}

func (u *uiServer) handleFlush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp, err := u.s.startFlush(ctx)
	if err != nil {
		redirectIndex(w, r, "", err.Error())
		return
	}
	redirectIndex(w, r, "flush started: "+resp.WorkflowID, "")
}

// handleDetail shows the progress and audit log of one confirm workflow.
func (u *uiServer) handleDetail(w http.ResponseWriter, r *http.Request) {
	wid := chi.URLParam(r, "workflowId")
	rid := r.URL.Query().Get("runId")
	data := uiDetailData{WorkflowID: wid, RunID: rid}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	qr, err := u.s.tc.QueryWorkflow(ctx, wid, rid, workflows.QueryStatus)
	if err == nil {
		err = qr.Get(&data.Progress)
	}
	if err != nil {
		data.Error = err.Error()
		_ = u.t.ExecuteTemplate(w, "detail", data)
		return
	}

	if qr, err := u.s.tc.QueryWorkflow(ctx, wid, rid, workflows.QueryAuditLog); err == nil {
		_ = qr.Get(&data.Audit)
	}
	_ = u.t.ExecuteTemplate(w, "detail", data)
}

func redirectIndex(w http.ResponseWriter, r *http.Request, notice, errMsg string) {
	q := url.Values{}
	if notice != "" {
		q.Set("notice", notice)
	}
	if errMsg != "" {
		q.Set("error", errMsg)
	}
	target := "/ui"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

const uiTemplates = `
{{define "index"}}
<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <title>Pending Mint Confirmations</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { border-collapse: collapse; width: 100%; margin-top: 12px; }
    th, td { border: 1px solid #ddd; padding: 8px; }
    .err { color: #b00020; }
    .ok { color: #1b5e20; }
    .muted { color: #666; }
    code { font-size: 12px; }
  </style>
</head>
<body>
  <h2>Pending Mint Confirmations</h2>

  {{if .Notice}}<p class="ok">{{.Notice}}</p>{{end}}
  {{if .Error}}<p class="err">{{.Error}}</p>{{end}}

  <form method="post" action="/ui/flush">
    <button type="submit">Flush all</button>
    <span class="muted">one confirm call per record, confirmed records are dropped</span>
  </form>

  <table>
    <thead><tr><th>Order</th><th>Tx hash</th><th>Character</th><th>Updated</th><th></th></tr></thead>
    <tbody>
    {{range .Pending}}
      <tr>
        <td>{{.Pending.OrderID}}</td>
        <td><code>{{.Pending.TxHash}}</code></td>
        <td>{{.Pending.CharacterID}}</td>
        <td>{{.Updated.Format "2006-01-02 15:04:05"}}</td>
        <td>
          <form method="post" action="/ui/retry/{{.Pending.OrderID}}">
            <button type="submit">Retry</button>
          </form>
        </td>
      </tr>
    {{else}}
      <tr><td colspan="5" class="muted">Nothing pending.</td></tr>
    {{end}}
    </tbody>
  </table>
</body>
</html>
{{end}}

{{define "detail"}}
<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <title>Confirmation Detail</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    .err { color: #b00020; }
    table { border-collapse: collapse; width: 100%; margin-top: 12px; }
    th, td { border: 1px solid #ddd; padding: 8px; }
  </style>
</head>
<body>
  <a href="/ui">← Back</a>
  <h2>Confirmation Detail</h2>

  {{if .Error}}<p class="err">{{.Error}}</p>{{end}}

  <p><b>WorkflowID:</b> {{.WorkflowID}}<br/>
     <b>RunID:</b> {{.RunID}}</p>

  <h3>Progress</h3>
  <p><b>Order:</b> {{.Progress.OrderID}}<br/>
     <b>Attempts:</b> {{.Progress.Attempts}}<br/>
     <b>Last status:</b> {{.Progress.LastStatus}}<br/>
     {{if .Progress.LastError}}<b>Last error:</b> {{.Progress.LastError}}<br/>{{end}}
     <b>Outcome:</b> {{if .Progress.Outcome}}{{.Progress.Outcome}}{{else}}running{{end}}</p>

  <h3>Audit Log</h3>
  <table>
    <thead><tr><th>Time</th><th>Kind</th><th>Message</th></tr></thead>
    <tbody>
      {{range .Audit}}
        <tr>
          <td>{{.At}}</td>
          <td>{{.Kind}}</td>
          <td>{{.Message}}</td>
        </tr>
      {{end}}
    </tbody>
  </table>
</body>
</html>
{{end}}
`
