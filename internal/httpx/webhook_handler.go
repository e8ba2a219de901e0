package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
	"github.com/ariefcatur/go-marketplace/internal/metrics"
)

type WebhookHandler struct {
	Reconciler *marketplace.Reconciler
	Log        *zap.Logger
}

type webhookBody struct {
	Type string `json:"type"`
	Data struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

type WebhookResp struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.HandleFunc("/webhook/mercadopago", h.webhook)
}

// decodeNotification reads {type, data:{id}} from the body. The gateway may
// also send both values as query parameters; those fill whatever the body
// left empty. The id may arrive as a JSON string or number.
func decodeNotification(r *http.Request) (marketplace.Notification, error) {
	var n marketplace.Notification
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return n, err
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		var body webhookBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return n, err
		}
		n.Type = body.Type
		n.PaymentID = rawID(body.Data.ID)
	}
	q := r.URL.Query()
	if n.Type == "" {
		n.Type = firstNonEmpty(q.Get("type"), q.Get("topic"))
	}
	if n.PaymentID == "" {
		n.PaymentID = firstNonEmpty(q.Get("data.id"), q.Get("id"))
	}
	return n, nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func webhookOutcome(err error) string {
	switch {
	case errors.Is(err, marketplace.ErrMissingPaymentID):
		return "missing_payment_id"
	case errors.Is(err, marketplace.ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, marketplace.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, marketplace.ErrUpstreamNotFound):
		return "upstream_not_found"
	default:
		return "internal"
	}
}

func (h *WebhookHandler) webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, WebhookResp{Status: "error", Message: "method not allowed"})
		return
	}
	defer func() {
		if p := recover(); p != nil {
			nopIfNil(h.Log).Error("webhook panic", zap.Any("panic", p))
			metrics.RecordReconciliation("internal")
			writeJSON(w, http.StatusInternalServerError, WebhookResp{Status: "error", Message: "internal error"})
		}
	}()

	n, err := decodeNotification(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, WebhookResp{Status: "error", Message: "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	rep, err := h.Reconciler.Handle(ctx, n)
	if err != nil {
		we := marketplace.AsWebhookError(err)
		metrics.RecordReconciliation(webhookOutcome(we))
		if we.HTTPStatus >= http.StatusInternalServerError {
			nopIfNil(h.Log).Error("webhook failed", zap.String("payment_id", n.PaymentID), zap.Error(err))
		} else {
			nopIfNil(h.Log).Warn("webhook rejected", zap.String("payment_id", n.PaymentID), zap.String("message", we.Message))
		}
		writeJSON(w, we.HTTPStatus, WebhookResp{Status: "error", Message: we.Message})
		return
	}

	outcome := rep.Transition.String()
	if rep.Ignored {
		outcome = "ignored"
	}
	metrics.RecordReconciliation(outcome)
	if sf := rep.Shortfalls(); len(sf) > 0 {
		metrics.RecordShortfallLines(len(sf))
	}
	writeJSON(w, http.StatusOK, WebhookResp{Status: "ok", Outcome: outcome})
}
