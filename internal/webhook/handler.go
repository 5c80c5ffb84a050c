package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/inbound-parse-relay/internal/email"
	"github.com/shineum/inbound-parse-relay/internal/inbound"
	"github.com/shineum/inbound-parse-relay/internal/metrics"
	"github.com/shineum/inbound-parse-relay/internal/provider"
	"github.com/shineum/inbound-parse-relay/internal/relay"
)

// Webhook outcomes, used as the outcome metric label.
const (
	outcomeRelayed  = "relayed"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// Handler accepts inbound parse webhook posts, normalizes them and relays
// the result through a Provider.
type Handler struct {
	provider    provider.Provider
	builder     *relay.Builder
	maxBodySize int64
}

// NewHandler creates a Handler. Bodies larger than maxBodySize are
// rejected with 413.
func NewHandler(prov provider.Provider, builder *relay.Builder, maxBodySize int64) *Handler {
	return &Handler{
		provider:    prov,
		builder:     builder,
		maxBodySize: maxBodySize,
	}
}

// response summarises a relayed webhook.
type response struct {
	ID          string               `json:"id"`
	To          []string             `json:"to"`
	Cc          []string             `json:"cc"`
	Bcc         []string             `json:"bcc"`
	Attachments []inbound.Attachment `json:"attachments"`
	Charsets    map[string]string    `json:"charsets"`
	SpamReport  inbound.SpamReport   `json:"spam_report"`
	Recovered   []string             `json:"recovered,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	if r.ContentLength > h.maxBodySize {
		metrics.WebhooksTotal.WithLabelValues(outcomeRejected).Inc()
		slog.Warn("webhook body too large", "request_id", reqID, "content_length", r.ContentLength, "limit", h.maxBodySize)
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	params, err := readParams(r)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(outcomeRejected).Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("webhook body too large", "request_id", reqID, "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		slog.Warn("malformed webhook form", "request_id", reqID, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.ContentLength > 0 {
		metrics.WebhookPayloadBytes.Observe(float64(r.ContentLength))
	}

	msg := inbound.Normalize(params)
	recovered := make([]string, 0, len(msg.Recovered))
	for _, de := range msg.Recovered {
		slog.Warn("recovered malformed webhook field",
			"request_id", reqID,
			"kind", string(de.Kind),
			"field", de.Field,
			"error", de.Err,
		)
		metrics.DecodeRecoveredTotal.WithLabelValues(string(de.Kind)).Inc()
		recovered = append(recovered, de.Field)
	}
	metrics.AttachmentsTotal.Add(float64(len(msg.Attachments)))

	out := h.builder.Build(msg)
	slog.Debug("normalized webhook",
		"request_id", reqID,
		"id", out.ID,
		"fields", msg.Fields.Keys(),
		"attachments", len(msg.Attachments),
	)

	if err := h.send(r, out); err != nil {
		metrics.WebhooksTotal.WithLabelValues(outcomeFailed).Inc()
		slog.Error("provider send failed",
			"request_id", reqID,
			"id", out.ID,
			"provider", h.provider.Name(),
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "delivery failed, please retry")
		return
	}

	metrics.WebhooksTotal.WithLabelValues(outcomeRelayed).Inc()
	slog.Info("webhook relayed",
		"request_id", reqID,
		"id", out.ID,
		"provider", h.provider.Name(),
		"recipients", len(out.Recipients()),
		"attachments", len(out.Attachments),
	)

	writeJSON(w, http.StatusOK, response{
		ID:          out.ID,
		To:          msg.To,
		Cc:          msg.Cc,
		Bcc:         msg.Bcc,
		Attachments: msg.Attachments,
		Charsets:    msg.Charsets,
		SpamReport:  msg.SpamReport,
		Recovered:   recovered,
	})
}

func (h *Handler) send(r *http.Request, e *email.Email) error {
	start := time.Now()
	err := h.provider.Send(r.Context(), e)
	metrics.ObserveDelivery(h.provider.Name(), start, err)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
