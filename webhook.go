package flowline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContextKeyWebhook is the fixed namespace under which the ingress places
// everything it captured from the inbound request.
const ContextKeyWebhook = "webhook"

// IdempotencyHeader lets a caller carry its own dedup token across retried
// deliveries. Without it every HTTP call is a distinct triggering event.
const IdempotencyHeader = "X-Idempotency-Key"

type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WebhookIngress accepts inbound webhook calls and hands them to the
// engine. It answers as soon as the run is enqueued; the run itself
// executes asynchronously on the worker pool.
type WebhookIngress struct {
	engine *Engine
	store  Store
}

func NewWebhookIngress(engine *Engine, store Store) *WebhookIngress {
	return &WebhookIngress{
		engine: engine,
		store:  store,
	}
}

func (ingress *WebhookIngress) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/{workflowID}", ingress.handleReceive)
	// GET is accepted identically to POST for manual testing.
	mux.HandleFunc("GET /webhooks/{workflowID}", ingress.handleReceive)
}

func (ingress *WebhookIngress) handleReceive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := r.PathValue("workflowID")

	if _, err := ingress.store.GetWorkflow(ctx, workflowID); err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			writeWebhookResponse(w, http.StatusNotFound, webhookResponse{
				Success: false,
				Error:   "Workflow not found",
			})

			return
		}

		slog.Error("webhook workflow lookup failed", "workflow_id", workflowID, "error", err)
		writeWebhookResponse(w, http.StatusInternalServerError, webhookResponse{
			Success: false,
			Error:   "Failed to process webhook",
		})

		return
	}

	body, err := parseWebhookBody(r)
	if err != nil {
		writeWebhookResponse(w, http.StatusBadRequest, webhookResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request body: %v", err),
		})

		return
	}

	initial := RunContext{
		ContextKeyWebhook: map[string]any{
			"body":      body,
			"headers":   flattenValues(r.Header),
			"method":    r.Method,
			"query":     flattenValues(r.URL.Query()),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	triggerEventID := r.Header.Get(IdempotencyHeader)
	if triggerEventID == "" {
		triggerEventID = fmt.Sprintf("webhook/%s", uuid.New().String())
	}

	if _, err := ingress.startRun(ctx, workflowID, triggerEventID, initial); err != nil {
		slog.Error("webhook run start failed", "workflow_id", workflowID, "error", err)
		writeWebhookResponse(w, http.StatusInternalServerError, webhookResponse{
			Success: false,
			Error:   "Failed to process webhook",
		})

		return
	}

	writeWebhookResponse(w, http.StatusOK, webhookResponse{
		Success: true,
		Message: "Workflow triggered successfully",
	})
}

func (ingress *WebhookIngress) startRun(
	ctx context.Context,
	workflowID string,
	triggerEventID string,
	initial RunContext,
) (int64, error) {
	executionID, err := ingress.engine.Start(ctx, workflowID, triggerEventID, initial)
	if err != nil {
		return 0, err
	}

	_ = ingress.store.LogEvent(ctx, executionID, nil, EventWebhookReceived, map[string]any{
		KeyWorkflowID:     workflowID,
		KeyTriggerEventID: triggerEventID,
	})

	return executionID, nil
}

// parseWebhookBody decodes the request body according to its declared
// content type: JSON, form-encoded, or raw text fallback.
func parseWebhookBody(r *http.Request) (any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if len(raw) == 0 {
		return nil, nil
	}

	contentType := r.Header.Get("Content-Type")
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch {
	case strings.Contains(mediaType, "application/json"):
		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}

		return body, nil
	case strings.Contains(mediaType, "application/x-www-form-urlencoded"):
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}

		return flattenValues(values), nil
	default:
		return string(raw), nil
	}
}

// flattenValues keeps single-valued entries as scalars, the common case
// for headers and query parameters.
func flattenValues(values map[string][]string) map[string]any {
	flat := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 1 {
			flat[key] = vals[0]

			continue
		}

		flat[key] = vals
	}

	return flat
}

func writeWebhookResponse(w http.ResponseWriter, status int, resp webhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
