package flowline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWebhookTest(t *testing.T) (*MemoryStore, *Engine, *httptest.Server) {
	t.Helper()

	store := NewMemoryStore()
	registry := testRegistry(t, func(_ context.Context, _ NodeContext, _ RunContext) (RunContext, error) {
		return nil, nil
	})
	engine := newTestEngine(t, store, registry)

	saveLinearWorkflow(t, store, "wf-hook", "a", "b")

	mux := http.NewServeMux()
	NewWebhookIngress(engine, store).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return store, engine, server
}

func decodeWebhookResponse(t *testing.T, resp *http.Response) webhookResponse {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var body webhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body
}

func TestWebhook_UnknownWorkflow(t *testing.T) {
	store, _, server := setupWebhookTest(t)

	resp, err := http.Post(server.URL+"/webhooks/no-such-workflow", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeWebhookResponse(t, resp)
	assert.False(t, body.Success)
	assert.Equal(t, "Workflow not found", body.Error)

	executions, err := store.ListExecutions(context.Background(), "no-such-workflow")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestWebhook_JSONBodyTriggersRun(t *testing.T) {
	store, engine, server := setupWebhookTest(t)

	resp, err := http.Post(server.URL+"/webhooks/wf-hook?source=test",
		"application/json", strings.NewReader(`{"orderId": 42}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeWebhookResponse(t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, "Workflow triggered successfully", body.Message)

	drainQueue(t, engine)

	executions, err := store.ListExecutions(context.Background(), "wf-hook")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, StatusCompleted, executions[0].Status)

	out, err := UnmarshalRunContext(executions[0].Output)
	require.NoError(t, err)

	webhook, ok := out[ContextKeyWebhook].(map[string]any)
	require.True(t, ok)

	payload, ok := webhook["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), payload["orderId"])

	assert.Equal(t, http.MethodPost, webhook["method"])

	query, ok := webhook["query"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test", query["source"])

	assert.NotEmpty(t, webhook["timestamp"])
}

func TestWebhook_GETAccepted(t *testing.T) {
	store, engine, server := setupWebhookTest(t)

	resp, err := http.Get(server.URL + "/webhooks/wf-hook")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	drainQueue(t, engine)

	executions, err := store.ListExecutions(context.Background(), "wf-hook")
	require.NoError(t, err)
	require.Len(t, executions, 1)

	out, err := UnmarshalRunContext(executions[0].Output)
	require.NoError(t, err)

	webhook, ok := out[ContextKeyWebhook].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.MethodGet, webhook["method"])
	assert.Nil(t, webhook["body"])
}

func TestWebhook_FormBodyParsed(t *testing.T) {
	store, engine, server := setupWebhookTest(t)

	resp, err := http.Post(server.URL+"/webhooks/wf-hook",
		"application/x-www-form-urlencoded", strings.NewReader("name=Ada&tag=a&tag=b"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	drainQueue(t, engine)

	executions, err := store.ListExecutions(context.Background(), "wf-hook")
	require.NoError(t, err)
	require.Len(t, executions, 1)

	out, err := UnmarshalRunContext(executions[0].Output)
	require.NoError(t, err)

	webhook := out[ContextKeyWebhook].(map[string]any)
	form, ok := webhook["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", form["name"])
	assert.Equal(t, []any{"a", "b"}, form["tag"])
}

func TestWebhook_MalformedJSONRejected(t *testing.T) {
	store, _, server := setupWebhookTest(t)

	resp, err := http.Post(server.URL+"/webhooks/wf-hook",
		"application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	executions, err := store.ListExecutions(context.Background(), "wf-hook")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestWebhook_IdempotencyHeaderDedupes(t *testing.T) {
	store, engine, server := setupWebhookTest(t)

	send := func() {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/webhooks/wf-hook",
			strings.NewReader(`{"n": 1}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(IdempotencyHeader, "delivery-123")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}

	send()
	send()

	drainQueue(t, engine)

	executions, err := store.ListExecutions(context.Background(), "wf-hook")
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestWebhook_DistinctCallsAreDistinctEvents(t *testing.T) {
	store, engine, server := setupWebhookTest(t)

	for i := 0; i < 2; i++ {
		resp, err := http.Post(server.URL+"/webhooks/wf-hook", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}

	drainQueue(t, engine)

	executions, err := store.ListExecutions(context.Background(), "wf-hook")
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}
