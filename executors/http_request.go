package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"

	"github.com/flowline-dev/flowline"
)

type httpRequestExecutor struct{}

// NewHTTPRequest returns the executor for http_request nodes. The node
// config holds variableName, endpoint, method and an optional body; the
// endpoint and body are rendered as templates over the current run
// context before the call is made.
func NewHTTPRequest() flowline.NodeExecutor {
	return &httpRequestExecutor{}
}

func (e *httpRequestExecutor) Type() flowline.NodeType {
	return flowline.NodeTypeHTTPRequest
}

func (e *httpRequestExecutor) Execute(
	ctx context.Context,
	nodeCtx flowline.NodeContext,
	rc flowline.RunContext,
) (flowline.RunContext, error) {
	variableName := nodeCtx.ConfigString("variableName")
	if variableName == "" {
		return nil, flowline.MissingConfigError("variableName")
	}

	endpoint := nodeCtx.ConfigString("endpoint")
	if endpoint == "" {
		return nil, flowline.MissingConfigError("endpoint")
	}

	method := strings.ToUpper(nodeCtx.ConfigString("method"))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, flowline.NewConfigError("method", fmt.Sprintf("unsupported HTTP method %q", method))
	}

	renderedEndpoint, err := renderTemplate("endpoint", endpoint, rc)
	if err != nil {
		return nil, flowline.NewConfigError("endpoint", err.Error())
	}

	var bodyReader io.Reader
	if body := nodeCtx.ConfigString("body"); body != "" {
		renderedBody, err := renderTemplate("body", body, rc)
		if err != nil {
			return nil, flowline.NewConfigError("body", err.Error())
		}

		bodyReader = strings.NewReader(renderedBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, renderedEndpoint, bodyReader)
	if err != nil {
		return nil, flowline.NewConfigError("endpoint", err.Error())
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := http.DefaultClient
	if nodeCtx.Env != nil && nodeCtx.Env.HTTPClient != nil {
		client = nodeCtx.Env.HTTPClient
	}

	resp, err := client.Do(req)
	if err != nil {
		// Network failures are transient; the retry budget applies.
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("http request: server returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, flowline.NonRetriable(
			fmt.Errorf("http request: server returned %d", resp.StatusCode))
	}

	data := decodeResponseBody(raw, resp.Header.Get("Content-Type"))

	return flowline.RunContext{
		variableName: map[string]any{
			"httpResponse": map[string]any{
				"status": resp.StatusCode,
				"data":   data,
			},
		},
	}, nil
}

func renderTemplate(name, text string, rc flowline.RunContext) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, map[string]any(rc)); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}

	return buf.String(), nil
}

// decodeResponseBody keeps JSON payloads structured and leaves everything
// else as a string.
func decodeResponseBody(raw []byte, contentType string) any {
	if len(raw) == 0 {
		return nil
	}

	if strings.Contains(contentType, "application/json") {
		var data any
		if err := json.Unmarshal(raw, &data); err == nil {
			return data
		}
	}

	return string(raw)
}
