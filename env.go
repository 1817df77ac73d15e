package flowline

import (
	"context"
	"net/http"
)

// CompletionRequest is the provider-neutral shape of one model call.
type CompletionRequest struct {
	Model  string
	Prompt string
}

// ModelClient is implemented once per AI provider. Clients are constructed
// at process start and injected through the RunEnvironment; executors never
// reach for ambient globals.
type ModelClient interface {
	Provider() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// RunEnvironment is the dependency bundle passed into every executor.
type RunEnvironment struct {
	HTTPClient *http.Client
	Models     map[NodeType]ModelClient
}

func NewRunEnvironment(httpClient *http.Client) *RunEnvironment {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &RunEnvironment{
		HTTPClient: httpClient,
		Models:     make(map[NodeType]ModelClient),
	}
}

// RegisterModel binds a provider client to the node type that uses it.
func (env *RunEnvironment) RegisterModel(t NodeType, client ModelClient) {
	env.Models[t] = client
}

func (env *RunEnvironment) Model(t NodeType) (ModelClient, bool) {
	client, ok := env.Models[t]

	return client, ok
}
