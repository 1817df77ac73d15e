package executors

import (
	"context"

	"github.com/flowline-dev/flowline"
)

type modelExecutor struct {
	nodeType flowline.NodeType
}

// NewModel returns the executor for an AI node type. All three providers
// share one shape: the config names a model and a prompt, the bound
// ModelClient performs the call, and the completion lands under
// variableName as {text, model, provider}.
func NewModel(t flowline.NodeType) flowline.NodeExecutor {
	return &modelExecutor{nodeType: t}
}

func (e *modelExecutor) Type() flowline.NodeType {
	return e.nodeType
}

func (e *modelExecutor) Execute(
	ctx context.Context,
	nodeCtx flowline.NodeContext,
	rc flowline.RunContext,
) (flowline.RunContext, error) {
	variableName := nodeCtx.ConfigString("variableName")
	if variableName == "" {
		return nil, flowline.MissingConfigError("variableName")
	}

	model := nodeCtx.ConfigString("model")
	if model == "" {
		return nil, flowline.MissingConfigError("model")
	}

	prompt := nodeCtx.ConfigString("prompt")
	if prompt == "" {
		return nil, flowline.MissingConfigError("prompt")
	}

	renderedPrompt, err := renderTemplate("prompt", prompt, rc)
	if err != nil {
		return nil, flowline.NewConfigError("prompt", err.Error())
	}

	if nodeCtx.Env == nil {
		return nil, flowline.NonRetriable(
			flowline.NewConfigError("", "no run environment configured"))
	}

	client, ok := nodeCtx.Env.Model(e.nodeType)
	if !ok {
		return nil, flowline.NewConfigError("",
			"no model client configured for node type "+string(e.nodeType))
	}

	text, err := client.Complete(ctx, flowline.CompletionRequest{
		Model:  model,
		Prompt: renderedPrompt,
	})
	if err != nil {
		// Provider errors are transient unless the client said otherwise.
		return nil, err
	}

	return flowline.RunContext{
		variableName: map[string]any{
			"text":     text,
			"model":    model,
			"provider": client.Provider(),
		},
	}, nil
}
