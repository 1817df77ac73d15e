// Package executors provides the built-in node executors: trigger
// pass-throughs, the HTTP request node and the AI model nodes.
package executors

import (
	"context"

	"github.com/flowline-dev/flowline"
)

// passThrough hands the run context on unchanged. Trigger nodes carry no
// work of their own; their payload is placed into the initial context by
// whichever ingress started the run.
func passThrough(t flowline.NodeType) flowline.NodeExecutor {
	return flowline.NodeExecutorFunc{
		NodeType: t,
		Fn: func(_ context.Context, _ flowline.NodeContext, rc flowline.RunContext) (flowline.RunContext, error) {
			return nil, nil
		},
	}
}

func NewInitial() flowline.NodeExecutor        { return passThrough(flowline.NodeTypeInitial) }
func NewManualTrigger() flowline.NodeExecutor  { return passThrough(flowline.NodeTypeManualTrigger) }
func NewWebhookTrigger() flowline.NodeExecutor { return passThrough(flowline.NodeTypeWebhookTrigger) }
func NewCronTrigger() flowline.NodeExecutor    { return passThrough(flowline.NodeTypeCronTrigger) }
func NewFormTrigger() flowline.NodeExecutor    { return passThrough(flowline.NodeTypeFormTrigger) }

// All returns one executor per node type, ready for registry construction.
func All() []flowline.NodeExecutor {
	return []flowline.NodeExecutor{
		NewInitial(),
		NewManualTrigger(),
		NewWebhookTrigger(),
		NewCronTrigger(),
		NewFormTrigger(),
		NewHTTPRequest(),
		NewModel(flowline.NodeTypeOpenAI),
		NewModel(flowline.NodeTypeAnthropic),
		NewModel(flowline.NodeTypeGemini),
	}
}
