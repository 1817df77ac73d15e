package flowline

import (
	"encoding/json"
	"fmt"
)

// RunContext is the accumulating key-value data handed from node to node
// within one run. It is the sole channel by which executors communicate.
//
// Merge policy: new keys overwrite on collision, unspecified keys persist.
type RunContext map[string]any

func NewRunContext() RunContext {
	return make(RunContext)
}

// Merge returns a copy of rc with every key of other applied on top.
// Neither receiver nor argument is mutated.
func (rc RunContext) Merge(other RunContext) RunContext {
	merged := make(RunContext, len(rc)+len(other))
	for k, v := range rc {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}

	return merged
}

func (rc RunContext) Clone() RunContext {
	cloned := make(RunContext, len(rc))
	for k, v := range rc {
		cloned[k] = v
	}

	return cloned
}

// Set returns a copy of rc with key set; the original is left untouched.
func (rc RunContext) Set(key string, value any) RunContext {
	updated := rc.Clone()
	updated[key] = value

	return updated
}

func (rc RunContext) GetString(key string) (string, bool) {
	val, ok := rc[key]
	if !ok {
		return "", false
	}

	str, ok := val.(string)

	return str, ok
}

func (rc RunContext) MarshalRaw() (json.RawMessage, error) {
	if rc == nil {
		rc = NewRunContext()
	}

	data, err := json.Marshal(map[string]any(rc))
	if err != nil {
		return nil, fmt.Errorf("marshal run context: %w", err)
	}

	return data, nil
}

func UnmarshalRunContext(raw json.RawMessage) (RunContext, error) {
	if len(raw) == 0 {
		return NewRunContext(), nil
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal run context: %w", err)
	}
	if data == nil {
		data = make(map[string]any)
	}

	return RunContext(data), nil
}
