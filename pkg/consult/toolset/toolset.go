// Package toolset supplies the tools the questioner may call: tools served
// by MCP servers, or a static in-process set.
package toolset

import (
	"context"
	"encoding/json"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
)

// Tool is one callable tool.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema of the arguments object.
	Parameters json.RawMessage
	// Invoke runs the tool with JSON arguments and returns its text result.
	Invoke func(ctx context.Context, args json.RawMessage) (string, error)
}

// Definition returns the tool as offered to the model.
func (t Tool) Definition() llm.Tool {
	params := t.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return llm.Tool{Name: t.Name, Description: t.Description, Parameters: params}
}

// Provider lists the available tools.
type Provider interface {
	ListTools(ctx context.Context) ([]Tool, error)
}

// Static is a fixed tool set.
type Static []Tool

// ListTools implements Provider.
func (s Static) ListTools(context.Context) ([]Tool, error) {
	return s, nil
}
