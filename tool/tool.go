// Package tool defines the contract between the realtime session and
// its callable tools: a JSON-Schema style definition advertised to the
// model, and an async handler invoked with the parsed arguments.
package tool

import "context"

type Choice string

const (
	ChoiceAuto     Choice = "auto"
	ChoiceNone     Choice = "none"
	ChoiceRequired Choice = "required"
)

type Definition struct {
	Type        string     `json:"type,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

type Parameters struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	Required   []string   `json:"required,omitempty"`
}

type Properties map[string]Property

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Handler executes the tool. The returned value is serialized to JSON
// and round-tripped to the model as a function_call_output item. A
// plain string return is passed through as-is.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Registration pairs a definition with its handler.
type Registration struct {
	Definition Definition
	Handler    Handler
}
