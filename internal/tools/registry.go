// Package tools declares the fixed set of callable tools and validates call arguments.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/robfromnewground/modelcontextprotocol/internal/upstream"
)

// Definition describes one callable tool and the upstream model bound to it.
type Definition struct {
	Name        string
	Description string
	Model       string
	InputSchema map[string]interface{}
}

// Registry is the static, order-stable set of tool definitions.
type Registry struct {
	order []string
	defs  map[string]Definition
}

// NewRegistry builds the registry with the three supported tools.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	r.register(Definition{
		Name: "perplexity_ask",
		Description: "Engages in a conversation using the Sonar API. " +
			"Accepts an array of messages (each with a role and content) " +
			"and returns a chat completion response with citations.",
		Model:       "sonar-pro",
		InputSchema: messagesSchema(),
	})
	r.register(Definition{
		Name: "perplexity_research",
		Description: "Performs deep research using the Perplexity API. " +
			"Accepts an array of messages (each with a role and content) " +
			"and returns a comprehensive research response with citations.",
		Model:       "sonar-deep-research",
		InputSchema: messagesSchema(),
	})
	r.register(Definition{
		Name: "perplexity_reason",
		Description: "Performs reasoning tasks using the Perplexity API. " +
			"Accepts an array of messages (each with a role and content) " +
			"and returns a well-reasoned response using the sonar-reasoning-pro model.",
		Model:       "sonar-reasoning-pro",
		InputSchema: messagesSchema(),
	})
	return r
}

func (r *Registry) register(def Definition) {
	r.order = append(r.order, def.Name)
	r.defs[def.Name] = def
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.defs[name])
	}
	return defs
}

// Get looks up a definition by tool name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// messagesSchema is the input schema shared by all three tools.
func messagesSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"messages": map[string]interface{}{
				"type":        "array",
				"description": "Array of conversation messages",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"role": map[string]interface{}{
							"type":        "string",
							"description": "Role of the message (e.g., system, user, assistant)",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "The content of the message",
						},
					},
					"required": []string{"role", "content"},
				},
			},
		},
		"required": []string{"messages"},
	}
}

// ParseMessages validates the tool call arguments and decodes the messages
// list, preserving order. Errors name the violated constraint.
func ParseMessages(args json.RawMessage) ([]upstream.ChatMessage, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("invalid arguments: messages field is required")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(args, &probe); err != nil {
		return nil, fmt.Errorf("invalid arguments: expected a JSON object")
	}
	rawMessages, ok := probe["messages"]
	if !ok || string(rawMessages) == "null" {
		return nil, fmt.Errorf("invalid arguments: messages field is required")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(rawMessages, &items); err != nil {
		return nil, fmt.Errorf("invalid arguments: messages must be an array")
	}

	messages := make([]upstream.ChatMessage, 0, len(items))
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			return nil, fmt.Errorf("invalid arguments: messages[%d] must be an object", i)
		}
		var msg upstream.ChatMessage
		if err := unmarshalString(fields, "role", &msg.Role); err != nil {
			return nil, fmt.Errorf("invalid arguments: messages[%d] %v", i, err)
		}
		if err := unmarshalString(fields, "content", &msg.Content); err != nil {
			return nil, fmt.Errorf("invalid arguments: messages[%d] %v", i, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func unmarshalString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return fmt.Errorf("is missing required field %q", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q must be a string", key)
	}
	return nil
}
