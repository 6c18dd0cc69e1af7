// Package dispatch implements the RPC-level request handling for MCP sessions.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/robfromnewground/modelcontextprotocol/internal/hub"
	"github.com/robfromnewground/modelcontextprotocol/internal/protocol"
	"github.com/robfromnewground/modelcontextprotocol/internal/tools"
	"github.com/robfromnewground/modelcontextprotocol/internal/upstream"
)

// ServerName and ServerVersion identify this server in the initialize handshake.
const (
	ServerName    = "perplexity-mcp"
	ServerVersion = "0.1.0"
)

// CompletionClient is the upstream completion dependency.
type CompletionClient interface {
	Complete(ctx context.Context, model string, messages []upstream.ChatMessage) (string, error)
}

// Dispatcher decodes JSON-RPC requests for a session and writes responses back
// onto that session's event stream.
type Dispatcher struct {
	hub      *hub.Hub
	registry *tools.Registry
	client   CompletionClient
}

// NewDispatcher creates a dispatcher bound to the given hub, registry and client.
func NewDispatcher(h *hub.Hub, registry *tools.Registry, client CompletionClient) *Dispatcher {
	return &Dispatcher{hub: h, registry: registry, client: client}
}

// Dispatch handles one inbound request for the given session. The response is
// delivered on the session's event stream; transport write failures are logged
// and never escalated.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, payload []byte) {
	var req protocol.Request

	// Dispatch runs in its own goroutine, outside any HTTP middleware; a
	// panic anywhere below must become a response, never kill the process.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered panic in dispatch: %v", r)
			d.respond(sessionID, protocol.NewErrorResponse(req.ID, protocol.CodeInternalError,
				fmt.Sprintf("internal error: %v", r)))
		}
	}()

	if err := json.Unmarshal(payload, &req); err != nil {
		d.respond(sessionID, protocol.NewErrorResponse(nil, protocol.CodeParseError, "invalid JSON-RPC message"))
		return
	}

	if req.IsNotification() {
		// Notifications (e.g. notifications/initialized) expect no response.
		return
	}

	switch req.Method {
	case protocol.MethodInitialize:
		d.respond(sessionID, protocol.NewResponse(req.ID, &protocol.InitializeResult{
			ProtocolVersion: protocol.Version,
			Capabilities:    protocol.Capabilities{Tools: &protocol.ToolsCapability{}},
			ServerInfo:      protocol.ServerInfo{Name: ServerName, Version: ServerVersion},
		}))

	case protocol.MethodPing:
		d.respond(sessionID, protocol.NewResponse(req.ID, struct{}{}))

	case protocol.MethodListTools:
		d.respond(sessionID, protocol.NewResponse(req.ID, d.listTools()))

	case protocol.MethodCallTool:
		result := d.callTool(ctx, req.Params)
		d.respond(sessionID, protocol.NewResponse(req.ID, result))

	default:
		d.respond(sessionID, protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound,
			"method not found: "+req.Method))
	}
}

// listTools builds the static tool list from the registry.
func (d *Dispatcher) listTools() *protocol.ListToolsResult {
	defs := d.registry.List()
	result := &protocol.ListToolsResult{Tools: make([]protocol.Tool, 0, len(defs))}
	for _, def := range defs {
		result.Tools = append(result.Tools, protocol.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return result
}

// callTool runs one tool invocation. Every failure path (unknown tool, bad
// arguments, upstream failure, panic) folds into an error-flagged result so
// the caller's RPC layer never sees a channel fault.
func (d *Dispatcher) callTool(ctx context.Context, params json.RawMessage) (result *protocol.CallToolResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered panic in tool call: %v", r)
			result = protocol.ToolError(fmt.Sprintf("internal error: %v", r))
		}
	}()

	var call protocol.CallToolParams
	if err := json.Unmarshal(params, &call); err != nil {
		return protocol.ToolError("invalid tool call parameters")
	}

	def, ok := d.registry.Get(call.Name)
	if !ok {
		return protocol.ToolError("unknown tool: " + call.Name)
	}

	messages, err := tools.ParseMessages(call.Arguments)
	if err != nil {
		return protocol.ToolError(err.Error())
	}

	text, err := d.client.Complete(ctx, def.Model, messages)
	if err != nil {
		return protocol.ToolError(err.Error())
	}
	return protocol.ToolText(text)
}

// respond writes a response onto the session's event stream. A session torn
// down mid-dispatch is tolerated and logged.
func (d *Dispatcher) respond(sessionID string, resp *protocol.Response) {
	if err := d.hub.SendJSON(sessionID, resp); err != nil {
		if errors.Is(err, hub.ErrSessionNotFound) {
			log.Printf("Session %s gone, dropping response", sessionID)
			return
		}
		log.Printf("Failed to deliver response to session %s: %v", sessionID, err)
	}
}
