// Package protocol defines the JSON-RPC message shapes of the MCP transport.
package protocol

import "encoding/json"

// Version is the MCP protocol revision this server speaks.
const Version = "2024-11-05"

// JSONRPCVersion is the fixed jsonrpc field value.
const JSONRPCVersion = "2.0"

// Request methods from client to server
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
)

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is an inbound JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is an outbound JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewResponse builds a success response for the given request id.
func NewResponse(id json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewErrorResponse builds a protocol-level error response.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Error: &Error{Code: code, Message: message}}
}

// CallToolParams are the params of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// TextContent is a single text block in a tool result.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the result payload of a tools/call response. Tool-level
// failures are carried here with IsError set, never as JSON-RPC errors.
type CallToolResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError"`
}

// ToolText wraps completion text into a successful tool result.
func ToolText(text string) *CallToolResult {
	return &CallToolResult{Content: []TextContent{{Type: "text", Text: text}}}
}

// ToolError wraps a failure message into an error-flagged tool result.
func ToolError(message string) *CallToolResult {
	return &CallToolResult{Content: []TextContent{{Type: "text", Text: message}}, IsError: true}
}

// Tool describes a callable tool in tools/list responses.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ListToolsResult is the result payload of a tools/list response.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// ServerInfo identifies this server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability marks tool support in the initialize handshake.
type ToolsCapability struct{}

// Capabilities lists the server capabilities.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeResult is the result payload of an initialize response.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// EndpointEvent is the first event sent on a new session, telling the client
// where to post follow-up messages.
type EndpointEvent struct {
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint"`
}
