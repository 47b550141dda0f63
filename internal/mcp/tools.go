// Package mcp exposes the action engine as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openclaw/screenless/internal/engine"
	"github.com/openclaw/screenless/internal/inbound"
)

// ActionRunInput is the MCP tool input for running one action request.
type ActionRunInput struct {
	IdempotencyKey  string         `json:"idempotencyKey" jsonschema:"unique token guaranteeing at most one execution (min 8 chars)"`
	PermissionScope string         `json:"permissionScope,omitempty" jsonschema:"permission scope label, defaults to mcp"`
	Role            string         `json:"role,omitempty" jsonschema:"caller role: operator, assistant, automation, or readonly"`
	DryRun          *bool          `json:"dryRun,omitempty" jsonschema:"preview only, defaults to true"`
	Confirm         bool           `json:"confirm,omitempty" jsonschema:"must be true for real side effects"`
	Verbose         bool           `json:"verbose,omitempty" jsonschema:"skip redaction of sensitive fields"`
	CorrelationID   string         `json:"correlationId,omitempty" jsonschema:"request correlation id, generated when empty"`
	Input           map[string]any `json:"input" jsonschema:"action payload carrying an action discriminator"`
}

// ActionRunResult is the MCP tool output: the response envelope with data
// flattened to JSON text.
type ActionRunResult struct {
	OK            bool   `json:"ok" jsonschema:"whether the action succeeded"`
	DryRun        bool   `json:"dryRun" jsonschema:"whether this was a preview"`
	CorrelationID string `json:"correlationId" jsonschema:"correlation id of the request"`
	Action        string `json:"action" jsonschema:"executed action name"`
	Redacted      bool   `json:"redacted" jsonschema:"whether sensitive fields were masked"`
	DataJSON      string `json:"dataJson,omitempty" jsonschema:"result data as JSON text"`
	ErrorCode     string `json:"errorCode,omitempty" jsonschema:"failure code"`
	ErrorMessage  string `json:"errorMessage,omitempty" jsonschema:"failure message"`
	Retryable     bool   `json:"retryable,omitempty" jsonschema:"whether a retry with a new key may succeed"`
}

// ActionRunTool defines the MCP tool schema for action execution.
func ActionRunTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "action_run",
		Description: "Executes one idempotent CRM/channel action request and returns its envelope",
	}
}

// ActionRunHandler executes an action request through the engine.
func ActionRunHandler(eng *engine.Engine, clock func() time.Time, newID func() string) mcp.ToolHandlerFor[ActionRunInput, ActionRunResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ActionRunInput) (*mcp.CallToolResult, ActionRunResult, error) {
		scope := input.PermissionScope
		if scope == "" {
			scope = "mcp"
		}
		correlationID := input.CorrelationID
		if correlationID == "" {
			correlationID = newID()
		}

		payload := map[string]any{
			"idempotencyKey":  input.IdempotencyKey,
			"permissionScope": scope,
			"confirm":         input.Confirm,
			"verbose":         input.Verbose,
			"audit": map[string]any{
				"correlationId": correlationID,
				"requestedAt":   clock().UTC().Format(time.RFC3339),
			},
			"input": input.Input,
		}
		if input.Role != "" {
			payload["role"] = input.Role
		}
		if input.DryRun != nil {
			payload["dryRun"] = *input.DryRun
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, ActionRunResult{}, fmt.Errorf("encode action request: %w", err)
		}

		envelope := eng.Run(ctx, raw)
		result := ActionRunResult{
			OK:            envelope.OK,
			DryRun:        envelope.DryRun,
			CorrelationID: envelope.CorrelationID,
			Action:        string(envelope.Action),
			Redacted:      envelope.Redacted,
		}
		if envelope.Data != nil {
			data, err := json.Marshal(envelope.Data)
			if err != nil {
				return nil, ActionRunResult{}, fmt.Errorf("encode result data: %w", err)
			}
			result.DataJSON = string(data)
		}
		if envelope.Error != nil {
			result.ErrorCode = envelope.Error.Code
			result.ErrorMessage = envelope.Error.Message
			result.Retryable = envelope.Error.Retryable
		}
		return nil, result, nil
	}
}

// InboundExtractInput is the MCP tool input for command extraction.
type InboundExtractInput struct {
	Message string `json:"message" jsonschema:"raw inbound text to scan for an executable command"`
}

// InboundExtractResult is the extracted intent.
type InboundExtractResult struct {
	Action         string `json:"action" jsonschema:"extracted action name"`
	InputJSON      string `json:"inputJson" jsonschema:"extracted action input as JSON text"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" jsonschema:"idempotency key carried by the command, if any"`
}

// InboundExtractTool defines the MCP tool schema for inbound extraction.
func InboundExtractTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "inbound_extract",
		Description: "Extracts a typed command from raw inbound text (sentinel envelope or slash grammar)",
	}
}

// InboundExtractHandler parses inbound text without executing anything.
func InboundExtractHandler() mcp.ToolHandlerFor[InboundExtractInput, InboundExtractResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input InboundExtractInput) (*mcp.CallToolResult, InboundExtractResult, error) {
		cmd, err := inbound.ExtractCommand(input.Message)
		if err != nil {
			return nil, InboundExtractResult{}, err
		}
		raw, err := json.Marshal(cmd.Input)
		if err != nil {
			return nil, InboundExtractResult{}, fmt.Errorf("encode extracted input: %w", err)
		}
		return nil, InboundExtractResult{
			Action:         string(cmd.Action),
			InputJSON:      string(raw),
			IdempotencyKey: cmd.IdempotencyKey,
		}, nil
	}
}
