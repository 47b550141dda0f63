package mcp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openclaw/screenless/internal/engine"
)

const (
	serverName    = "screenless"
	serverVersion = "0.1.0"
)

// NewServer builds the MCP server with the engine tools registered.
func NewServer(eng *engine.Engine, clock func() time.Time, newID func() string) *mcp.Server {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}

	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	mcp.AddTool(server, ActionRunTool(), ActionRunHandler(eng, clock, newID))
	mcp.AddTool(server, InboundExtractTool(), InboundExtractHandler())
	return server
}

// ServeStdio runs the server on stdio until the context is cancelled.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
