package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rescuewatch/rescue-monitor/internal/mcp"
)

const version = "v1.0.0"

// rescue-mcp exposes the daemon's HTTP API as MCP tools over stdio.
func main() {
	apiURL := os.Getenv("RESCUE_API_URL")
	if apiURL == "" {
		port := os.Getenv("RESCUE_API_PORT")
		if port == "" {
			port = "9876"
		}
		apiURL = fmt.Sprintf("http://127.0.0.1:%s", port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(mcp.NewHandler(mcp.NewClient(apiURL)), version)
	if err := server.Run(ctx, &sdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
