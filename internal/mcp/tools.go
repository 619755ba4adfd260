package mcp

import (
	"context"
	"encoding/json"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

// Tool names
const (
	ToolStatus  = "rescue_status"
	ToolClaims  = "rescue_claims"
	ToolEnable  = "rescue_enable"
	ToolDisable = "rescue_disable"
)

// StatusInput is the input for rescue_status
type StatusInput struct{}

// ClaimsInput is the input for rescue_claims
type ClaimsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of attempts to return (default 20)"`
}

// EnableInput is the input for rescue_enable
type EnableInput struct {
	Location *domain.Location `json:"location,omitempty" jsonschema:"Location to monitor. Omit to use the daemon's configured location."`
	CityID   int              `json:"city_id,omitempty" jsonschema:"City id of the location, if known"`
}

// DisableInput is the input for rescue_disable
type DisableInput struct{}

// NewServer creates the MCP server exposing the rescue tools
func NewServer(h *Handler, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{
		Name:    "rescue-tools",
		Version: version,
	}, nil)

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolStatus,
		Description: "Show whether food rescue monitoring is running, the broker connection state and the session counters.",
	}, func(ctx context.Context, req *sdk.CallToolRequest, _ StatusInput) (*sdk.CallToolResult, any, error) {
		return jsonResult(h.Status(ctx))
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolClaims,
		Description: "List recent claim attempts (won, lost, missed, expired, failed), newest first.",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in ClaimsInput) (*sdk.CallToolResult, any, error) {
		return jsonResult(h.Claims(ctx, in.Limit))
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolEnable,
		Description: "Start monitoring cancelled orders near a location. Fails if monitoring is already running.",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in EnableInput) (*sdk.CallToolResult, any, error) {
		return jsonResult(h.Enable(ctx, in.Location, in.CityID))
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolDisable,
		Description: "Stop rescue monitoring and clear the stored session.",
	}, func(ctx context.Context, req *sdk.CallToolRequest, _ DisableInput) (*sdk.CallToolResult, any, error) {
		msg, err := h.Disable(ctx)
		if err != nil {
			return errorResult(err), nil, nil
		}
		return textResult(msg), nil, nil
	})

	return server
}

// jsonResult renders v as the tool's text content. Daemon errors are
// reported as tool errors, not protocol errors.
func jsonResult(v any, err error) (*sdk.CallToolResult, any, error) {
	if err != nil {
		return errorResult(err), nil, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(data)), nil, nil
}

func textResult(text string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

func errorResult(err error) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
