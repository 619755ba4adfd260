package mcp

import (
	"context"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

func connectTools(t *testing.T, d *fakeDaemon) *sdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := NewServer(newTestHandler(t, d), "test")

	clientT, serverT := sdk.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func toolText(t *testing.T, res *sdk.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestToolsListed(t *testing.T) {
	cs := connectTools(t, &fakeDaemon{})

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolStatus, ToolClaims, ToolEnable, ToolDisable}, names)
}

func TestToolCalls(t *testing.T) {
	d := &fakeDaemon{
		active: true,
		claims: []*domain.ClaimAttempt{{ID: "a", State: domain.ClaimWon, Label: "Spice Route"}},
	}
	cs := connectTools(t, d)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: ToolStatus, Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, toolText(t, res), "Monitoring: Home")

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{Name: ToolClaims, Arguments: map[string]any{"limit": 5}})
	require.NoError(t, err)
	assert.Contains(t, toolText(t, res), "Spice Route")
	assert.Equal(t, "5", d.lastLimit)

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{Name: ToolEnable, Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, toolText(t, res), "already active")

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{Name: ToolDisable, Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Rescue monitoring disabled.", toolText(t, res))
	assert.Equal(t, 1, d.disabled)
}
