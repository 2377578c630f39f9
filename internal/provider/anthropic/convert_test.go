package anthropic

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/relaychat/relay/pkg/models"
)

var emptyMessage anthropic.Message

func TestBuildParams_PullsSystemMessageOut(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: models.NewTextContent("be terse")},
		{Role: models.RoleUser, Content: models.NewTextContent("hi")},
	}
	params, err := buildParams(messages, models.GenerationOptions{}, "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("buildParams() error = %v", err)
	}
	if len(params.System) != 1 || params.System[0].Text != "be terse" {
		t.Fatalf("System = %+v, want one block with text %q", params.System, "be terse")
	}
	if len(params.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1 (system message excluded)", len(params.Messages))
	}
}

func TestBuildParams_DefaultsMaxTokens(t *testing.T) {
	params, err := buildParams([]models.Message{
		{Role: models.RoleUser, Content: models.NewTextContent("hi")},
	}, models.GenerationOptions{}, "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("buildParams() error = %v", err)
	}
	if params.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", params.MaxTokens)
	}
}

func TestBuildParams_HonorsMaxTokensAndSampling(t *testing.T) {
	temp := 0.5
	topP := 0.9
	params, err := buildParams([]models.Message{
		{Role: models.RoleUser, Content: models.NewTextContent("hi")},
	}, models.GenerationOptions{MaxTokens: 256, Temperature: &temp, TopP: &topP}, "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("buildParams() error = %v", err)
	}
	if params.MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want 256", params.MaxTokens)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.5 {
		t.Errorf("Temperature = %+v, want 0.5", params.Temperature)
	}
	if !params.TopP.Valid() || params.TopP.Value != 0.9 {
		t.Errorf("TopP = %+v, want 0.9", params.TopP)
	}
}

func TestToContentBlocks_ToolResultMessage(t *testing.T) {
	msg := models.Message{
		Role:       models.RoleTool,
		Content:    models.NewTextContent(`{"ok":true}`),
		ToolCallID: "call-1",
	}
	blocks, err := toContentBlocks(msg)
	if err != nil {
		t.Fatalf("toContentBlocks() error = %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1", len(blocks))
	}
	raw, err := json.Marshal(blocks[0])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, `"tool_result"`) || !strings.Contains(body, "call-1") {
		t.Errorf("marshaled block = %s, want tool_result referencing call-1", body)
	}
}

func TestToContentBlocks_TextAndToolUse(t *testing.T) {
	msg := models.Message{
		Role:    models.RoleAssistant,
		Content: models.NewTextContent("let me check"),
		ToolCalls: []models.ToolCall{
			{ID: "call-1", Kind: models.ToolCallFunction, FunctionName: "lookup", FunctionArguments: `{"query":"weather"}`},
		},
	}
	blocks, err := toContentBlocks(msg)
	if err != nil {
		t.Fatalf("toContentBlocks() error = %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2 (text + tool_use)", len(blocks))
	}
	raw, err := json.Marshal(blocks[1])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, "lookup") || !strings.Contains(body, "weather") {
		t.Errorf("marshaled tool_use block = %s, want to reference lookup/weather", body)
	}
}

func TestToContentBlocks_InvalidToolArguments(t *testing.T) {
	msg := models.Message{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCall{
			{ID: "call-1", FunctionName: "lookup", FunctionArguments: "{not json"},
		},
	}
	if _, err := toContentBlocks(msg); err == nil {
		t.Fatal("expected error for malformed tool call arguments")
	}
}

func TestToTools(t *testing.T) {
	defs := []models.ToolDefinition{
		{
			Name:        "get_weather",
			Description: "Looks up current weather",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
		},
	}
	tools, err := toTools(defs)
	if err != nil {
		t.Fatalf("toTools() error = %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1", len(tools))
	}
	raw, err := json.Marshal(tools[0])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, "get_weather") || !strings.Contains(body, "Looks up current weather") {
		t.Errorf("marshaled tool = %s, want name/description present", body)
	}
}

func TestToTools_InvalidSchema(t *testing.T) {
	defs := []models.ToolDefinition{
		{Name: "bad", Parameters: json.RawMessage(`not-json`)},
	}
	if _, err := toTools(defs); err == nil {
		t.Fatal("expected error for malformed tool schema")
	}
}

func TestFromMessage_ZeroValue(t *testing.T) {
	resp := fromMessage(&emptyMessage)
	if resp.Content.String() != "" {
		t.Errorf("Content = %q, want empty", resp.Content.String())
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %+v, want none", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 0 {
		t.Errorf("TotalTokens = %d, want 0", resp.Usage.TotalTokens)
	}
}
