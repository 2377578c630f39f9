package bedrock

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/relaychat/relay/pkg/models"
)

func TestToBedrockMessages_PullsSystemOut(t *testing.T) {
	converted, system, err := toBedrockMessages([]models.Message{
		{Role: models.RoleSystem, Content: models.NewTextContent("be terse")},
		{Role: models.RoleUser, Content: models.NewTextContent("hi")},
	})
	if err != nil {
		t.Fatalf("toBedrockMessages() error = %v", err)
	}
	if system != "be terse" {
		t.Errorf("system = %q, want %q", system, "be terse")
	}
	if len(converted) != 1 {
		t.Fatalf("len(converted) = %d, want 1 (system message excluded)", len(converted))
	}
	if converted[0].Role != types.ConversationRoleUser {
		t.Errorf("Role = %q, want %q", converted[0].Role, types.ConversationRoleUser)
	}
}

func TestToBedrockMessages_JoinsMultipleSystemPrompts(t *testing.T) {
	_, system, err := toBedrockMessages([]models.Message{
		{Role: models.RoleSystem, Content: models.NewTextContent("one")},
		{Role: models.RoleSystem, Content: models.NewTextContent("two")},
	})
	if err != nil {
		t.Fatalf("toBedrockMessages() error = %v", err)
	}
	if system != "one\n\ntwo" {
		t.Errorf("system = %q, want %q", system, "one\n\ntwo")
	}
}

func TestToBedrockMessages_ToolResultBlock(t *testing.T) {
	converted, _, err := toBedrockMessages([]models.Message{
		{Role: models.RoleTool, Content: models.NewTextContent("Sunny"), ToolCallID: "call_1"},
	})
	if err != nil {
		t.Fatalf("toBedrockMessages() error = %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("len(converted) = %d, want 1", len(converted))
	}
	block, ok := converted[0].Content[0].(*types.ContentBlockMemberToolResult)
	if !ok {
		t.Fatalf("Content[0] = %T, want *types.ContentBlockMemberToolResult", converted[0].Content[0])
	}
	if aws.ToString(block.Value.ToolUseId) != "call_1" {
		t.Errorf("ToolUseId = %q, want %q", aws.ToString(block.Value.ToolUseId), "call_1")
	}
	text, ok := block.Value.Content[0].(*types.ToolResultContentBlockMemberText)
	if !ok || text.Value != "Sunny" {
		t.Errorf("tool result content = %+v, want text %q", block.Value.Content[0], "Sunny")
	}
}

func TestToBedrockMessages_AssistantToolUse(t *testing.T) {
	converted, _, err := toBedrockMessages([]models.Message{
		{
			Role:    models.RoleAssistant,
			Content: models.NewTextContent(""),
			ToolCalls: []models.ToolCall{{
				ID:                "call_1",
				Kind:              models.ToolCallFunction,
				FunctionName:      "get_weather",
				FunctionArguments: `{"city":"Beijing"}`,
			}},
		},
	})
	if err != nil {
		t.Fatalf("toBedrockMessages() error = %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("len(converted) = %d, want 1", len(converted))
	}
	if converted[0].Role != types.ConversationRoleAssistant {
		t.Errorf("Role = %q, want %q", converted[0].Role, types.ConversationRoleAssistant)
	}
	block, ok := converted[0].Content[0].(*types.ContentBlockMemberToolUse)
	if !ok {
		t.Fatalf("Content[0] = %T, want *types.ContentBlockMemberToolUse", converted[0].Content[0])
	}
	if aws.ToString(block.Value.Name) != "get_weather" {
		t.Errorf("Name = %q, want %q", aws.ToString(block.Value.Name), "get_weather")
	}
	raw, err := block.Value.Input.MarshalSmithyDocument()
	if err != nil {
		t.Fatalf("MarshalSmithyDocument() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal tool input: %v", err)
	}
	if got["city"] != "Beijing" {
		t.Errorf(`input["city"] = %v, want "Beijing"`, got["city"])
	}
}

func TestBuildConverseInput_ToolConfig(t *testing.T) {
	req, err := buildConverseInput(
		[]models.Message{{Role: models.RoleUser, Content: models.NewTextContent("hi")}},
		models.GenerationOptions{Tools: []models.ToolDefinition{{
			Name:        "get_weather",
			Description: "Current weather for a city",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		}}},
		"anthropic.claude-3-sonnet-20240229-v1:0",
	)
	if err != nil {
		t.Fatalf("buildConverseInput() error = %v", err)
	}
	if req.ToolConfig == nil || len(req.ToolConfig.Tools) != 1 {
		t.Fatalf("ToolConfig = %+v, want one tool", req.ToolConfig)
	}
	spec, ok := req.ToolConfig.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("Tools[0] = %T, want *types.ToolMemberToolSpec", req.ToolConfig.Tools[0])
	}
	if aws.ToString(spec.Value.Name) != "get_weather" {
		t.Errorf("Name = %q, want %q", aws.ToString(spec.Value.Name), "get_weather")
	}
}

func TestInferenceConfig_NilWhenUnset(t *testing.T) {
	if cfg := inferenceConfig(models.GenerationOptions{}); cfg != nil {
		t.Errorf("inferenceConfig() = %+v, want nil", cfg)
	}
}

func TestInferenceConfig_CarriesSampling(t *testing.T) {
	temp := 0.5
	topP := 0.9
	cfg := inferenceConfig(models.GenerationOptions{MaxTokens: 256, Temperature: &temp, TopP: &topP})
	if cfg == nil {
		t.Fatal("inferenceConfig() = nil, want populated config")
	}
	if aws.ToInt32(cfg.MaxTokens) != 256 {
		t.Errorf("MaxTokens = %d, want 256", aws.ToInt32(cfg.MaxTokens))
	}
	if aws.ToFloat32(cfg.Temperature) != 0.5 {
		t.Errorf("Temperature = %v, want 0.5", aws.ToFloat32(cfg.Temperature))
	}
	if aws.ToFloat32(cfg.TopP) != 0.9 {
		t.Errorf("TopP = %v, want 0.9", aws.ToFloat32(cfg.TopP))
	}
}

func TestFromConverseOutput_TextAndUsage(t *testing.T) {
	out := &bedrockruntime.ConverseOutput{
		StopReason: types.StopReasonEndTurn,
		Usage: &types.TokenUsage{
			InputTokens:  aws.Int32(10),
			OutputTokens: aws.Int32(5),
			TotalTokens:  aws.Int32(15),
		},
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: "It is sunny in Beijing."},
				},
			},
		},
	}
	resp := fromConverseOutput(out)
	if resp.Content.String() != "It is sunny in Beijing." {
		t.Errorf("Content = %q, want %q", resp.Content.String(), "It is sunny in Beijing.")
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != string(types.StopReasonEndTurn) {
		t.Errorf("FinishReason = %q, want %q", resp.FinishReason, types.StopReasonEndTurn)
	}
}

func TestFromConverseOutput_ToolUse(t *testing.T) {
	out := &bedrockruntime.ConverseOutput{
		StopReason: types.StopReasonToolUse,
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberToolUse{
						Value: types.ToolUseBlock{
							ToolUseId: aws.String("call_1"),
							Name:      aws.String("get_weather"),
							Input:     document.NewLazyDocument(map[string]any{"city": "Beijing"}),
						},
					},
				},
			},
		},
	}
	resp := fromConverseOutput(out)
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.FunctionName != "get_weather" {
		t.Errorf("ToolCall = %+v, want id call_1 / name get_weather", call)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(call.FunctionArguments), &got); err != nil {
		t.Fatalf("arguments %q not valid JSON: %v", call.FunctionArguments, err)
	}
	if got["city"] != "Beijing" {
		t.Errorf(`arguments["city"] = %v, want "Beijing"`, got["city"])
	}
}
