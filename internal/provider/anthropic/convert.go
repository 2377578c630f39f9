package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/relaychat/relay/pkg/models"
)

// buildParams translates our message/options shape into an
// anthropic.MessageNewParams, pulling any System-role message out into the
// top-level System field since Anthropic has no system role in its message
// array.
func buildParams(messages []models.Message, opts models.GenerationOptions, model string) (anthropic.MessageNewParams, error) {
	var system string
	var converted []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if system != "" {
				system += "\n\n" + msg.Content.String()
			} else {
				system = msg.Content.String()
			}
			continue
		}

		blocks, err := toContentBlocks(msg)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		if len(blocks) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			converted = append(converted, anthropic.NewAssistantMessage(blocks...))
		} else {
			// Tool-result messages and user messages both map onto a user
			// turn in Anthropic's two-role transcript.
			converted = append(converted, anthropic.NewUserMessage(blocks...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		MaxTokens: int64(maxTokensFor(opts)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if opts.Temperature != nil {
		params.Temperature = param.NewOpt(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = param.NewOpt(*opts.TopP)
	}
	if len(opts.Tools) > 0 {
		tools, err := toTools(opts.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func toContentBlocks(msg models.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion

	if msg.Role == models.RoleTool {
		content := msg.Content.String()
		blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, content, false))
		return blocks, nil
	}

	if text := msg.Content.String(); text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}

	for _, call := range msg.ToolCalls {
		var input map[string]any
		if call.FunctionArguments != "" {
			if err := json.Unmarshal([]byte(call.FunctionArguments), &input); err != nil {
				return nil, fmt.Errorf("invalid tool call arguments: %w", err)
			}
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.FunctionName))
	}

	return blocks, nil
}

func toTools(defs []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// fromMessage converts a non-streaming anthropic.Message into our
// LlmResponse shape, flattening content blocks and collecting any tool_use
// blocks into ToolCalls.
func fromMessage(msg *anthropic.Message) models.LlmResponse {
	var text, reasoning string
	var toolCalls []models.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "thinking":
			reasoning += block.AsThinking().Thinking
		case "tool_use":
			toolUse := block.AsToolUse()
			args, _ := json.Marshal(toolUse.Input)
			toolCalls = append(toolCalls, models.ToolCall{
				ID:                toolUse.ID,
				Kind:              models.ToolCallFunction,
				FunctionName:      toolUse.Name,
				FunctionArguments: string(args),
			})
		}
	}

	return models.LlmResponse{
		Content:          models.NewTextContent(text),
		ReasoningContent: reasoning,
		ToolCalls:        toolCalls,
		FinishReason:     string(msg.StopReason),
		Usage: models.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}
