package bedrock

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/relaychat/relay/pkg/models"
)

func buildConverseInput(messages []models.Message, opts models.GenerationOptions, model string) (*bedrockruntime.ConverseInput, error) {
	converted, system, err := toBedrockMessages(messages)
	if err != nil {
		return nil, err
	}
	req := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		Messages:        converted,
		InferenceConfig: inferenceConfig(opts),
	}
	if system != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if len(opts.Tools) > 0 {
		req.ToolConfig = toToolConfig(opts.Tools)
	}
	return req, nil
}

func buildConverseStreamInput(messages []models.Message, opts models.GenerationOptions, model string) (*bedrockruntime.ConverseStreamInput, error) {
	converted, system, err := toBedrockMessages(messages)
	if err != nil {
		return nil, err
	}
	req := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(model),
		Messages:        converted,
		InferenceConfig: inferenceConfig(opts),
	}
	if system != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if len(opts.Tools) > 0 {
		req.ToolConfig = toToolConfig(opts.Tools)
	}
	return req, nil
}

func toBedrockMessages(messages []models.Message) ([]types.Message, string, error) {
	var system string
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if system != "" {
				system += "\n\n" + msg.Content.String()
			} else {
				system = msg.Content.String()
			}
			continue
		}

		var content []types.ContentBlock

		if msg.Role == models.RoleTool {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: msg.Content.String()},
					},
				},
			})
		} else {
			if text := msg.Content.String(); text != "" {
				content = append(content, &types.ContentBlockMemberText{Value: text})
			}
			for _, call := range msg.ToolCalls {
				var input any
				if call.FunctionArguments != "" {
					if err := json.Unmarshal([]byte(call.FunctionArguments), &input); err != nil {
						input = map[string]any{}
					}
				} else {
					input = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(call.ID),
						Name:      aws.String(call.FunctionName),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
		}

		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}

	return result, system, nil
}

func toToolConfig(defs []models.ToolDefinition) *types.ToolConfiguration {
	tools := make([]types.Tool, 0, len(defs))
	for _, def := range defs {
		var schemaDoc any
		_ = json.Unmarshal(def.Parameters, &schemaDoc)
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schemaDoc),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}
}

// fromConverseOutput converts a non-streaming ConverseOutput into our
// LlmResponse shape.
func fromConverseOutput(out *bedrockruntime.ConverseOutput) models.LlmResponse {
	resp := models.LlmResponse{
		FinishReason: string(out.StopReason),
	}
	if out.Usage != nil {
		resp.Usage = models.Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}

	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		resp.Content = models.NewTextContent("")
		return resp
	}

	var text string
	var toolCalls []models.ToolCall
	for _, block := range msgOutput.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text += b.Value
		case *types.ContentBlockMemberToolUse:
			var args []byte
			if b.Value.Input != nil {
				raw, err := b.Value.Input.MarshalSmithyDocument()
				if err == nil {
					args = raw
				}
			}
			toolCalls = append(toolCalls, models.ToolCall{
				ID:                aws.ToString(b.Value.ToolUseId),
				Kind:              models.ToolCallFunction,
				FunctionName:      aws.ToString(b.Value.Name),
				FunctionArguments: string(args),
			})
		}
	}

	resp.Content = models.NewTextContent(text)
	resp.ToolCalls = toolCalls
	return resp
}
