package openaicompat

import "github.com/relaychat/relay/pkg/models"

func toWireMessages(messages []models.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{
			Role:       m.Role,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		content := m.Content
		wm.Content = &content
		if len(m.ToolCalls) > 0 {
			wm.ToolCalls = make([]wireToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				wm.ToolCalls[i] = wireToolCall{
					ID:   tc.ID,
					Type: string(tc.Kind),
					Function: wireFunctionCall{
						Name:      tc.FunctionName,
						Arguments: tc.FunctionArguments,
					},
				}
			}
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []models.ToolDefinition) []wireToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireToolDefinition, len(tools))
	for i, t := range tools {
		out[i] = wireToolDefinition{
			Type: "function",
			Function: wireFunctionSignature{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func buildRequest(messages []models.Message, opts models.GenerationOptions, model string, stream bool) wireRequest {
	req := wireRequest{
		Model:            opts.ModelOverride,
		Messages:         toWireMessages(messages),
		Stream:           stream,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		MaxTokens:        opts.MaxTokens,
		Stop:             opts.StopSequences,
		FrequencyPenalty: opts.FrequencyPenalty,
		PresencePenalty:  opts.PresencePenalty,
		Tools:            toWireTools(opts.Tools),
	}
	if req.Model == "" {
		req.Model = model
	}
	if opts.ToolChoice != "" {
		req.ToolChoice = string(opts.ToolChoice)
	}
	return req
}

func fromWireToolCalls(in []wireToolCall) []models.ToolCall {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.ToolCall, len(in))
	for i, tc := range in {
		out[i] = models.ToolCall{
			ID:                tc.ID,
			Kind:              models.ToolCallFunction,
			FunctionName:      tc.Function.Name,
			FunctionArguments: tc.Function.Arguments,
		}
	}
	return out
}

// flattenContent collapses Parts content to a plain string by
// concatenating only its text parts.
func flattenContent(c *models.Content) string {
	if c == nil {
		return ""
	}
	return c.String()
}
