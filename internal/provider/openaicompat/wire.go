package openaicompat

import (
	"encoding/json"

	"github.com/relaychat/relay/pkg/models"
)

// wireMessage is the on-the-wire shape of a Message in the
// chat-completions contract: role, content (string or parts array or
// absent), name, tool_calls, tool_call_id.
type wireMessage struct {
	Role       models.Role      `json:"role"`
	Content    *models.Content  `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []wireToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireToolDefinition struct {
	Type     string                `json:"type"`
	Function wireFunctionSignature `json:"function"`
}

type wireFunctionSignature struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model            string               `json:"model,omitempty"`
	Messages         []wireMessage        `json:"messages"`
	Stream           bool                 `json:"stream"`
	Temperature      *float64             `json:"temperature,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	MaxTokens        int                  `json:"max_tokens,omitempty"`
	Stop             []string             `json:"stop,omitempty"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty"`
	Tools            []wireToolDefinition `json:"tools,omitempty"`
	ToolChoice       string               `json:"tool_choice,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// wireChatResponse is the non-streaming response body.
type wireChatResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
	Error   *wireAPIError `json:"error,omitempty"`
}

type wireChoice struct {
	Message      wireResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason,omitempty"`
}

type wireResponseMessage struct {
	Content   *models.Content `json:"content,omitempty"`
	ToolCalls []wireToolCall  `json:"tool_calls,omitempty"`
}

// wireStreamChunk is one SSE `data:` payload.
type wireStreamChunk struct {
	Choices []wireStreamChoice `json:"choices"`
	Usage   *wireUsage         `json:"usage,omitempty"`
	Error   *wireAPIError      `json:"error,omitempty"`
}

type wireStreamChoice struct {
	Delta        wireDelta `json:"delta"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

type wireDelta struct {
	Content          string                `json:"content,omitempty"`
	ReasoningContent string                `json:"reasoning_content,omitempty"`
	ToolCalls        []wireToolCallFragment `json:"tool_calls,omitempty"`
}

type wireToolCallFragment struct {
	Index    int               `json:"index"`
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function wireFunctionCall  `json:"function"`
}
