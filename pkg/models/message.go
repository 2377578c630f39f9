package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role indicates the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartKind discriminates the variants of ContentPart.
type ContentPartKind string

const (
	PartText  ContentPartKind = "text"
	PartImage ContentPartKind = "image"
	PartAudio ContentPartKind = "audio"
	PartVideo ContentPartKind = "video"
)

// ContentPart is a tagged union over the multimodal fragments a message can
// carry. Exactly one of the Kind-specific fields is meaningful for a given
// Kind; the rest are zero.
//
// On the wire, a part is an object discriminated by "type": text parts are
// {type:"text", text}; image/audio/video parts nest their URL and hints
// under a type-named key ({type:"image_url", image_url:{url, detail}}),
// matching the chat-completions part shapes.
type ContentPart struct {
	Kind ContentPartKind

	// Text holds the text for PartText.
	Text string

	// URL holds the resource location for PartImage, PartAudio, PartVideo.
	URL string

	// Detail is an optional rendering hint for PartImage/PartVideo (e.g. "low", "high", "auto").
	Detail string

	// MaxFrames and FPS are optional PartVideo sampling hints.
	MaxFrames int
	FPS       float64
}

// wireURLPart is the nested {url, detail?, max_frames?, fps?} object carried
// under the "image_url"/"audio_url"/"video_url" key.
type wireURLPart struct {
	URL       string  `json:"url"`
	Detail    string  `json:"detail,omitempty"`
	MaxFrames int     `json:"max_frames,omitempty"`
	FPS       float64 `json:"fps,omitempty"`
}

// MarshalJSON renders the part using the wire's type-named nesting: a bare
// {type, text} object for text, or {type, "<type>_url": {url, ...}} for the
// URL-carrying kinds.
func (p ContentPart) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PartImage:
		return json.Marshal(struct {
			Type     string      `json:"type"`
			ImageURL wireURLPart `json:"image_url"`
		}{"image_url", wireURLPart{URL: p.URL, Detail: p.Detail}})
	case PartAudio:
		return json.Marshal(struct {
			Type     string      `json:"type"`
			AudioURL wireURLPart `json:"audio_url"`
		}{"audio_url", wireURLPart{URL: p.URL}})
	case PartVideo:
		return json.Marshal(struct {
			Type     string      `json:"type"`
			VideoURL wireURLPart `json:"video_url"`
		}{"video_url", wireURLPart{URL: p.URL, Detail: p.Detail, MaxFrames: p.MaxFrames, FPS: p.FPS}})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"text", p.Text})
	}
}

// UnmarshalJSON accepts the wire shapes produced by MarshalJSON. An
// unrecognized "type" decodes to an empty PartText, matching Content's own
// tolerant-decode policy.
func (p *ContentPart) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Type     string      `json:"type"`
		Text     string      `json:"text"`
		ImageURL wireURLPart `json:"image_url"`
		AudioURL wireURLPart `json:"audio_url"`
		VideoURL wireURLPart `json:"video_url"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	switch tagged.Type {
	case "image_url":
		*p = ImagePart(tagged.ImageURL.URL, tagged.ImageURL.Detail)
	case "audio_url":
		*p = AudioPart(tagged.AudioURL.URL)
	case "video_url":
		*p = VideoPart(tagged.VideoURL.URL, tagged.VideoURL.Detail, tagged.VideoURL.MaxFrames, tagged.VideoURL.FPS)
	default:
		*p = TextPart(tagged.Text)
	}
	return nil
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text}
}

// ImagePart builds an image content part.
func ImagePart(url, detail string) ContentPart {
	return ContentPart{Kind: PartImage, URL: url, Detail: detail}
}

// AudioPart builds an audio content part.
func AudioPart(url string) ContentPart {
	return ContentPart{Kind: PartAudio, URL: url}
}

// VideoPart builds a video content part.
func VideoPart(url, detail string, maxFrames int, fps float64) ContentPart {
	return ContentPart{Kind: PartVideo, URL: url, Detail: detail, MaxFrames: maxFrames, FPS: fps}
}

// Content is a tagged union: either plain Text, or a sequence of
// multimodal Parts. Exactly one form is populated at a time; IsParts
// reports which.
//
// On the wire a Content marshals back to whichever form it holds: Text
// marshals as a bare JSON string, Parts marshals as a JSON array. This
// mirrors how chat-completion APIs accept either shape for a message's
// "content" field.
type Content struct {
	text    string
	parts   []ContentPart
	isParts bool
}

// NewTextContent builds a Content holding plain text.
func NewTextContent(text string) Content {
	return Content{text: text}
}

// NewPartsContent builds a Content holding multimodal parts.
func NewPartsContent(parts []ContentPart) Content {
	return Content{parts: parts, isParts: true}
}

// IsParts reports whether this Content holds the Parts variant.
func (c Content) IsParts() bool { return c.isParts }

// Text returns the Text variant's value, or "" if this Content holds Parts.
func (c Content) Text() string { return c.text }

// Parts returns the Parts variant's value, or nil if this Content holds Text.
func (c Content) Parts() []ContentPart { return c.parts }

// String renders a best-effort flat string, concatenating text parts when
// this Content holds Parts. Used for logging and for providers that only
// accept a flat string body.
func (c Content) String() string {
	if !c.isParts {
		return c.text
	}
	out := ""
	for _, p := range c.parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// MarshalJSON renders Text as a bare string and Parts as a JSON array,
// matching what an OpenAI-compatible chat-completions endpoint expects.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.isParts {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts a bare string (-> Text), a JSON array (-> Parts),
// or any other shape (-> empty Text). It never returns an error: malformed
// or unexpected content degrades to empty text rather than failing the
// surrounding message decode.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = NewTextContent(s)
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		*c = NewPartsContent(parts)
		return nil
	}

	*c = NewTextContent("")
	return nil
}

// ToolCallKind is the discriminator for a ToolCall; today only "function"
// calls are modeled, matching the OpenAI-compatible wire format.
type ToolCallKind string

const (
	ToolCallFunction ToolCallKind = "function"
)

// ToolCall represents a single invocation request an assistant turn makes
// against a registered tool. The same shape doubles as a streaming
// fragment: mid-stream, ID/Kind/FunctionName may be empty and
// FunctionArguments may hold only a partial substring.
type ToolCall struct {
	ID   string       `json:"id"`
	Kind ToolCallKind `json:"type"`

	// FunctionName is the tool name being invoked.
	FunctionName string `json:"name"`

	// FunctionArguments is the raw, unparsed JSON object of arguments as
	// emitted by the model. Kept raw (rather than map[string]any) so that
	// reassembled streaming fragments can be concatenated byte-for-byte
	// before a single parse at dispatch time.
	FunctionArguments string `json:"arguments"`

	// Index is the fragment's positional slot in the stream, used to key
	// reassembly across chunks. It carries no meaning on a finalized
	// ToolCall and is never sent on the wire.
	Index int `json:"-"`
}

// ToolResult is the outcome of executing a ToolCall, fed back into the
// conversation as a RoleTool message.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`

	// Name optionally disambiguates multiple participants sharing a role.
	Name string `json:"name,omitempty"`

	// ToolCalls is populated on an assistant message that requested tool
	// execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a RoleTool message back to the ToolCall it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes a callable tool to the provider and, separately,
// is used locally to validate and dispatch calls against it.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolChoice constrains how a provider may use the offered tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// GenerationOptions tunes a single completion request. Zero values mean
// "use the provider default" except where noted.
type GenerationOptions struct {
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	MaxTokens        int              `json:"max_tokens,omitempty"`
	StopSequences    []string         `json:"stop,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	ModelOverride    string           `json:"model,omitempty"`
	Tools            []ToolDefinition `json:"-"`
	ToolChoice       ToolChoice       `json:"-"`
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates o into u, returning the sum.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// LlmResponse is a fully-aggregated, non-streaming view of one completion.
type LlmResponse struct {
	Content          Content
	ReasoningContent string
	ToolCalls        []ToolCall
	Usage            Usage
	FinishReason     string
}

// MemoryStrategy controls how an orchestrated turn interacts with session
// memory: whether history is read, written, both, or neither.
type MemoryStrategy string

const (
	MemoryReadWrite MemoryStrategy = "read_write"
	MemoryReadOnly  MemoryStrategy = "read_only"
	MemoryWriteOnly MemoryStrategy = "write_only"
	MemoryStateless MemoryStrategy = "stateless"
)

// ReadsHistory reports whether this strategy loads prior turns before a
// request. The zero value behaves as MemoryReadWrite.
func (s MemoryStrategy) ReadsHistory() bool {
	return s == MemoryReadWrite || s == MemoryReadOnly || s == ""
}

// WritesHistory reports whether this strategy persists new turns after a
// request. The zero value behaves as MemoryReadWrite.
func (s MemoryStrategy) WritesHistory() bool {
	return s == MemoryReadWrite || s == MemoryWriteOnly || s == ""
}

// SessionState is the full, orderable content of one conversation session:
// an optional system prompt plus the message transcript.
type SessionState struct {
	SystemPrompt string
	Messages     []Message
}

// Session is persistence metadata about a conversation thread, distinct
// from its message transcript (see Store.GetMessages).
type Session struct {
	ID           string         `json:"id"`
	Key          string         `json:"key,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
}

// ErrEmptySessionID is returned by session operations given an empty ID.
var ErrEmptySessionID = errors.New("models: session id must not be empty")

// ValidateSessionID rejects empty identifiers early, before they reach a
// persistence backend.
func ValidateSessionID(id string) error {
	if id == "" {
		return ErrEmptySessionID
	}
	return nil
}

// ErrorKind categorizes failures surfaced by providers and the
// orchestrator, independent of any specific backend's status codes.
type ErrorKind string

const (
	ErrAuthentication ErrorKind = "authentication"
	ErrRateLimit      ErrorKind = "rate_limit"
	ErrInvalidRequest ErrorKind = "invalid_request"
	ErrServer         ErrorKind = "server"
	ErrUnknown        ErrorKind = "unknown"
	ErrIO             ErrorKind = "io"
	ErrSerialization  ErrorKind = "serialization"
	ErrArgument       ErrorKind = "argument"
	ErrState          ErrorKind = "state"
	ErrCancellation   ErrorKind = "cancellation"
)

// OrchestrationError is the structured error type returned across provider
// and orchestrator boundaries, carrying a stable Kind for callers that want
// to branch on failure category (e.g. retry on ErrRateLimit, surface
// ErrAuthentication to an operator) without string-matching messages.
type OrchestrationError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *OrchestrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *OrchestrationError) Unwrap() error { return e.Cause }

// NewError constructs an OrchestrationError of the given kind.
func NewError(kind ErrorKind, message string, cause error) *OrchestrationError {
	return &OrchestrationError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) an
// OrchestrationError, otherwise ErrUnknown.
func KindOf(err error) ErrorKind {
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ErrUnknown
}
