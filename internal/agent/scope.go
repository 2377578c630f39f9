package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/relaychat/relay/internal/observability"
	"github.com/relaychat/relay/internal/streaming"
	pkgusage "github.com/relaychat/relay/internal/usage"
	"github.com/relaychat/relay/pkg/models"
)

const defaultMaxToolRounds = 5

// DeltaSink receives streamed content chunks. It is suspending by contract
// (it may perform arbitrary awaits, e.g. writing to a network socket).
type DeltaSink func(delta string) error

// PrepareOpts configures how Scope assembles the messages sent to the
// provider for one turn.
type PrepareOpts struct {
	// Template, when non-blank, replaces the default history+user assembly
	// with a rendered string: {{it}} substitutes the user input, and
	// {{history}} (if present) substitutes the formatted prior transcript.
	Template string

	// Strategy derives which of read/write apply to session memory for
	// this turn.
	Strategy models.MemoryStrategy

	// Window bounds how much history is read (-1 = all, 0 = none).
	Window int

	// TempSystem, when non-nil, overrides the session's stored system
	// prompt for this turn only; it is preferred over the session's own
	// prompt wherever an effective system prompt is computed.
	TempSystem *string

	// Formatter renders history text for {{history}} substitution. Nil
	// uses DefaultHistoryFormatter.
	Formatter HistoryFormatter
}

// Scope is a short-lived orchestration context bound to a Client: it
// carries registered tools, a tool-round bound, and the last turn's usage.
// Created fresh for each top-level conversation call.
type Scope struct {
	client        *Client
	maxToolRounds int
	tools         map[string]registeredTool
	lastUsage     models.Usage
	log           *observability.Logger
}

// LastUsage returns the accumulated token usage observed by this scope so far.
func (s *Scope) LastUsage() models.Usage {
	return s.lastUsage
}

// Ask runs one non-streaming Re-Act turn over plain text input.
func (s *Scope) Ask(ctx context.Context, input string, opts PrepareOpts, genOpts models.GenerationOptions) (string, error) {
	return s.run(ctx, models.NewTextContent(input), opts, genOpts, nil)
}

// AskStream runs one streaming Re-Act turn over plain text input, piping
// content deltas to sink as they arrive.
func (s *Scope) AskStream(ctx context.Context, input string, opts PrepareOpts, genOpts models.GenerationOptions, sink DeltaSink) (string, error) {
	return s.run(ctx, models.NewTextContent(input), opts, genOpts, sink)
}

// AskMultimodal runs one non-streaming Re-Act turn over multimodal Parts
// content. The template path never applies to Parts content, so any
// PrepareOpts.Template is ignored.
func (s *Scope) AskMultimodal(ctx context.Context, parts []models.ContentPart, opts PrepareOpts, genOpts models.GenerationOptions) (string, error) {
	opts.Template = ""
	return s.run(ctx, models.NewPartsContent(parts), opts, genOpts, nil)
}

// AskMultimodalStream is the streaming counterpart of AskMultimodal.
func (s *Scope) AskMultimodalStream(ctx context.Context, parts []models.ContentPart, opts PrepareOpts, genOpts models.GenerationOptions, sink DeltaSink) (string, error) {
	opts.Template = ""
	return s.run(ctx, models.NewPartsContent(parts), opts, genOpts, sink)
}

func (s *Scope) run(ctx context.Context, input models.Content, opts PrepareOpts, genOpts models.GenerationOptions, sink DeltaSink) (string, error) {
	messages, err := s.prepareMessages(ctx, input, opts)
	if err != nil {
		return "", err
	}
	merged := s.mergeToolOptions(genOpts)
	return s.reactLoop(ctx, messages, merged, opts.Strategy.WritesHistory(), sink)
}

// prepareMessages builds the message list sent to the provider for this
// turn from the template, the memory strategy, and the session history.
func (s *Scope) prepareMessages(ctx context.Context, input models.Content, opts PrepareOpts) ([]models.Message, error) {
	read := opts.Strategy.ReadsHistory()

	usesHistory := strings.Contains(opts.Template, "{{history}}")
	if usesHistory && !read {
		return nil, models.NewError(models.ErrArgument, "template references {{history}} but the memory strategy disables reads", nil)
	}

	var messages []models.Message

	if strings.TrimSpace(opts.Template) != "" {
		rendered := strings.ReplaceAll(opts.Template, "{{it}}", input.String())
		if usesHistory {
			history, err := s.client.memory.CurrentHistory(opts.Window, opts.TempSystem, false)
			if err != nil {
				return nil, err
			}
			formatter := opts.Formatter
			if formatter == nil {
				formatter = DefaultHistoryFormatter
			}
			rendered = strings.ReplaceAll(rendered, "{{history}}", formatter(history))
		}

		sysOnly, err := s.client.memory.CurrentHistory(0, opts.TempSystem, true)
		if err != nil {
			return nil, err
		}
		messages = append(messages, sysOnly...)
		messages = append(messages, models.Message{Role: models.RoleUser, Content: models.NewTextContent(rendered)})
	} else if read {
		history, err := s.client.memory.CurrentHistory(opts.Window, opts.TempSystem, true)
		if err != nil {
			return nil, err
		}
		messages = append(messages, history...)
		messages = append(messages, models.Message{Role: models.RoleUser, Content: input})
	} else {
		sysOnly, err := s.client.memory.CurrentHistory(0, opts.TempSystem, true)
		if err != nil {
			return nil, err
		}
		messages = append(messages, sysOnly...)
		messages = append(messages, models.Message{Role: models.RoleUser, Content: input})
	}

	if opts.Strategy.WritesHistory() {
		if err := s.client.memory.Append(ctx, models.RoleUser, input, nil, "", ""); err != nil {
			return nil, err
		}
	}

	return messages, nil
}

// mergeToolOptions unions this scope's registered tools with the caller's
// own, deduplicating by function name; the caller's entry wins on conflict.
func (s *Scope) mergeToolOptions(opts models.GenerationOptions) models.GenerationOptions {
	if len(s.tools) == 0 {
		return opts
	}

	byName := make(map[string]models.ToolDefinition, len(s.tools)+len(opts.Tools))
	for _, t := range opts.Tools {
		byName[t.Name] = t
	}
	for name, rt := range s.tools {
		if _, exists := byName[name]; !exists {
			byName[name] = rt.def
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make([]models.ToolDefinition, len(names))
	for i, name := range names {
		merged[i] = byName[name]
	}
	opts.Tools = merged
	return opts
}

// reactLoop alternates provider turns and tool dispatch until the model
// produces a tool-call-free turn or maxToolRounds is exhausted.
func (s *Scope) reactLoop(ctx context.Context, messages []models.Message, opts models.GenerationOptions, write bool, sink DeltaSink) (string, error) {
	var text string

	for round := 0; round < s.maxToolRounds; round++ {
		var toolCalls []models.ToolCall
		var err error
		if sink != nil {
			text, toolCalls, err = s.streamRound(ctx, messages, opts, sink)
		} else {
			text, toolCalls, err = s.chatRound(ctx, messages, opts)
		}
		if err != nil {
			return text, err
		}

		assistantContent := models.NewTextContent(text)
		messages = append(messages, models.Message{Role: models.RoleAssistant, Content: assistantContent, ToolCalls: toolCalls})
		if write {
			if err := s.client.memory.Append(ctx, models.RoleAssistant, assistantContent, toolCalls, "", ""); err != nil {
				return text, err
			}
		}

		if len(toolCalls) == 0 {
			return text, nil
		}

		toolMessages := s.dispatchTools(ctx, toolCalls)
		messages = append(messages, toolMessages...)
		if write {
			for _, tm := range toolMessages {
				if err := s.client.memory.Append(ctx, models.RoleTool, tm.Content, nil, tm.ToolCallID, tm.Name); err != nil {
					return text, err
				}
			}
		}
	}

	if s.client.metrics != nil {
		s.client.metrics.RecordToolRoundsExhausted()
	}
	s.log.Warn(ctx, "agent: max tool rounds exceeded, returning latest text", "max_tool_rounds", s.maxToolRounds)
	return text, nil
}

func (s *Scope) chatRound(ctx context.Context, messages []models.Message, opts models.GenerationOptions) (string, []models.ToolCall, error) {
	start := time.Now()
	resp, err := s.client.provider.Chat(ctx, messages, opts)
	s.recordProviderCall(opts, resp.Usage, time.Since(start), err)
	if err != nil {
		return "", nil, err
	}
	s.lastUsage = s.lastUsage.Add(resp.Usage)
	return resp.Content.String(), resp.ToolCalls, nil
}

// recordProviderCall reports the outcome of one provider round to whichever
// of Metrics and the usage Tracker are attached; either, both, or neither
// may be nil.
func (s *Scope) recordProviderCall(opts models.GenerationOptions, respUsage models.Usage, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	providerName := s.client.provider.Name()

	if s.client.metrics != nil {
		s.client.metrics.RecordLLMRequest(providerName, opts.ModelOverride, status, elapsed.Seconds(), respUsage.PromptTokens, respUsage.CompletionTokens)
	}

	if s.client.usage != nil && err == nil {
		u := pkgusage.Usage{InputTokens: int64(respUsage.PromptTokens), OutputTokens: int64(respUsage.CompletionTokens)}
		var cost float64
		if c, ok := s.client.costs[opts.ModelOverride]; ok {
			cost = c.Estimate(&u)
		}
		s.client.usage.Record(pkgusage.Record{
			Provider:  providerName,
			Model:     opts.ModelOverride,
			SessionID: s.client.memory.Current(),
			Usage:     u,
			Cost:      cost,
			ElapsedMs: elapsed.Milliseconds(),
		})
		if s.client.metrics != nil && cost > 0 {
			s.client.metrics.RecordLLMCost(providerName, opts.ModelOverride, cost)
		}
	}
}

func (s *Scope) streamRound(ctx context.Context, messages []models.Message, opts models.GenerationOptions, sink DeltaSink) (string, []models.ToolCall, error) {
	start := time.Now()
	events, err := s.client.provider.Stream(ctx, messages, opts)
	if err != nil {
		s.recordProviderCall(opts, models.Usage{}, time.Since(start), err)
		return "", nil, err
	}

	var textBuilder strings.Builder
	assembler := streaming.NewToolCallAssembler()
	batcher := streaming.NewBatcher(func(chunk string) error { return sink(chunk) })

	var streamErr error
	var turnUsage models.Usage
	for event := range events {
		if event.Err != nil {
			streamErr = event.Err
			break
		}
		if delta := event.Response.Content.String(); delta != "" {
			textBuilder.WriteString(delta)
			batcher.Append(delta)
		}
		for _, frag := range event.Response.ToolCalls {
			assembler.Add(frag)
		}
		turnUsage = turnUsage.Add(event.Response.Usage)
		s.lastUsage = s.lastUsage.Add(event.Response.Usage)
	}

	if flushErr := batcher.Flush(); flushErr != nil && streamErr == nil {
		streamErr = flushErr
	}
	s.recordProviderCall(opts, turnUsage, time.Since(start), streamErr)
	if streamErr != nil {
		return textBuilder.String(), nil, streamErr
	}

	return textBuilder.String(), assembler.Finalize(), nil
}

// dispatchTools invokes each finalized tool call's registered executor in
// order, never raising: a missing registration or executor failure becomes
// Tool-role error text instead.
func (s *Scope) dispatchTools(ctx context.Context, calls []models.ToolCall) []models.Message {
	out := make([]models.Message, 0, len(calls))
	for _, tc := range calls {
		out = append(out, models.Message{
			Role:       models.RoleTool,
			Content:    models.NewTextContent(s.invokeTool(ctx, tc)),
			Name:       tc.FunctionName,
			ToolCallID: tc.ID,
		})
	}
	return out
}

func (s *Scope) invokeTool(ctx context.Context, tc models.ToolCall) string {
	tool, ok := s.tools[tc.FunctionName]
	if !ok {
		return fmt.Sprintf("Error executing tool '%s': not registered", tc.FunctionName)
	}

	start := time.Now()
	result, err := s.safeExecute(ctx, tool.exec, tc.FunctionArguments)
	if s.client.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.client.metrics.RecordToolExecution(tc.FunctionName, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Sprintf("Error executing tool '%s': %v", tc.FunctionName, err)
	}
	return result
}

func (s *Scope) safeExecute(ctx context.Context, exec ToolExecutor, args string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return exec(ctx, args)
}
