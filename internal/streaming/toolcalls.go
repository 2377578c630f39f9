package streaming

import (
	"sort"

	"github.com/relaychat/relay/pkg/models"
)

// ToolCallAssembler reassembles streaming tool-call fragments, keyed by
// their positional index, into finalized ToolCall values. Not safe for
// concurrent use — a single streaming turn drives it from one goroutine.
type ToolCallAssembler struct {
	builders map[int]*models.ToolCall
}

// NewToolCallAssembler creates an empty assembler.
func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{builders: make(map[int]*models.ToolCall)}
}

// Add folds one fragment into the accumulator: a non-empty ID/kind/name
// overwrites the builder's value; FunctionArguments is appended rather
// than overwritten, since arguments arrive split across many fragments.
func (a *ToolCallAssembler) Add(fragment models.ToolCall) {
	b, ok := a.builders[fragment.Index]
	if !ok {
		b = &models.ToolCall{}
		a.builders[fragment.Index] = b
	}
	if fragment.ID != "" {
		b.ID = fragment.ID
	}
	if fragment.Kind != "" {
		b.Kind = fragment.Kind
	}
	if fragment.FunctionName != "" {
		b.FunctionName = fragment.FunctionName
	}
	b.FunctionArguments += fragment.FunctionArguments
}

// Empty reports whether any fragment has been added.
func (a *ToolCallAssembler) Empty() bool {
	return len(a.builders) == 0
}

// Finalize returns the assembled tool calls in ascending index order,
// defaulting each Kind to "function" where the stream never set one.
func (a *ToolCallAssembler) Finalize() []models.ToolCall {
	if len(a.builders) == 0 {
		return nil
	}
	indices := make([]int, 0, len(a.builders))
	for idx := range a.builders {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]models.ToolCall, 0, len(indices))
	for _, idx := range indices {
		b := *a.builders[idx]
		if b.Kind == "" {
			b.Kind = models.ToolCallFunction
		}
		b.Index = 0
		out = append(out, b)
	}
	return out
}
