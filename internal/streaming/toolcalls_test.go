package streaming

import (
	"testing"

	"github.com/relaychat/relay/pkg/models"
)

func TestToolCallAssembler_ReassemblesSplitArguments(t *testing.T) {
	a := NewToolCallAssembler()
	a.Add(models.ToolCall{Index: 0, ID: "call_1", FunctionName: "search", FunctionArguments: ""})
	a.Add(models.ToolCall{Index: 0, FunctionArguments: `{"q": `})
	a.Add(models.ToolCall{Index: 0, FunctionArguments: `"Kotlin"}`})

	calls := a.Finalize()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	got := calls[0]
	if got.ID != "call_1" || got.FunctionName != "search" {
		t.Fatalf("got %+v", got)
	}
	if got.FunctionArguments != `{"q": "Kotlin"}` {
		t.Fatalf("FunctionArguments = %q", got.FunctionArguments)
	}
	if got.Kind != models.ToolCallFunction {
		t.Fatalf("Kind = %q, want default %q", got.Kind, models.ToolCallFunction)
	}
}

func TestToolCallAssembler_PreservesAscendingIndexOrder(t *testing.T) {
	a := NewToolCallAssembler()
	a.Add(models.ToolCall{Index: 2, ID: "call_3", FunctionName: "c"})
	a.Add(models.ToolCall{Index: 0, ID: "call_1", FunctionName: "a"})
	a.Add(models.ToolCall{Index: 1, ID: "call_2", FunctionName: "b"})

	calls := a.Finalize()
	if len(calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(calls))
	}
	for i, want := range []string{"a", "b", "c"} {
		if calls[i].FunctionName != want {
			t.Fatalf("calls[%d].FunctionName = %q, want %q", i, calls[i].FunctionName, want)
		}
	}
}

func TestToolCallAssembler_EmptyBeforeAnyFragment(t *testing.T) {
	a := NewToolCallAssembler()
	if !a.Empty() {
		t.Fatal("expected Empty() true for a fresh assembler")
	}
	if calls := a.Finalize(); calls != nil {
		t.Fatalf("Finalize() = %v, want nil", calls)
	}
}
