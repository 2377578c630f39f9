package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaychat/relay/internal/memory"
	"github.com/relaychat/relay/internal/sessions"
)

func TestRegisterTool_RejectsInvalidSchema(t *testing.T) {
	store := sessions.NewMemoryStore()
	mgr := memory.New(memory.Config{Store: store})
	scope := NewClient(nil, mgr, nil).NewScope(0)

	err := scope.RegisterTool("broken", "", json.RawMessage(`{"type": "not-a-real-type"`), func(ctx context.Context, args string) (string, error) {
		return "", nil
	})
	if err == nil {
		t.Fatal("expected an error for malformed JSON schema")
	}
}

func TestRegisterStructTool_DecodesArguments(t *testing.T) {
	store := sessions.NewMemoryStore()
	mgr := memory.New(memory.Config{Store: store})
	scope := NewClient(nil, mgr, nil).NewScope(0)

	type weatherArgs struct {
		City string `json:"city"`
	}

	var gotCity string
	err := RegisterStructTool(scope, "get_weather", "weather lookup", func(ctx context.Context, args weatherArgs) (string, error) {
		gotCity = args.City
		return "Sunny", nil
	})
	if err != nil {
		t.Fatalf("RegisterStructTool() error = %v", err)
	}

	tool, ok := scope.tools["get_weather"]
	if !ok {
		t.Fatal("expected get_weather to be registered")
	}
	result, err := tool.exec(context.Background(), `{"city":"Beijing"}`)
	if err != nil {
		t.Fatalf("exec() error = %v", err)
	}
	if result != "Sunny" || gotCity != "Beijing" {
		t.Fatalf("result = %q, gotCity = %q", result, gotCity)
	}
}
