package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaychat/relay/pkg/models"
)

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"http://host":     "http://host",
		"http://host/":    "http://host",
		"http://host///":  "http://host",
	}
	for in, want := range cases {
		if got := normalizeBaseURL(in); got != want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth header")
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-test"})
	resp, err := p.Chat(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: models.NewTextContent("hi")},
	}, models.GenerationOptions{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content.String() != "hello there" {
		t.Errorf("Content = %q", resp.Content.String())
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("Usage.TotalTokens = %d, want 7", resp.Usage.TotalTokens)
	}
}

func TestChat_MapsStatusToErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "wrong", Model: "gpt-test"})
	_, err := p.Chat(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: models.NewTextContent("hi")},
	}, models.GenerationOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if models.KindOf(err) != models.ErrAuthentication {
		t.Errorf("KindOf(err) = %v, want %v", models.KindOf(err), models.ErrAuthentication)
	}
}

func TestNewTransportError_QuotaSignalIsRateLimit(t *testing.T) {
	cases := []struct {
		name   string
		status int
		apiErr *wireAPIError
		want   models.ErrorKind
	}{
		{
			"insufficient_quota code on 400",
			400,
			&wireAPIError{Code: "insufficient_quota", Message: "You exceeded your current quota"},
			models.ErrRateLimit,
		},
		{
			"quota message without code on 400",
			400,
			&wireAPIError{Message: "You exceeded your current quota, please check your plan and billing details."},
			models.ErrRateLimit,
		},
		{
			"billing_error code on 402",
			402,
			&wireAPIError{Code: "billing_error", Message: "payment required"},
			models.ErrRateLimit,
		},
		{
			"plain 400 stays invalid request",
			400,
			&wireAPIError{Message: "missing required parameter: model"},
			models.ErrInvalidRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := newTransportError(tc.status, tc.apiErr, nil)
			if models.KindOf(err) != tc.want {
				t.Errorf("KindOf(err) = %v, want %v", models.KindOf(err), tc.want)
			}
		})
	}
}

func TestStream_ParsesSSEFramesAndDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		frames := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"choices":[{"delta":{}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`,
			`data: [DONE]`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "%s\n\n", f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "k", Model: "gpt-test"})
	events, err := p.Stream(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: models.NewTextContent("hi")},
	}, models.GenerationOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var text string
	var sawUsage bool
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		text += ev.Response.Content.String()
		if ev.Response.Usage.TotalTokens > 0 {
			sawUsage = true
		}
	}
	if text != "Hello" {
		t.Errorf("concatenated text = %q, want %q", text, "Hello")
	}
	if !sawUsage {
		t.Error("expected a terminal usage event")
	}
}

func TestStream_ToolCallFragmentsCarryIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		frames := []string{
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\": "}}]}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Kotlin\"}"}}]}}]}`,
			`data: [DONE]`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "%s\n\n", f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "k", Model: "gpt-test"})
	events, err := p.Stream(context.Background(), nil, models.GenerationOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var fragments []models.ToolCall
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		fragments = append(fragments, ev.Response.ToolCalls...)
	}
	if len(fragments) != 3 {
		t.Fatalf("got %d fragments, want 3", len(fragments))
	}
	for _, f := range fragments {
		if f.Index != 0 {
			t.Errorf("fragment.Index = %d, want 0", f.Index)
		}
	}
}

func TestStream_ServerSideErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"error":{"message":"overloaded"}}`+"\n\n")
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "k", Model: "gpt-test"})
	events, err := p.Stream(context.Background(), nil, models.GenerationOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	ev, ok := <-events
	if !ok {
		t.Fatal("expected an error event")
	}
	if models.KindOf(ev.Err) != models.ErrServer {
		t.Errorf("KindOf(err) = %v, want %v", models.KindOf(ev.Err), models.ErrServer)
	}
}
