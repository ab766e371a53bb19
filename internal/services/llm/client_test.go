package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func choiceServer(t *testing.T, choice map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{choice}})
	}))
	t.Cleanup(server.Close)
	return server
}

func testClient(url string) *Client {
	return NewClient(Config{APIKey: " test ", BaseURL: url, Model: "demo-model", Title: "vidpilot"})
}

func TestClientHealthCheck(t *testing.T) {
	for _, content := range []string{`{"ok":true}`, "```json\n{\"ok\":true}\n```"} {
		server := choiceServer(t, map[string]any{"message": map[string]any{"content": content}})
		if err := testClient(server.URL).HealthCheck(context.Background()); err != nil {
			t.Fatalf("HealthCheck(%q) returned error: %v", content, err)
		}
	}
}

func TestClientHealthCheckReportsStatus(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer server.Close()

	err := testClient(server.URL).HealthCheck(context.Background())
	if StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 status, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
}

func TestClientReadsAlternatePayloadShapes(t *testing.T) {
	choices := []map[string]any{
		{"finish_reason": "tool_calls", "message": map[string]any{
			"content":    "",
			"tool_calls": []any{map[string]any{"function": map[string]any{"arguments": `{"title":"tool"}`}}},
		}},
		{"delta": map[string]any{"content": `{"title":"delta"}`}},
		{"finish_reason": "stop", "text": `{"title":"legacy"}`},
	}
	for _, choice := range choices {
		server := choiceServer(t, choice)
		content, err := testClient(server.URL).CompleteJSONWithImages(context.Background(), "system", "user", nil)
		if err != nil {
			t.Fatalf("CompleteJSONWithImages returned error: %v", err)
		}
		if !strings.Contains(content, `"title"`) {
			t.Fatalf("unexpected content %q", content)
		}
	}
}

func TestClientEmptyContent(t *testing.T) {
	server := choiceServer(t, map[string]any{
		"finish_reason": "content_filter",
		"message":       map[string]any{"content": "", "refusal": "cannot help"},
	})
	_, err := testClient(server.URL).CompleteJSONWithImages(context.Background(), "system", "user", nil)
	var empty *emptyContentError
	if !errors.As(err, &empty) {
		t.Fatalf("expected empty content error, got %v", err)
	}
	if empty.FinishReason != "content_filter" || empty.Refusal != "cannot help" || empty.Snippet == "" {
		t.Fatalf("unexpected error detail: %#v", empty)
	}
}

func TestClientSendsImageParts(t *testing.T) {
	var received struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Title") != "vidpilot" {
			t.Errorf("missing X-Title header")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": `{"ok":true}`}}},
		})
	}))
	defer server.Close()

	if _, err := testClient(server.URL).CompleteJSONWithImages(context.Background(), "system", "user", []string{"data:image/jpeg;base64,AAAA"}); err != nil {
		t.Fatalf("CompleteJSONWithImages returned error: %v", err)
	}
	if len(received.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(received.Messages))
	}
	var parts []contentPart
	if err := json.Unmarshal(received.Messages[1].Content, &parts); err != nil {
		t.Fatalf("user content is not a part list: %v", err)
	}
	if len(parts) != 2 || parts[0].Type != "text" || parts[1].ImageURL == nil {
		t.Fatalf("unexpected parts: %#v", parts)
	}
}

func TestClientRequiresPromptsAndKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.CompleteJSONWithImages(context.Background(), "system", "user", nil); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := testClient("http://127.0.0.1:1").CompleteJSONWithImages(context.Background(), " ", "user", nil); err == nil {
		t.Fatal("expected missing prompt error")
	}
}

func TestDecodeLLMJSON(t *testing.T) {
	var out struct {
		Title string `json:"title"`
	}
	inputs := []string{
		`{"title":"plain"}`,
		"```json\n{\"title\":\"fenced\"}\n```",
		"Here you go: {\"title\":\"prose\"} hope that helps",
	}
	for _, in := range inputs {
		out.Title = ""
		if err := DecodeLLMJSON(in, &out); err != nil || out.Title == "" {
			t.Fatalf("DecodeLLMJSON(%q) = %v, title %q", in, err, out.Title)
		}
	}
	if err := DecodeLLMJSON("no json here", &out); err == nil || !strings.Contains(err.Error(), "payload") {
		t.Fatalf("expected decode error with payload snippet, got %v", err)
	}
	if err := DecodeLLMJSON("  ", &out); err == nil {
		t.Fatal("expected empty payload error")
	}
}
