package ollama

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CertVerify-Chain/internal/llm"
)

func TestGenerateParsesToolCalls(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"model":"llama3.1","created_at":"2026-01-01T00:00:00Z","message":{"role":"assistant","content":"minting now","tool_calls":[{"function":{"name":"mint_certificate","arguments":{"student_address":"0xabc","ipfs_hash":"h"}}}]},"done":true}`+"\n")
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.Generate(context.Background(), llm.Request{
		Messages: []llm.Message{llm.SystemMessage("sys"), llm.UserMessage("mint")},
		Tools:    []llm.ToolSpec{{Name: "mint_certificate", Description: "mint", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "minting now" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "mint_certificate" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Arguments), &args); err != nil {
		t.Fatalf("arguments are not json: %v", err)
	}
	if args["student_address"] != "0xabc" {
		t.Fatalf("unexpected args %v", args)
	}
	if resp.ToolCalls[0].ID == "" {
		t.Fatal("tool call id should be synthesised")
	}
	if body["model"] != defaultModelName || body["stream"] != false {
		t.Fatalf("unexpected request body %v", body)
	}
	if tools, _ := body["tools"].([]any); len(tools) != 1 {
		t.Fatalf("expected tools in request, got %v", body["tools"])
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected model not found error, got %v", err)
	}
}

func TestConvertMessagesRejectsMalformedArguments(t *testing.T) {
	_, err := convertMessages([]llm.Message{{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: "1", Name: "x", Arguments: "{not json"}},
	}})
	if err == nil {
		t.Fatal("expected error for malformed arguments")
	}
}
