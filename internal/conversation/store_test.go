package conversation

import (
	"context"
	"testing"

	"CertVerify-Chain/internal/llm"
)

func TestMemoryStoreIsolatesThreads(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Append(ctx, VerifyThreadID, []llm.Message{llm.UserMessage("verify")}, 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, AgentThreadID, []llm.Message{llm.UserMessage("chat")}, 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	verify, _ := store.Load(ctx, VerifyThreadID)
	agent, _ := store.Load(ctx, AgentThreadID)
	if len(verify) != 1 || verify[0].Content != "verify" {
		t.Fatalf("unexpected verify thread %+v", verify)
	}
	if len(agent) != 1 || agent[0].Content != "chat" {
		t.Fatalf("unexpected agent thread %+v", agent)
	}

	if err := store.Reset(ctx, VerifyThreadID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if verify, _ = store.Load(ctx, VerifyThreadID); len(verify) != 0 {
		t.Fatalf("expected empty thread after reset, got %+v", verify)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	msgs := []llm.Message{{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "1", Name: "a"}}}}
	_ = store.Append(ctx, "t", msgs, 0)

	msgs[0].ToolCalls[0].Name = "mutated"
	loaded, _ := store.Load(ctx, "t")
	if loaded[0].ToolCalls[0].Name != "a" {
		t.Fatal("store must not alias caller slices")
	}
}

func TestMemoryStoreAppendTrims(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		turn := []llm.Message{llm.UserMessage(text), {Role: llm.RoleAssistant, Content: "re " + text}}
		if err := store.Append(ctx, "t", turn, 4); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	history, _ := store.Load(ctx, "t")
	if len(history) != 4 || history[0].Content != "two" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestTrimStartsAtUserMessage(t *testing.T) {
	call := llm.ToolCall{ID: "1", Name: "mint_certificate"}
	history := []llm.Message{
		llm.UserMessage("first"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
		llm.ToolResultMessage(call, "✅"),
		{Role: llm.RoleAssistant, Content: "done"},
		llm.UserMessage("second"),
		{Role: llm.RoleAssistant, Content: "ok"},
	}

	trimmed := Trim(history, 4)
	if len(trimmed) != 2 || trimmed[0].Content != "second" {
		t.Fatalf("unexpected trim result %+v", trimmed)
	}
	if got := Trim(history, 0); len(got) != len(history) {
		t.Fatal("depth 0 must keep everything")
	}
	if got := Trim(history, 10); len(got) != len(history) {
		t.Fatal("short history must be untouched")
	}
}
