package conversation

import (
	"context"
	"sync"

	"CertVerify-Chain/internal/llm"
)

// 固定的会话线程标识。
const (
	VerifyThreadID = "certificate_verification"
	AgentThreadID  = "certificate_verification_agent"
)

// Store 按线程保存对话历史。Append 之后线程最多保留 keep 条消息，keep <= 0 表示不限。
type Store interface {
	Load(ctx context.Context, threadID string) ([]llm.Message, error)
	Append(ctx context.Context, threadID string, messages []llm.Message, keep int) error
	Reset(ctx context.Context, threadID string) error
}

// MemoryStore 在进程内保存会话，进程退出即丢失。
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]llm.Message
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]llm.Message)}
}

// Load 返回线程历史的副本。
func (m *MemoryStore) Load(_ context.Context, threadID string) ([]llm.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Clone(m.threads[threadID]), nil
}

// Append 追加消息并按 keep 截断。
func (m *MemoryStore) Append(_ context.Context, threadID string, messages []llm.Message, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := append(m.threads[threadID], Clone(messages)...)
	m.threads[threadID] = Clone(Trim(history, keep))
	return nil
}

// Reset 清空线程历史。
func (m *MemoryStore) Reset(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

// Clone 深拷贝消息列表，避免调用方共享底层的工具调用切片。
func Clone(messages []llm.Message) []llm.Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]llm.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if len(msg.ToolCalls) > 0 {
			out[i].ToolCalls = append([]llm.ToolCall(nil), msg.ToolCalls...)
		}
	}
	return out
}

// Trim 保留最近 depth 条消息，并保证截断后的历史以用户消息开头，
// 不会留下缺少对应调用的工具结果。depth <= 0 表示不截断。
func Trim(messages []llm.Message, depth int) []llm.Message {
	if depth <= 0 || len(messages) <= depth {
		return messages
	}
	return AlignToUser(messages[len(messages)-depth:])
}

// AlignToUser 丢弃开头不属于用户消息的部分。
func AlignToUser(messages []llm.Message) []llm.Message {
	start := 0
	for start < len(messages) && messages[start].Role != llm.RoleUser {
		start++
	}
	return messages[start:]
}
