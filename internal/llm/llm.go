package llm

import "context"

// 消息角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message 是与服务商无关的一条对话消息。
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// Name 在 tool 消息中记录被调用的工具名。
	Name string `json:"name,omitempty"`
}

// ToolCall 表示大模型发起的一次工具调用，Arguments 为 JSON 字符串。
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec 描述暴露给大模型的工具，Parameters 为 JSON Schema。
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// FunctionDefinition 返回 OpenAI 风格的 function 工具定义。
func (s ToolSpec) FunctionDefinition() map[string]any {
	params := s.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  params,
		},
	}
}

// Request 描述发送给大模型的一轮对话上下文。
type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

// Response 是大模型一轮推理的输出：文本与工具调用可以同时存在。
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// SystemMessage 构造系统提示消息。
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage 构造用户消息。
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolResultMessage 构造工具执行结果消息。
func ToolResultMessage(call ToolCall, output string) Message {
	return Message{Role: RoleTool, Content: output, ToolCallID: call.ID, Name: call.Name}
}
