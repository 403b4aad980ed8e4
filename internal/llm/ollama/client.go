package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"

	"CertVerify-Chain/internal/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultModelName = "llama3.1"

// Config 描述了本地 Ollama 服务的连接信息。
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 使用 Ollama 官方 Go 客户端进行对话。
type Client struct {
	client *api.Client
	model  string
}

// NewClient 创建 Ollama 客户端；未配置地址时读取 OLLAMA_HOST 环境变量。
func NewClient(cfg Config) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	var (
		client *api.Client
		err    error
	)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		u, parseErr := url.Parse(base)
		if parseErr != nil {
			return nil, fmt.Errorf("解析 Ollama 地址失败: %w", parseErr)
		}
		client = api.NewClient(u, &http.Client{Timeout: cfg.Timeout})
	} else {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("初始化 Ollama 客户端失败: %w", err)
		}
	}

	return &Client{client: client, model: model}, nil
}

// Generate 以非流式方式请求一轮回复。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, err
	}
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
		Stream:   &stream,
	}

	var (
		content strings.Builder
		calls   []llm.ToolCall
	)
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		for idx, tc := range resp.Message.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return fmt.Errorf("序列化工具参数失败: %w", err)
			}
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", len(calls)+idx, tc.Function.Name)
			}
			calls = append(calls, llm.ToolCall{ID: id, Name: tc.Function.Name, Arguments: string(args)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("请求 Ollama 失败: %w", err)
	}

	return &llm.Response{Content: content.String(), ToolCalls: calls}, nil
}

// convertTools 借助 JSON 往返把通用工具定义转换为 api.Tool。
func convertTools(specs []llm.ToolSpec) ([]api.Tool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	defs := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, spec.FunctionDefinition())
	}
	raw, err := json.Marshal(defs)
	if err != nil {
		return nil, fmt.Errorf("序列化工具定义失败: %w", err)
	}
	var tools []api.Tool
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("转换 Ollama 工具定义失败: %w", err)
	}
	return tools, nil
}

func convertMessages(messages []llm.Message) ([]api.Message, error) {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msg := api.Message{Role: m.Role, Content: m.Content}
		if m.Role == llm.RoleAssistant {
			for _, tc := range m.ToolCalls {
				var args api.ToolCallFunctionArguments
				if strings.TrimSpace(tc.Arguments) != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, fmt.Errorf("解析工具 %s 的参数失败: %w", tc.Name, err)
					}
				}
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
		}
		if m.Role == llm.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}
		out = append(out, msg)
	}
	return out, nil
}
