package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"CertVerify-Chain/internal/llm"
)

const (
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 120 * time.Second
)

// Config 描述了调用 OpenAI Responses API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过官方 SDK 的流式 Responses 接口调用 OpenAI。
type Client struct {
	client *openai.Client
	model  string
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts = append(opts, option.WithRequestTimeout(timeout), option.WithMaxRetries(1))

	client := openai.NewClient(opts...)
	return &Client{client: &client, model: model}, nil
}

// Generate 以流式方式请求一轮回复，并把文本增量与函数调用参数累积成完整结果。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(req.Messages),
		},
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	stream := c.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	var content strings.Builder
	acc := newCallAccumulator()

	for stream.Next() {
		switch variant := stream.Current().AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			content.WriteString(variant.Delta)

		case responses.ResponseOutputItemAddedEvent:
			if variant.Item.Type == "function_call" {
				acc.describe(variant.Item.ID, variant.Item.CallID, variant.Item.Name)
			}

		case responses.ResponseFunctionCallArgumentsDeltaEvent:
			acc.get(variant.ItemID).Arguments += variant.Delta

		case responses.ResponseFunctionCallArgumentsDoneEvent:
			acc.describe(variant.ItemID, "", variant.Name)

		case responses.ResponseOutputItemDoneEvent:
			if variant.Item.Type == "function_call" {
				acc.describe(variant.Item.ID, variant.Item.CallID, variant.Item.Name)
			}

		case responses.ResponseFailedEvent:
			return nil, fmt.Errorf("OpenAI 响应失败: %s", variant.Response.Error.Message)

		case responses.ResponseErrorEvent:
			return nil, fmt.Errorf("OpenAI 返回错误: %s", variant.Message)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}

	return &llm.Response{
		Content:   content.String(),
		ToolCalls: acc.calls(),
	}, nil
}

// callAccumulator 按输出项 ID 聚合函数调用，并保留出现顺序。
type callAccumulator struct {
	byItem map[string]*llm.ToolCall
	order  []string
}

func newCallAccumulator() *callAccumulator {
	return &callAccumulator{byItem: make(map[string]*llm.ToolCall)}
}

func (a *callAccumulator) get(itemID string) *llm.ToolCall {
	tc, ok := a.byItem[itemID]
	if !ok {
		tc = &llm.ToolCall{ID: itemID}
		a.byItem[itemID] = tc
		a.order = append(a.order, itemID)
	}
	return tc
}

func (a *callAccumulator) describe(itemID, callID, name string) {
	tc := a.get(itemID)
	if callID != "" {
		tc.ID = callID
	}
	if name != "" {
		tc.Name = name
	}
}

func (a *callAccumulator) calls() []llm.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, id := range a.order {
		tc := a.byItem[id]
		if tc.Name == "" {
			continue
		}
		if strings.TrimSpace(tc.Arguments) == "" {
			tc.Arguments = "{}"
		}
		out = append(out, *tc)
	}
	return out
}

func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleSystem))
		case llm.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleUser))
		case llm.RoleAssistant:
			if m.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(tc.Arguments, tc.ID, tc.Name))
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(m.ToolCallID, m.Content))
		}
	}
	return items
}

func convertTools(specs []llm.ToolSpec) []responses.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]responses.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		def := spec.FunctionDefinition()["function"].(map[string]any)
		tools = append(tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  def["parameters"].(map[string]any),
			},
		})
	}
	return tools
}
