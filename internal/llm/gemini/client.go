package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"

	"CertVerify-Chain/internal/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultModelName = "gemini-2.5-flash"

// Config 描述了调用 Gemini API 的参数。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 基于 google genai SDK 的流式接口。
type Client struct {
	client *genai.Client
	model  string
}

// NewClient 创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions.BaseURL = base
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		clientCfg.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化 Gemini 客户端失败: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Generate 消费整条流并合并文本片段与函数调用。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	contents, system, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, err
	}

	stream := c.client.Models.GenerateContentStream(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: system,
		Tools:             tools,
	})

	var (
		text  strings.Builder
		calls []llm.ToolCall
	)
	for resp, err := range stream {
		if err != nil {
			return nil, fmt.Errorf("请求 Gemini 失败: %w", err)
		}
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Thought {
					continue
				}
				if part.Text != "" {
					text.WriteString(part.Text)
				}
				if fc := part.FunctionCall; fc != nil {
					args, err := json.Marshal(fc.Args)
					if err != nil {
						return nil, fmt.Errorf("序列化工具参数失败: %w", err)
					}
					id := fc.ID
					if id == "" {
						id = "call_" + uuid.NewString()
					}
					calls = append(calls, llm.ToolCall{ID: id, Name: fc.Name, Arguments: string(args)})
				}
			}
		}
	}

	return &llm.Response{Content: text.String(), ToolCalls: calls}, nil
}

// convertMessages 把系统消息提取为 SystemInstruction，工具结果映射为 FunctionResponse。
func convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content, error) {
	var (
		contents []*genai.Content
		system   *genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				system = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			}
		case llm.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     m.Name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		default:
			role := genai.RoleUser
			if m.Role == llm.RoleAssistant {
				role = genai.RoleModel
			}
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if strings.TrimSpace(tc.Arguments) != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, nil, fmt.Errorf("解析工具 %s 的参数失败: %w", tc.Name, err)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: role, Parts: parts})
			}
		}
	}
	return contents, system, nil
}

func convertTools(specs []llm.ToolSpec) ([]*genai.Tool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decl := &genai.FunctionDeclaration{Name: spec.Name, Description: spec.Description}
		if spec.Parameters != nil {
			raw, err := json.Marshal(spec.Parameters)
			if err != nil {
				return nil, fmt.Errorf("序列化工具 %s 的参数定义失败: %w", spec.Name, err)
			}
			var schema genai.Schema
			if err := json.Unmarshal(raw, &schema); err != nil {
				return nil, fmt.Errorf("转换工具 %s 的参数定义失败: %w", spec.Name, err)
			}
			decl.Parameters = &schema
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}
