package app

import (
	"context"
	"fmt"
	"strings"

	"CertVerify-Chain/internal/config"
	"CertVerify-Chain/internal/llm"
	"CertVerify-Chain/internal/llm/gemini"
	"CertVerify-Chain/internal/llm/ollama"
	"CertVerify-Chain/internal/llm/openai"
)

// NewLLMClient 根据配置选择大模型服务商。
func NewLLMClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			return nil, fmt.Errorf("OpenAI provider 需要配置 api_key 或环境变量 %s", cfg.OpenAI.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.Timeout(),
		})
	case "ollama":
		return ollama.NewClient(ollama.Config{
			BaseURL: cfg.Ollama.BaseURL,
			Model:   cfg.Ollama.Model,
			Timeout: cfg.Timeout(),
		})
	case "gemini":
		if strings.TrimSpace(cfg.Gemini.APIKey) == "" {
			return nil, fmt.Errorf("Gemini provider 需要配置 api_key 或环境变量 %s", cfg.Gemini.APIKeyEnv)
		}
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
			Timeout: cfg.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}
