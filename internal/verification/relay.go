package verification

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"CertVerify-Chain/internal/agent"
	"CertVerify-Chain/internal/conversation"
	xerrors "CertVerify-Chain/internal/errors"
	"CertVerify-Chain/pkg/logger"
)

// Relay 把自由对话转发给 Agent。
type Relay struct {
	agent    Streamer
	threadID string
	log      *slog.Logger
}

// NewRelay 创建对话中继，默认使用管理线程。
func NewRelay(streamer Streamer) *Relay {
	return &Relay{
		agent:    streamer,
		threadID: conversation.AgentThreadID,
		log:      logger.Named("relay"),
	}
}

// Chat 按顺序拼接 Agent 文本与工具输出。
func (r *Relay) Chat(ctx context.Context, message string) (string, error) {
	var b strings.Builder
	for fragment, err := range r.Stream(ctx, r.threadID, message) {
		if err != nil {
			r.log.Warn("chat failed", slog.Any("error", err))
			return "", err
		}
		b.WriteString(fragment.Text)
	}
	return b.String(), nil
}

// Stream 直接暴露 Agent 的片段序列，threadID 为空时使用管理线程。
// 验证线程只属于 Dispatcher，对话不能写入。
func (r *Relay) Stream(ctx context.Context, threadID, message string) iter.Seq2[agent.Fragment, error] {
	if r == nil || r.agent == nil {
		return func(yield func(agent.Fragment, error) bool) {
			yield(agent.Fragment{}, xerrors.New(xerrors.CodeInitializationFailure, "chat agent not configured"))
		}
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		threadID = r.threadID
	}
	if threadID == conversation.VerifyThreadID {
		return func(yield func(agent.Fragment, error) bool) {
			yield(agent.Fragment{}, xerrors.New(xerrors.CodeInvalidArgument, "thread "+threadID+" is reserved"))
		}
	}
	return r.agent.Stream(ctx, threadID, message)
}
