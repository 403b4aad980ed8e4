package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"CertVerify-Chain/internal/events"
	"CertVerify-Chain/pkg/logger"
)

// InProcessEvents 表示事件队列只存在于当前进程内，需要由服务自身消费。
func (a *App) InProcessEvents() bool {
	driver := strings.ToLower(strings.TrimSpace(a.Config.Events.Driver))
	return driver == "" || driver == "memory"
}

// AuditMints 消费铸造事件并写入审计日志，直到 ctx 结束或队列关闭。
func (a *App) AuditMints(ctx context.Context) error {
	if a.Events == nil {
		return errors.New("事件队列未初始化")
	}
	err := a.Events.Consume(ctx, 1, func(_ context.Context, event events.MintEvent) error {
		logger.Audit().Info("certificate transaction confirmed",
			slog.String("event_id", event.ID),
			slog.String("tool", event.Tool),
			slog.String("student", event.StudentAddress),
			slog.String("tx_hash", event.TxHash),
			slog.String("contract", event.Contract),
			slog.Int64("chain_id", event.ChainID),
			slog.String("thread", event.ThreadID),
		)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
