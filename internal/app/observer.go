package app

import (
	"context"
	"log/slog"
	"time"

	xerrors "CertVerify-Chain/internal/errors"
	"CertVerify-Chain/internal/events"
	"CertVerify-Chain/internal/observability/alerting"
	"CertVerify-Chain/internal/storage/mysql"
	"CertVerify-Chain/internal/tools"
)

// sideEffectTimeout 限制流水、事件与告警的写入时间，避免拖慢工具返回。
const sideEffectTimeout = 5 * time.Second

// toolObserver 把每次工具调用写入流水，并为交易结果发布事件或告警。
// 任何写入失败都只记录日志。
type toolObserver struct {
	ledger    mysql.ActivityLedger
	publisher events.Publisher
	alerts    alerting.Dispatcher
	contract  string
	chainID   int64
	log       *slog.Logger
}

// ObserveTool 实现 tools.Observer。
func (o *toolObserver) ObserveTool(ctx context.Context, inv tools.Invocation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if o.ledger != nil {
		record := &mysql.ActivityRecord{
			ThreadID:   inv.ThreadID,
			Tool:       inv.Tool,
			Arguments:  inv.Arguments,
			Output:     inv.Result.Text,
			Success:    inv.Success(),
			TxHash:     inv.Result.TxHash,
			DurationMS: inv.Duration.Milliseconds(),
			CreatedAt:  inv.StartedAt.UTC(),
		}
		if err := o.ledger.Record(ctx, record); err != nil {
			o.log.Warn("写入工具流水失败", slog.String("tool", inv.Tool), slog.Any("error", err))
		}
	}

	if !tools.IsTransaction(inv.Tool) {
		return
	}

	if inv.Success() {
		if o.publisher == nil {
			return
		}
		event := events.NewMintEvent(inv.Tool, inv.Result.StudentAddress, inv.Result.TxHash, o.contract, o.chainID)
		event.ThreadID = inv.ThreadID
		if err := o.publisher.Publish(ctx, event); err != nil {
			o.log.Warn("发布铸造事件失败", slog.String("tx_hash", inv.Result.TxHash), slog.Any("error", err))
		}
		return
	}

	if o.alerts == nil {
		return
	}
	err := inv.Result.Err
	if _, typed := xerrors.From(err); !typed {
		err = xerrors.Wrap(xerrors.CodeChainFailure, err, "certificate transaction failed",
			xerrors.WithMetadata("tool", inv.Tool))
	}
	if !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.FromError("tools", err)
	event.ThreadID = inv.ThreadID
	if err := o.alerts.Notify(ctx, event); err != nil {
		o.log.Warn("发送告警失败", slog.String("tool", inv.Tool), slog.Any("error", err))
	}
}
