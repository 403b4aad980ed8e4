package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	xerrors "CertVerify-Chain/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MintEvent 描述一次成功上链的证书相关交易。
type MintEvent struct {
	ID             string    `json:"id"`
	Tool           string    `json:"tool"`
	StudentAddress string    `json:"studentAddress,omitempty"`
	TxHash         string    `json:"txHash"`
	Contract       string    `json:"contract"`
	ChainID        int64     `json:"chainId"`
	ThreadID       string    `json:"threadId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// NewMintEvent 生成带有唯一 ID 与时间戳的事件。
func NewMintEvent(tool, studentAddress, txHash, contract string, chainID int64) MintEvent {
	return MintEvent{
		ID:             uuid.NewString(),
		Tool:           tool,
		StudentAddress: studentAddress,
		TxHash:         txHash,
		Contract:       contract,
		ChainID:        chainID,
		OccurredAt:     time.Now().UTC(),
	}
}

// Handler 处理从队列取出的事件。
type Handler func(ctx context.Context, event MintEvent) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event MintEvent) error
	Close() error
}

// Consumer 负责消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Publisher
	Consumer
}

// Encode 把事件序列化为队列载荷。
func Encode(event MintEvent) ([]byte, error) {
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "序列化事件失败")
	}
	return raw, nil
}

// Decode 解析队列载荷。
func Decode(raw []byte) (MintEvent, error) {
	var event MintEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return MintEvent{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析事件失败")
	}
	if event.TxHash == "" {
		return MintEvent{}, xerrors.New(xerrors.CodeQueueFailure, "事件缺少交易哈希")
	}
	return event, nil
}
