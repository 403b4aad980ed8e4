package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"CertVerify-Chain/internal/conversation"
	xerrors "CertVerify-Chain/internal/errors"
	"CertVerify-Chain/internal/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultPrefix = "certverify:thread:"

// Config 描述会话存储的 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// ConversationStore 把每个会话线程保存为一个 Redis list，元素是单条消息的 JSON。
type ConversationStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewConversationStore 连接 Redis 并返回会话存储。
func NewConversationStore(ctx context.Context, cfg Config) (*ConversationStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newConversationStore(client, cfg), nil
}

func newConversationStore(client *redis.Client, cfg Config) *ConversationStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &ConversationStore{client: client, prefix: prefix, ttl: cfg.TTL}
}

func (s *ConversationStore) key(threadID string) string {
	return s.prefix + threadID
}

// Load 读取线程历史，不存在时返回空列表。
func (s *ConversationStore) Load(ctx context.Context, threadID string) ([]llm.Message, error) {
	items, err := s.client.LRange(ctx, s.key(threadID), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败")
	}
	messages, err := decodeMessages(items)
	if err != nil {
		return nil, err
	}
	// LTRIM 可能截在一轮工具调用的中间。
	return conversation.AlignToUser(messages), nil
}

// Append 通过 RPUSH 追加消息，再用 LTRIM 保留最近 keep 条并刷新过期时间。
func (s *ConversationStore) Append(ctx context.Context, threadID string, messages []llm.Message, keep int) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		raw, err := json.Marshal(msg)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话失败")
		}
		values = append(values, raw)
	}

	key := s.key(threadID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if keep > 0 {
			pipe.LTrim(ctx, key, int64(-keep), -1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话失败")
	}
	return nil
}

// Reset 删除线程历史。
func (s *ConversationStore) Reset(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *ConversationStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func decodeMessages(items []string) ([]llm.Message, error) {
	if len(items) == 0 {
		return nil, nil
	}
	messages := make([]llm.Message, 0, len(items))
	for _, item := range items {
		var msg llm.Message
		if err := json.UnmarshalFromString(item, &msg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话失败")
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
