// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ledgerbase-go/internal/model"
)

// AskHistoryRepository 定义了问答历史记录的操作接口。
// 历史只用于回放，不参与账本检索链路。
type AskHistoryRepository interface {
	GetHistory(ctx context.Context, ownerID string) ([]model.AskMessage, error)
	AppendHistory(ctx context.Context, ownerID string, messages ...model.AskMessage) error
}

type redisAskHistoryRepository struct {
	redisClient *redis.Client
}

// NewAskHistoryRepository 创建一个新的 AskHistoryRepository 实例。
func NewAskHistoryRepository(redisClient *redis.Client) AskHistoryRepository {
	return &redisAskHistoryRepository{redisClient: redisClient}
}

// GetHistory 从 Redis 获取问答历史记录。
func (r *redisAskHistoryRepository) GetHistory(ctx context.Context, ownerID string) ([]model.AskMessage, error) {
	key := fmt.Sprintf("ask:history:%s", ownerID)
	jsonData, err := r.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return []model.AskMessage{}, nil // No history yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ask history: %w", err)
	}
	var messages []model.AskMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ask history: %w", err)
	}
	return messages, nil
}

// AppendHistory 在 Redis 中追加问答历史记录。
func (r *redisAskHistoryRepository) AppendHistory(ctx context.Context, ownerID string, messages ...model.AskMessage) error {
	history, err := r.GetHistory(ctx, ownerID)
	if err != nil {
		return err
	}
	history = append(history, messages...)
	// 保留最近 20 条
	if len(history) > 20 {
		history = history[len(history)-20:]
	}
	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal ask history: %w", err)
	}
	key := fmt.Sprintf("ask:history:%s", ownerID)
	if err := r.redisClient.Set(ctx, key, jsonData, 7*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to set ask history: %w", err)
	}
	return nil
}
