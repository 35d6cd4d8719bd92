package database

import (
	"context"
	"github.com/go-redis/redis/v8"
	"ledgerbase-go/pkg/log"
)

// RDB 是全局 Redis 客户端，承载实体缓存、token 黑名单、
// 问答历史与消费重试计数。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
}
