// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
// 对象存储在这里充当账本载荷的就近归档：提交后立刻写入一份副本，
// 在网关检索尚未收敛的窗口期内，读取可以直接命中归档。
package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ledgerbase-go/internal/config"
	"ledgerbase-go/pkg/log"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// PayloadArchive 以账本地址为对象名归档载荷。
type PayloadArchive struct {
	client *minio.Client
	bucket string
}

// NewPayloadArchive 创建一个基于 MinIO 的载荷归档。
func NewPayloadArchive(client *minio.Client, bucket string) *PayloadArchive {
	return &PayloadArchive{client: client, bucket: bucket}
}

// Put 把一条账本载荷写入归档，对象名即账本地址。
func (a *PayloadArchive) Put(ctx context.Context, address string, payload []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, address,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

// Get 按账本地址取回归档载荷。对象不存在时返回错误，调用方按未命中处理。
func (a *PayloadArchive) Get(ctx context.Context, address string) ([]byte, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, address, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
