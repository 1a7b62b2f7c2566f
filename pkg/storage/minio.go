// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/pkg/log"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectPrefix 是上传对象在存储桶内的前缀，与公开 URL 的 /f/<key> 路径一致。
const objectPrefix = "f/"

// ObjectName 返回 key 在存储桶中的对象名。
func ObjectName(key string) string {
	return objectPrefix + key
}

// PublicURL 返回对象的公开访问地址: <base>/f/<key>。
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + ObjectName(key)
}

// publicReadPolicy 只开放 f/ 前缀下对象的匿名读取。
func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/%s*"]}]}`, bucket, objectPrefix)
}

// NewMinIO 初始化 MinIO 客户端，确保存储桶存在并允许匿名读取上传对象。
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	bucketName := cfg.BucketName
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}

	// 摄取流程通过公开 URL 下载对象
	if err := client.SetBucketPolicy(ctx, bucketName, publicReadPolicy(bucketName)); err != nil {
		return nil, fmt.Errorf("设置存储桶访问策略失败: %w", err)
	}
	return client, nil
}
