// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/storage"
	"pdf-ingest-go/pkg/tasks"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/oklog/ulid"
)

var (
	// ErrTooLarge 表示文件超过上传路由声明的大小上限。
	ErrTooLarge = errors.New("file exceeds the route's maximum size")
	// ErrUnsupportedType 表示文件类型不在上传路由允许的列表中。
	ErrUnsupportedType = errors.New("file type is not allowed by this route")
)

// allowedMIME 把路由配置中的类型名映射到 MIME。
var allowedMIME = map[string]string{
	"pdf": "application/pdf",
}

// sniffLen 是类型探测读取的头部字节数。
const sniffLen = 512

// ObjectWriter 是上传用到的 *minio.Client 方法。
type ObjectWriter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// DispatchFunc 把上传完成事件交给同步流水线或 Kafka。
type DispatchFunc func(ctx context.Context, task tasks.UploadCompleteTask) error

// RouteConfig 是上传路由的声明式配置。
type RouteConfig struct {
	RouteName     string   `json:"routeName"`
	AllowedTypes  []string `json:"allowedTypes"`
	MaxFileSize   int64    `json:"maxFileSize"`
	MaxFileSizeMB int64    `json:"maxFileSizeMB"`
}

// UploadResult 描述已存储的对象。
type UploadResult struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// UploadService 接口定义了文件上传相关的业务操作。
type UploadService interface {
	Upload(ctx context.Context, userID, fileName string, size int64, r io.Reader) (*UploadResult, error)
	RouteConfig() RouteConfig
}

type uploadService struct {
	cfg      config.UploadConfig
	bucket   string
	objects  ObjectWriter
	dispatch DispatchFunc
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(cfg config.UploadConfig, bucket string, objects ObjectWriter, dispatch DispatchFunc) UploadService {
	return &uploadService{cfg: cfg, bucket: bucket, objects: objects, dispatch: dispatch}
}

// RouteConfig 返回上传路由的配置。
func (s *uploadService) RouteConfig() RouteConfig {
	return RouteConfig{
		RouteName:     s.cfg.RouteName,
		AllowedTypes:  s.cfg.AllowedTypes,
		MaxFileSize:   s.cfg.MaxFileSizeBytes(),
		MaxFileSizeMB: s.cfg.MaxFileSizeMB,
	}
}

// Upload 校验大小与类型后把文件写入对象存储，并分发上传完成事件。
func (s *uploadService) Upload(ctx context.Context, userID, fileName string, size int64, r io.Reader) (*UploadResult, error) {
	if size > s.cfg.MaxFileSizeBytes() {
		log.Warnf("[UploadService] 文件超过大小上限, name: %s, size: %d", fileName, size)
		return nil, ErrTooLarge
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}
	head = head[:n]

	mtype := mimetype.Detect(head)
	if !s.allowed(mtype) {
		log.Warnf("[UploadService] 文件类型不被允许, name: %s, detected: %s", fileName, mtype.String())
		return nil, ErrUnsupportedType
	}

	key := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	body := io.MultiReader(bytes.NewReader(head), r)
	_, err = s.objects.PutObject(ctx, s.bucket, storage.ObjectName(key), body, size, minio.PutObjectOptions{
		ContentType: mtype.String(),
	})
	if err != nil {
		log.Errorf("[UploadService] 写入对象存储失败, key: %s, error: %v", key, err)
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}

	result := &UploadResult{Key: key, Name: fileName, URL: storage.PublicURL(s.cfg.PublicBaseURL, key)}
	log.Infof("[UploadService] 文件已存储, key: %s, name: %s, userId: %s", key, fileName, userID)

	task := tasks.UploadCompleteTask{
		Metadata: tasks.TaskMetadata{UserID: userID},
		File:     tasks.TaskFile{Key: result.Key, Name: result.Name, URL: result.URL},
	}
	if err := s.dispatch(ctx, task); err != nil {
		return nil, fmt.Errorf("分发上传完成事件失败: %w", err)
	}
	return result, nil
}

func (s *uploadService) allowed(mtype *mimetype.MIME) bool {
	for _, t := range s.cfg.AllowedTypes {
		if m, ok := allowedMIME[strings.ToLower(t)]; ok && mtype.Is(m) {
			return true
		}
	}
	return false
}
