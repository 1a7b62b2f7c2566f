package pipeline

import (
	"context"
	"errors"
	"fmt"
	"pdf-ingest-go/internal/model"
	"pdf-ingest-go/internal/repository"
	"pdf-ingest-go/pkg/log"

	"gorm.io/gorm"
)

// UploadedFile 是存储服务回调中描述的已上传对象。
type UploadedFile struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Recorder 为每个存储 key 建立唯一的文件记录。
type Recorder struct {
	files     repository.FileRepository
	publicURL func(key string) string
}

// NewRecorder 创建记录器。publicURL 把对象 key 映射为可下载地址。
func NewRecorder(files repository.FileRepository, publicURL func(key string) string) *Recorder {
	return &Recorder{files: files, publicURL: publicURL}
}

// Record 返回 key 对应的记录；created 为 false 表示记录已存在，本次回调应直接结束。
// 唯一索引冲突与查询命中同样视为已存在。
func (r *Recorder) Record(ctx context.Context, meta Metadata, file UploadedFile) (*model.File, bool, error) {
	existing, err := r.files.FindByKey(ctx, file.Key)
	if err == nil {
		log.Infof("[Recorder] 文件记录已存在, key: %s, id: %s", file.Key, existing.ID)
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("查询文件记录失败: %w", err)
	}

	record := &model.File{
		Key:          file.Key,
		Name:         file.Name,
		UserID:       meta.UserID,
		URL:          r.publicURL(file.Key),
		UploadStatus: model.StatusProcessing,
	}
	if err := r.files.Create(ctx, record); err != nil {
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, false, fmt.Errorf("创建文件记录失败: %w", err)
		}
		// 并发回调先一步写入了同一个 key
		existing, err := r.files.FindByKey(ctx, file.Key)
		if err != nil {
			return nil, false, fmt.Errorf("查询并发写入的文件记录失败: %w", err)
		}
		log.Infof("[Recorder] 并发回调已创建记录, key: %s, id: %s", file.Key, existing.ID)
		return existing, false, nil
	}

	log.Infof("[Recorder] 创建文件记录成功, key: %s, id: %s, userId: %s", record.Key, record.ID, record.UserID)
	return record, true, nil
}
