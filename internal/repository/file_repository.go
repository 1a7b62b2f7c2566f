// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"pdf-ingest-go/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDuplicateKey 表示同一存储 key 的记录已经存在。
	ErrDuplicateKey = errors.New("file record with this key already exists")
	// ErrNotProcessing 表示记录已经是终态，不再接受状态变更。
	ErrNotProcessing = errors.New("file record is no longer processing")
)

// FileRepository 接口定义了文件记录相关的数据持久化操作。
type FileRepository interface {
	FindByKey(ctx context.Context, key string) (*model.File, error)
	FindByID(ctx context.Context, id string) (*model.File, error)
	Create(ctx context.Context, file *model.File) error
	UpdateStatus(ctx context.Context, id string, status model.UploadStatus) error
	ListByUser(ctx context.Context, userID string) ([]model.File, error)
	MarkStaleFailed(ctx context.Context, before time.Time) (int64, error)
}

// fileRepository 是 FileRepository 接口的 GORM 实现。
type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository 创建一个新的 FileRepository 实例。
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

// FindByKey 根据存储 key 检索文件记录，不存在时返回 gorm.ErrRecordNotFound。
func (r *fileRepository) FindByKey(ctx context.Context, key string) (*model.File, error) {
	var file model.File
	// key 在 MySQL 中是保留字，交给 clause 按方言加引号
	err := r.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).First(&file).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// FindByID 根据记录 ID 检索文件记录。
func (r *fileRepository) FindByID(ctx context.Context, id string) (*model.File, error) {
	var file model.File
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// Create 插入一条新的文件记录；key 冲突时返回 ErrDuplicateKey。
func (r *fileRepository) Create(ctx context.Context, file *model.File) error {
	err := r.db.WithContext(ctx).Create(file).Error
	if isDuplicateKey(err) {
		return ErrDuplicateKey
	}
	return err
}

// UpdateStatus 把处于 PROCESSING 的记录置为终态。
// 记录不存在时返回 gorm.ErrRecordNotFound，已是终态时返回 ErrNotProcessing 且不做修改。
func (r *fileRepository) UpdateStatus(ctx context.Context, id string, status model.UploadStatus) error {
	res := r.db.WithContext(ctx).Model(&model.File{}).
		Where("id = ? AND upload_status = ?", id, model.StatusProcessing).
		Update("upload_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return ErrNotProcessing
	}
	return nil
}

// ListByUser 查找指定用户上传的所有文件，最新的在前。
func (r *fileRepository) ListByUser(ctx context.Context, userID string) ([]model.File, error) {
	var files []model.File
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&files).Error
	return files, err
}

// MarkStaleFailed 把在 before 之前就已进入 PROCESSING 且再无更新的记录置为 FAILED。
func (r *fileRepository) MarkStaleFailed(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.File{}).
		Where("upload_status = ? AND updated_at < ?", model.StatusProcessing, before).
		Update("upload_status", model.StatusFailed)
	return res.RowsAffected, res.Error
}

// isDuplicateKey 依赖连接开启 TranslateError，由方言把唯一约束冲突翻译为 gorm.ErrDuplicatedKey。
func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
