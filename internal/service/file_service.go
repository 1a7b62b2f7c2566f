package service

import (
	"context"
	"errors"
	"pdf-ingest-go/internal/model"
	"pdf-ingest-go/internal/repository"

	"gorm.io/gorm"
)

// ErrNotFound 表示记录不存在或不属于当前用户。
var ErrNotFound = errors.New("file not found")

// FileService 提供上传用户查询文件处理状态的能力。
type FileService interface {
	ListFiles(ctx context.Context, userID string) ([]model.FileView, error)
	GetFile(ctx context.Context, userID, id string) (*model.FileView, error)
}

type fileService struct {
	files repository.FileRepository
}

// NewFileService 创建一个新的 FileService 实例。
func NewFileService(files repository.FileRepository) FileService {
	return &fileService{files: files}
}

// ListFiles 返回用户上传的全部文件，最新的在前。
func (s *fileService) ListFiles(ctx context.Context, userID string) ([]model.FileView, error) {
	files, err := s.files.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]model.FileView, 0, len(files))
	for i := range files {
		views = append(views, model.NewFileView(&files[i]))
	}
	return views, nil
}

// GetFile 返回单个文件，其他用户的文件视为不存在。
func (s *fileService) GetFile(ctx context.Context, userID, id string) (*model.FileView, error) {
	file, err := s.files.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if file.UserID != userID {
		return nil, ErrNotFound
	}
	view := model.NewFileView(file)
	return &view, nil
}
