// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UploadStatus 表示文件在摄取流水线中的处理状态。
type UploadStatus string

const (
	StatusProcessing UploadStatus = "PROCESSING"
	StatusSuccess    UploadStatus = "SUCCESS"
	StatusFailed     UploadStatus = "FAILED"
)

// File 定义了 files 表的 ORM 模型。
// 每个存储对象 key 至多对应一条记录，由唯一索引保证。
type File struct {
	ID           string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Key          string       `gorm:"type:varchar(255);not null;uniqueIndex:idx_files_key" json:"key"`
	Name         string       `gorm:"type:varchar(255);not null" json:"name"`
	UserID       string       `gorm:"type:varchar(64);not null;index" json:"userId"`
	URL          string       `gorm:"type:varchar(1024);not null" json:"url"`
	UploadStatus UploadStatus `gorm:"type:varchar(16);not null;index" json:"uploadStatus"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (File) TableName() string {
	return "files"
}

// BeforeCreate 在插入前分配记录 ID。
func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
