package model

import (
	"fmt"
	"time"
)

// LocalTime is a custom time type to format time as "YYYY-MM-DD HH:MM:SS".
type LocalTime time.Time

const timeFormat = "2006-01-02 15:04:05"

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	formatted := fmt.Sprintf("\"%s\"", time.Time(t).Format(timeFormat))
	return []byte(formatted), nil
}

// FileView 是返回给前端的文件状态视图。
type FileView struct {
	ID           string       `json:"id"`
	Key          string       `json:"key"`
	Name         string       `json:"name"`
	URL          string       `json:"url"`
	UploadStatus UploadStatus `json:"uploadStatus"`
	CreatedAt    LocalTime    `json:"createdAt"`
	UpdatedAt    LocalTime    `json:"updatedAt"`
}

// NewFileView 从 File 记录构造视图。
func NewFileView(f *File) FileView {
	return FileView{
		ID:           f.ID,
		Key:          f.Key,
		Name:         f.Name,
		URL:          f.URL,
		UploadStatus: f.UploadStatus,
		CreatedAt:    LocalTime(f.CreatedAt),
		UpdatedAt:    LocalTime(f.UpdatedAt),
	}
}
