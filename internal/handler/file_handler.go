package handler

import (
	"errors"
	"net/http"
	"pdf-ingest-go/internal/service"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// FileHandler 提供文件处理状态的查询接口。
type FileHandler struct {
	files service.FileService
}

// NewFileHandler 创建一个新的 FileHandler 实例。
func NewFileHandler(files service.FileService) *FileHandler {
	return &FileHandler{files: files}
}

func currentUserID(c *gin.Context) string {
	claimsValue, _ := c.Get("claims")
	if claims, ok := claimsValue.(*token.CustomClaims); ok {
		return claims.UserID
	}
	return ""
}

// List 返回当前用户的全部文件。
func (h *FileHandler) List(c *gin.Context) {
	views, err := h.files.ListFiles(c.Request.Context(), currentUserID(c))
	if err != nil {
		log.Error("ListFiles: failed to list files", err)
		respond(c, http.StatusInternalServerError, "获取文件列表失败", nil)
		return
	}
	success(c, views)
}

// Get 返回单个文件的处理状态。
func (h *FileHandler) Get(c *gin.Context) {
	view, err := h.files.GetFile(c.Request.Context(), currentUserID(c), c.Param("id"))
	if errors.Is(err, service.ErrNotFound) {
		respond(c, http.StatusNotFound, "文件不存在", nil)
		return
	}
	if err != nil {
		log.Error("GetFile: failed to get file", err)
		respond(c, http.StatusInternalServerError, "获取文件失败", nil)
		return
	}
	success(c, view)
}
