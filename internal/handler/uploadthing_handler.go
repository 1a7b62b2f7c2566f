package handler

import (
	"context"
	"errors"
	"net/http"
	"pdf-ingest-go/internal/pipeline"
	"pdf-ingest-go/internal/service"
	"pdf-ingest-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// multipartOverhead 是 multipart 封装相对文件本身的额外字节余量。
const multipartOverhead = 1 << 20

// UploadCompleteHandler 是上传完成流水线对外暴露的入口。
type UploadCompleteHandler interface {
	Authorize(ctx context.Context) (pipeline.Metadata, error)
	Handle(ctx context.Context, claimed pipeline.Metadata, file pipeline.UploadedFile) (*pipeline.Result, error)
}

// UploadThingHandler 负责文件上传路由与上传完成回调。
type UploadThingHandler struct {
	pipeline UploadCompleteHandler
	uploads  service.UploadService
}

// NewUploadThingHandler 创建一个新的 UploadThingHandler 实例。
func NewUploadThingHandler(p UploadCompleteHandler, uploads service.UploadService) *UploadThingHandler {
	return &UploadThingHandler{pipeline: p, uploads: uploads}
}

// CallbackRequest 是存储服务上传完成回调的请求体。
type CallbackRequest struct {
	Metadata pipeline.Metadata     `json:"metadata"`
	File     pipeline.UploadedFile `json:"file" binding:"required"`
}

// Config 返回上传路由的声明式配置。
func (h *UploadThingHandler) Config(c *gin.Context) {
	success(c, h.uploads.RouteConfig())
}

// Upload 处理 PDF 上传：先校验会话，再校验大小与类型，存储后分发上传完成事件。
func (h *UploadThingHandler) Upload(c *gin.Context) {
	meta, err := h.pipeline.Authorize(c.Request.Context())
	if err != nil {
		respond(c, http.StatusUnauthorized, "未登录或会话已失效", nil)
		return
	}

	limit := h.uploads.RouteConfig().MaxFileSize
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond(c, http.StatusRequestEntityTooLarge, "文件超过大小上限", nil)
			return
		}
		respond(c, http.StatusBadRequest, "缺少上传文件", nil)
		return
	}
	if fileHeader.Size > limit {
		respond(c, http.StatusRequestEntityTooLarge, "文件超过大小上限", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Upload: failed to open multipart file", err)
		respond(c, http.StatusInternalServerError, "服务器内部错误", nil)
		return
	}
	defer file.Close()

	result, err := h.uploads.Upload(c.Request.Context(), meta.UserID, fileHeader.Filename, fileHeader.Size, file)
	switch {
	case errors.Is(err, service.ErrTooLarge):
		respond(c, http.StatusRequestEntityTooLarge, "文件超过大小上限", nil)
	case errors.Is(err, service.ErrUnsupportedType):
		respond(c, http.StatusUnsupportedMediaType, "不支持的文件类型", nil)
	case err != nil:
		log.Error("Upload: failed to store file", err)
		respond(c, http.StatusInternalServerError, "服务器内部错误", nil)
	default:
		success(c, result)
	}
}

// Callback 处理上传完成回调。会话身份是权威的，请求体中的 userId 与之不一致时拒绝。
func (h *UploadThingHandler) Callback(c *gin.Context) {
	if _, err := h.pipeline.Authorize(c.Request.Context()); err != nil {
		respond(c, http.StatusUnauthorized, "未登录或会话已失效", nil)
		return
	}

	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.File.Key == "" {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}

	result, err := h.pipeline.Handle(c.Request.Context(), req.Metadata, req.File)
	switch {
	case errors.Is(err, pipeline.ErrUnauthorized):
		respond(c, http.StatusUnauthorized, "未登录或会话已失效", nil)
	case errors.Is(err, pipeline.ErrForbidden):
		respond(c, http.StatusForbidden, "metadata 与会话身份不一致", nil)
	case err != nil:
		log.Error("Callback: upload completion failed", err)
		respond(c, http.StatusInternalServerError, "服务器内部错误", nil)
	default:
		success(c, result)
	}
}
