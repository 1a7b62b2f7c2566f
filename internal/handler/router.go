package handler

import (
	"pdf-ingest-go/internal/middleware"
	"pdf-ingest-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册全部 API 路由。
// uploadthing 路由只做可选的会话解析，是否拒绝由流水线的会话校验决定。
func RegisterRoutes(r *gin.Engine, jwtManager *token.JWTManager, uploadThing *UploadThingHandler, files *FileHandler) {
	apiV1 := r.Group("/api/v1")
	{
		ut := apiV1.Group("/uploadthing")
		ut.Use(middleware.SessionMiddleware(jwtManager))
		{
			ut.GET("/config", uploadThing.Config)
			ut.POST("/pdfUploader", uploadThing.Upload)
			ut.POST("/callback", uploadThing.Callback)
		}

		fileGroup := apiV1.Group("/files")
		fileGroup.Use(middleware.AuthMiddleware(jwtManager))
		{
			fileGroup.GET("", files.List)
			fileGroup.GET("/:id", files.Get)
		}
	}
}
