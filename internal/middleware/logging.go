package middleware

import (
	"bytes"
	"io"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/metrics"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// maxLoggedBody 限制日志中记录的请求/响应体长度。
const maxLoggedBody = 4096

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if w.body.Len() < maxLoggedBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "...(truncated)"
	}
	return string(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志并统计请求指标。
// multipart 上传的请求体不读入内存，也不记录。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 记录请求开始时间
		startTime := time.Now()

		var requestBody []byte
		isMultipart := strings.HasPrefix(c.GetHeader("Content-Type"), "multipart/")
		if c.Request.Body != nil && !isMultipart {
			requestBody, _ = io.ReadAll(c.Request.Body)
			// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		// 使用自定义的 ResponseWriter 捕获响应
		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		// 处理请求
		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RequestCounter.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(statusCode)).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(latency.Seconds())

		loggedBody := truncate(requestBody)
		if isMultipart {
			loggedBody = "[multipart omitted]"
		}
		log.Infow("HTTP Request Log",
			"statusCode", statusCode,
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", loggedBody,
			"responseBody", blw.body.String(),
		)
	}
}
