package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"pdf-ingest-go/internal/handler"
	"pdf-ingest-go/internal/jobs"
	"pdf-ingest-go/internal/middleware"
	"pdf-ingest-go/internal/service"
	"pdf-ingest-go/pkg/kafka"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/metrics"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务、Kafka 消费者与后台任务",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
		log.Info("日志记录器初始化成功")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		// 启动后台 Kafka 消费者
		consumerDone := make(chan struct{})
		if cfg.Ingest.Async {
			consumer := kafka.NewConsumer(cfg.Kafka, kafka.NewRedisAttemptCounter(a.rdb), a.pipeline)
			go func() {
				defer close(consumerDone)
				consumer.Run(ctx)
			}()
		} else {
			close(consumerDone)
		}

		var sweeper *jobs.Sweeper
		if cfg.Jobs.Enabled {
			sweeper = jobs.NewSweeper(a.files, cfg.Jobs)
			if err := sweeper.Start(ctx); err != nil {
				return fmt.Errorf("启动清理任务失败: %w", err)
			}
		}

		// 设置 Gin 模式并创建路由引擎
		gin.SetMode(cfg.Server.Mode)
		r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
		r.Use(middleware.RequestLogger(), gin.Recovery())
		if cfg.Metrics.Enabled {
			r.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
		}
		handler.RegisterRoutes(r, a.jwt,
			handler.NewUploadThingHandler(a.pipeline, a.uploads),
			handler.NewFileHandler(service.NewFileService(a.files)),
		)

		// 启动 HTTP 服务器并实现优雅停机
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
			Handler: r,
		}
		serveErr := make(chan error, 1)
		go func() {
			log.Infof("服务启动于 %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()

		// 等待中断信号以实现优雅停机
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("接收到停机信号，正在关闭服务...")
		case err := <-serveErr:
			log.Error("HTTP 服务监听失败", err)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP 服务器关闭失败", err)
		}

		if sweeper != nil {
			_ = sweeper.Stop()
		}
		// 取消 ctx 让消费者退出 FetchMessage 循环
		cancel()
		<-consumerDone

		log.Info("服务已优雅关闭")
		return nil
	},
}
