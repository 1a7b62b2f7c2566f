package main

import (
	"context"
	"fmt"
	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/internal/model"
	"pdf-ingest-go/internal/pipeline"
	"pdf-ingest-go/internal/repository"
	"pdf-ingest-go/internal/service"
	"pdf-ingest-go/pkg/database"
	"pdf-ingest-go/pkg/embedding"
	"pdf-ingest-go/pkg/es"
	"pdf-ingest-go/pkg/fetch"
	"pdf-ingest-go/pkg/kafka"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/metrics"
	"pdf-ingest-go/pkg/qdrantstore"
	"pdf-ingest-go/pkg/storage"
	"pdf-ingest-go/pkg/tika"
	"pdf-ingest-go/pkg/token"
	"pdf-ingest-go/pkg/vectorstore"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// app 汇集一次进程运行所需的全部组件。
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	rdb      *redis.Client
	files    repository.FileRepository
	jwt      *token.JWTManager
	pipeline *pipeline.Pipeline
	uploads  service.UploadService
	producer *kafka.Producer
	closers  []func()
}

// loadConfig 加载配置并初始化日志与指标。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	metrics.Init(cfg.Metrics)
	return cfg, nil
}

// openDB 打开数据库并同步表结构。
func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.File{}); err != nil {
		return nil, fmt.Errorf("自动迁移失败: %w", err)
	}
	return db, nil
}

// newVectorStore 按 vector.provider 创建向量索引。
func newVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, func(), error) {
	switch cfg.Vector.Provider {
	case "", "elasticsearch":
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, nil, fmt.Errorf("es 初始化失败: %w", err)
		}
		store, err := es.NewStore(ctx, client, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "qdrant":
		client, err := qdrantstore.NewClient(cfg.Qdrant)
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant 初始化失败: %w", err)
		}
		store, err := qdrantstore.NewStore(ctx, client, cfg.Qdrant.Collection, cfg.Embedding.Dimensions)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported vector provider: %s", cfg.Vector.Provider)
	}
}

// buildApp 按依赖顺序初始化所有组件。
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.files = repository.NewFileRepository(db)
	a.jwt = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	minioClient, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := newVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	a.pipeline = pipeline.New(pipeline.Deps{
		Sessions:  token.ContextSessionResolver{},
		Files:     a.files,
		Fetcher:   fetch.NewClient(cfg.Fetch, cfg.Upload.MaxFileSizeBytes()),
		Parser:    tika.NewClient(cfg.Tika),
		Embedder:  embedding.NewClient(cfg.Embedding),
		Store:     store,
		PublicURL: func(key string) string { return storage.PublicURL(cfg.Upload.PublicBaseURL, key) },
	})

	dispatch := service.DispatchFunc(a.pipeline.Process)
	if cfg.Ingest.Async {
		rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })

		a.producer = kafka.NewProducer(cfg.Kafka)
		a.closers = append(a.closers, func() { _ = a.producer.Close() })
		dispatch = a.producer.ProduceUploadTask
	}
	a.uploads = service.NewUploadService(cfg.Upload, cfg.MinIO.BucketName, minioClient, dispatch)
	return a, nil
}

// close 逆序释放资源。
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
