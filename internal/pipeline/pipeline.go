// Package pipeline 定义了上传完成后的处理流程：身份校验、记录、下载解析、向量化索引、终态更新。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"pdf-ingest-go/internal/model"
	"pdf-ingest-go/internal/repository"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/metrics"
	"pdf-ingest-go/pkg/tasks"
	"pdf-ingest-go/pkg/vectorstore"
)

// Deps 汇集流水线用到的全部外部依赖。
type Deps struct {
	Sessions  SessionResolver
	Files     repository.FileRepository
	Fetcher   Fetcher
	Parser    Parser
	Embedder  Embedder
	Store     vectorstore.Store
	PublicURL func(key string) string
}

// Result 描述一次上传完成处理的结果。
type Result struct {
	FileID      string             `json:"fileId"`
	Status      model.UploadStatus `json:"status"`
	Skipped     bool               `json:"skipped"`
	Pages       int                `json:"pages"`
	FailedStage Stage              `json:"failedStage,omitempty"`
}

// Pipeline 封装上传完成处理的所有组件。
type Pipeline struct {
	gate     *Gate
	recorder *Recorder
	ingestor *Ingestor
	indexer  *Indexer
	files    repository.FileRepository
}

// New 创建一个新的 Pipeline 实例。
func New(deps Deps) *Pipeline {
	return &Pipeline{
		gate:     NewGate(deps.Sessions),
		recorder: NewRecorder(deps.Files, deps.PublicURL),
		ingestor: NewIngestor(deps.Fetcher, deps.Parser),
		indexer:  NewIndexer(deps.Embedder, deps.Store),
		files:    deps.Files,
	}
}

// Authorize 校验请求会话。
func (p *Pipeline) Authorize(ctx context.Context) (Metadata, error) {
	return p.gate.Authorize(ctx)
}

// Handle 是同步回调入口：先校验会话，回调声明的 userId 必须与会话一致，然后执行完整流程。
func (p *Pipeline) Handle(ctx context.Context, claimed Metadata, file UploadedFile) (*Result, error) {
	meta, err := p.gate.Authorize(ctx)
	if err != nil {
		return nil, err
	}
	if claimed.UserID != "" && claimed.UserID != meta.UserID {
		log.Warnf("[Pipeline] 回调 userId 与会话不一致, key: %s", file.Key)
		return nil, ErrForbidden
	}
	return p.OnUploadComplete(ctx, meta, file)
}

// Process 实现 kafka.TaskProcessor。任务中的身份在入队前已经过会话校验。
func (p *Pipeline) Process(ctx context.Context, task tasks.UploadCompleteTask) error {
	if task.Metadata.UserID == "" {
		return ErrUnauthorized
	}
	_, err := p.OnUploadComplete(ctx, Metadata{UserID: task.Metadata.UserID},
		UploadedFile{Key: task.File.Key, Name: task.File.Name, URL: task.File.URL})
	return err
}

// OnUploadComplete 记录文件并完成摄取。
// 摄取失败只体现为 FAILED 状态，不作为错误返回；只有记录的查询、创建和终态更新失败才会返回错误。
func (p *Pipeline) OnUploadComplete(ctx context.Context, meta Metadata, file UploadedFile) (*Result, error) {
	record, created, err := p.recorder.Record(ctx, meta, file)
	if err != nil {
		return nil, err
	}
	if !created {
		metrics.IngestRuns.WithLabelValues("skipped").Inc()
		return &Result{FileID: record.ID, Status: record.UploadStatus, Skipped: true}, nil
	}

	pages, ingestErr := p.ingest(ctx, record)

	status := model.StatusSuccess
	result := &Result{FileID: record.ID, Pages: pages}
	if ingestErr != nil {
		status = model.StatusFailed
		result.FailedStage = ingestErr.Stage
		log.Errorf("[Pipeline] 文件处理失败, id: %s, stage: %s, error: %v", record.ID, ingestErr.Stage, ingestErr.Err)
		metrics.StageFailures.WithLabelValues(string(ingestErr.Stage)).Inc()
	}

	// 请求被取消也要写入终态，避免记录停留在 PROCESSING
	err = p.files.UpdateStatus(context.WithoutCancel(ctx), record.ID, status)
	if errors.Is(err, repository.ErrNotProcessing) {
		// 处理期间记录已被清理任务置为终态，保留已有状态，不做第二次变更
		current, findErr := p.files.FindByID(context.WithoutCancel(ctx), record.ID)
		if findErr != nil {
			return nil, fmt.Errorf("读取文件状态失败: %w", findErr)
		}
		log.Warnf("[Pipeline] 文件记录已是终态 %s, 放弃写入 %s, id: %s", current.UploadStatus, status, record.ID)
		metrics.IngestRuns.WithLabelValues("superseded").Inc()
		result.Status = current.UploadStatus
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("更新文件状态失败: %w", err)
	}
	result.Status = status

	if status == model.StatusSuccess {
		metrics.IngestRuns.WithLabelValues("success").Inc()
		metrics.PagesPerFile.Observe(float64(pages))
		log.Infof("[Pipeline] 文件处理成功, id: %s, 页数: %d", record.ID, pages)
	} else {
		metrics.IngestRuns.WithLabelValues("failed").Inc()
	}
	return result, nil
}

// ingest 依次执行下载解析与索引，返回第一个失败的步骤。
// 各外部调用的 panic 已在 runStage 中归到对应步骤，这里只兜底步骤之间的代码。
func (p *Pipeline) ingest(ctx context.Context, record *model.File) (pages int, failure *StageError) {
	stage := StageParse
	defer func() {
		if r := recover(); r != nil {
			failure = stageErr(stage, fmt.Errorf("panic: %v", r))
		}
	}()

	docs, err := p.ingestor.Load(ctx, record)
	if err != nil {
		return 0, asStageError(err, StageParse)
	}
	stage = StageUpsert
	if err := p.indexer.Index(ctx, record.ID, docs); err != nil {
		return len(docs), asStageError(err, StageUpsert)
	}
	return len(docs), nil
}

func asStageError(err error, fallback Stage) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return stageErr(fallback, err)
}
