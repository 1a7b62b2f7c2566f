package pipeline

import (
	"context"
	"fmt"
	"pdf-ingest-go/internal/model"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/vectorstore"

	"github.com/google/uuid"
)

// Embedder 为一批文本计算向量，返回顺序与输入一致。
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer 把逐页文档向量化后写入以文件记录 ID 命名的 namespace。
type Indexer struct {
	embedder Embedder
	store    vectorstore.Store
}

// NewIndexer 创建索引器。
func NewIndexer(embedder Embedder, store vectorstore.Store) *Indexer {
	return &Indexer{embedder: embedder, store: store}
}

// Index 先完成全部向量化，再一次性 upsert；向量化失败时不会写入任何向量。
func (ix *Indexer) Index(ctx context.Context, namespace string, docs []model.PageDocument) error {
	if len(docs) == 0 {
		log.Warnf("[Indexer] 没有可索引的页面, namespace: %s", namespace)
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}

	log.Infof("[Indexer] 步骤3: 向量化 %d 页", len(texts))
	var vectors [][]float32
	err := runStage(StageEmbed, func() (err error) {
		vectors, err = ix.embedder.EmbedDocuments(ctx, texts)
		return err
	})
	if err != nil {
		return err
	}
	if len(vectors) != len(docs) {
		return stageErr(StageEmbed, fmt.Errorf("got %d vectors for %d pages", len(vectors), len(docs)))
	}

	records := make([]vectorstore.Record, len(docs))
	for i, d := range docs {
		records[i] = vectorstore.Record{
			ID:       uuid.NewString(),
			Values:   vectors[i],
			Text:     d.PageContent,
			Metadata: d.Metadata.Payload(),
		}
	}

	log.Infof("[Indexer] 步骤4: 写入向量索引, namespace: %s", namespace)
	return runStage(StageUpsert, func() error {
		return ix.store.Upsert(ctx, namespace, records)
	})
}
