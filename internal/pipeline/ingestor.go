package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"pdf-ingest-go/internal/model"
	"pdf-ingest-go/pkg/log"
)

var pdfMagic = []byte("%PDF-")

// Fetcher 按 URL 下载完整对象。
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Parser 把 PDF 内容切分为按页排列的文本。
type Parser interface {
	ExtractPages(ctx context.Context, r io.Reader, fileName string) ([]string, error)
}

// Ingestor 下载文件并生成逐页文档。
type Ingestor struct {
	fetcher Fetcher
	parser  Parser
}

// NewIngestor 创建摄取器。
func NewIngestor(fetcher Fetcher, parser Parser) *Ingestor {
	return &Ingestor{fetcher: fetcher, parser: parser}
}

// Load 下载 file.URL 并按页解析，返回的文档数等于页数，顺序即页码顺序。
func (in *Ingestor) Load(ctx context.Context, file *model.File) ([]model.PageDocument, error) {
	log.Infof("[Ingestor] 步骤1: 下载文件, url: %s", file.URL)
	var data []byte
	err := runStage(StageFetch, func() (err error) {
		data, err = in.fetcher.Get(ctx, file.URL)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, stageErr(StageFetch, errors.New("empty object body"))
	}

	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, stageErr(StageParse, ErrNotPDF)
	}

	log.Infof("[Ingestor] 步骤2: 解析 PDF, 大小: %d 字节", len(data))
	var pages []string
	err = runStage(StageParse, func() (err error) {
		pages, err = in.parser.ExtractPages(ctx, bytes.NewReader(data), file.Name)
		return err
	})
	if err != nil {
		return nil, err
	}

	docs := make([]model.PageDocument, len(pages))
	for i, text := range pages {
		docs[i] = model.PageDocument{
			PageContent: text,
			Metadata: model.PageMetadata{
				Source:     file.Name,
				PageNumber: i + 1,
				TotalPages: len(pages),
			},
		}
	}
	log.Infof("[Ingestor] 解析完成, 共 %d 页", len(docs))
	return docs, nil
}
