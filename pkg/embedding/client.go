// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/pkg/log"
	"sort"
	"time"

	"github.com/sony/gobreaker"
)

// Client defines the interface for an embedding client.
type Client interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

const defaultBatchSize = 512

type openAICompatibleClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a new OpenAI-compatible embedding client.
// Calls go through a circuit breaker that opens after 5 consecutive failures.
func NewClient(cfg config.EmbeddingConfig) Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "embedding-api",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// 调用方主动取消不计入失败
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnf("[EmbeddingClient] 熔断器 %s 状态变化: %s -> %s", name, from, to)
			},
		}),
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedDocuments embeds texts in batches of cfg.BatchSize, preserving input order.
func (c *openAICompatibleClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.embedBatch(ctx, texts[start:end])
		})
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d] failed: %w", start, end, err)
		}
		vectors = append(vectors, result.([][]float32)...)
	}
	return vectors, nil
}

func (c *openAICompatibleClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(batch))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      batch,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(batch))
	}
	sort.Slice(embeddingResp.Data, func(i, j int) bool {
		return embeddingResp.Data[i].Index < embeddingResp.Data[j].Index
	})

	vectors := make([][]float32, len(batch))
	for i, d := range embeddingResp.Data {
		if len(d.Embedding) == 0 {
			log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
			return nil, fmt.Errorf("received empty embedding from api")
		}
		vectors[i] = d.Embedding
	}

	log.Infof("[EmbeddingClient] 成功从 Embedding API 获取 %d 个向量, 维度: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}
