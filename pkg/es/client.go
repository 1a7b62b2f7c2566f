// Package es 提供了基于 Elasticsearch 的向量索引实现。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/vectorstore"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// NewClient 创建 Elasticsearch 客户端，addresses 支持逗号分隔的多个节点。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	addresses := make([]string, 0)
	for _, addr := range strings.Split(esCfg.Addresses, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addresses = append(addresses, addr)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// Store 把所有文件的向量写入同一个索引，通过 namespace 字段区分。
type Store struct {
	client *elasticsearch.Client
	index  string
	dims   int
}

var _ vectorstore.Store = (*Store)(nil)

// esDocument 是写入索引的文档结构。
type esDocument struct {
	VectorID  string         `json:"vector_id"`
	Namespace string         `json:"namespace"`
	Text      string         `json:"text"`
	Vector    []float32      `json:"vector"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewStore 创建向量存储，并在索引不存在时按 dims 创建映射。
func NewStore(ctx context.Context, client *elasticsearch.Client, index string, dims int) (*Store, error) {
	s := &Store{client: client, index: index, dims: dims}
	if err := s.createIndexIfNotExists(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (s *Store) createIndexIfNotExists(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[ES] 检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("[ES] 索引 '%s' 已存在", s.index)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("[ES] 检查索引 '%s' 是否存在时收到意外的状态码: %d", s.index, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"namespace": { "type": "keyword" },
				"text": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"metadata": { "type": "object" }
			}
		}
	}`, s.dims)

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("[ES] 创建索引 '%s' 失败: %v", s.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("[ES] 索引 '%s' 创建成功", s.index)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 用一次 bulk 请求把 records 写入 namespace。任一条目失败即整体返回错误。
func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := vectorstore.CheckDimensions(records, s.dims); err != nil {
		return err
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range records {
		action := map[string]any{"index": map[string]any{"_index": s.index, "_id": r.ID}}
		if err := enc.Encode(action); err != nil {
			return err
		}
		doc := esDocument{VectorID: r.ID, Namespace: namespace, Text: r.Text, Vector: r.Values, Metadata: r.Metadata}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Index:   s.index,
		Body:    &body,
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[ES] bulk 写入返回错误: %s", res.String())
		return fmt.Errorf("bulk request returned status %d", res.StatusCode)
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, result := range item {
				if result.Error != nil {
					return fmt.Errorf("bulk item %s failed: %s: %s", result.ID, result.Error.Type, result.Error.Reason)
				}
			}
		}
		return errors.New("bulk request reported errors")
	}

	log.Infof("[ES] 已写入 %d 个向量, namespace: %s", len(records), namespace)
	return nil
}
