// Package qdrantstore 提供了基于 Qdrant 的向量索引实现。
package qdrantstore

import (
	"context"
	"fmt"
	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/vectorstore"

	"github.com/qdrant/go-client/qdrant"
)

// namespaceField 是承载 namespace 的 payload 字段名。
const namespaceField = "namespace"

// PointsAPI 是 Store 用到的 *qdrant.Client 方法子集。
type PointsAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
}

// NewClient 创建 Qdrant gRPC 客户端。
func NewClient(cfg config.QdrantConfig) (*qdrant.Client, error) {
	return qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
}

// Store 把所有文件的向量写入同一个 collection，namespace 作为 payload 字段。
type Store struct {
	client     PointsAPI
	collection string
	dims       int
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore 确保 collection 与 namespace 的 keyword 索引存在。
func NewStore(ctx context.Context, client PointsAPI, collection string, dims int) (*Store, error) {
	s := &Store{client: client, collection: collection, dims: dims}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("检查 collection 失败: %w", err)
	}
	if exists {
		log.Infof("[Qdrant] collection '%s' 已存在", s.collection)
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("创建 collection 失败: %w", err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      namespaceField,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("创建 namespace 索引失败: %w", err)
	}

	log.Infof("[Qdrant] collection '%s' 创建成功, 维度: %d", s.collection, s.dims)
	return nil
}

// Upsert 一次写入 namespace 下的全部 records，并等待落盘。
func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := vectorstore.CheckDimensions(records, s.dims); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[namespaceField] = namespace
		payload["text"] = r.Text

		values, err := qdrant.TryValueMap(payload)
		if err != nil {
			return fmt.Errorf("转换 payload 失败, id: %s: %w", r.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(r.Values...),
			Payload: values,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		log.Errorf("[Qdrant] 写入失败, namespace: %s, error: %v", namespace, err)
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}

	log.Infof("[Qdrant] 已写入 %d 个向量, namespace: %s", len(records), namespace)
	return nil
}
