// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/pkg/log"
	"pdf-ingest-go/pkg/metrics"
	"pdf-ingest-go/pkg/tasks"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.UploadCompleteTask) error
}

// Producer 把上传完成事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

func brokerList(brokers string) []string {
	list := make([]string, 0)
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return list
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceUploadTask 发送一个上传完成任务到 Kafka，以文件 key 作为消息 key。
func (p *Producer) ProduceUploadTask(ctx context.Context, task tasks.UploadCompleteTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.File.Key),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 *kafka.Reader 中消费者用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AttemptCounter 记录每个文件的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttemptCounter 使用 Redis INCR 计数，计数 24 小时后过期。
type RedisAttemptCounter struct {
	rdb *redis.Client
}

// NewRedisAttemptCounter 创建基于 Redis 的失败计数器。
func NewRedisAttemptCounter(rdb *redis.Client) *RedisAttemptCounter {
	return &RedisAttemptCounter{rdb: rdb}
}

func attemptsKey(fileKey string) string {
	return fmt.Sprintf("kafka:attempts:%s", fileKey)
}

// Incr 实现 AttemptCounter。
func (c *RedisAttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	attempts, err := c.rdb.Incr(ctx, attemptsKey(key)).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, attemptsKey(key), 24*time.Hour).Err()
	return attempts, nil
}

// Reset 实现 AttemptCounter。
func (c *RedisAttemptCounter) Reset(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, attemptsKey(key)).Err()
}

// Consumer 消费上传完成事件并交给 TaskProcessor 处理。
// 分组消费者拉取下一条消息后，未提交的 offset 会被后续提交覆盖，因此失败的消息在本地重试，
// 直到成功或达到 maxAttempts 才提交。
type Consumer struct {
	reader      messageReader
	attempts    AttemptCounter
	processor   TaskProcessor
	maxAttempts int64
	retryDelay  time.Duration
}

// NewConsumer 创建一个 Kafka 消费者。
func NewConsumer(cfg config.KafkaConfig, attempts AttemptCounter, processor TaskProcessor) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, attempts, processor, cfg.MaxAttempts)
}

func newConsumer(r messageReader, attempts AttemptCounter, processor TaskProcessor, maxAttempts int64) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{reader: r, attempts: attempts, processor: processor, maxAttempts: maxAttempts, retryDelay: 2 * time.Second}
}

// Run 循环拉取消息直到 ctx 结束或读取失败。
func (c *Consumer) Run(ctx context.Context) {
	log.Info("Kafka 消费者已启动")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}
		c.handle(ctx, m)
	}

	if err := c.reader.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// handle 处理单条消息并按提交策略决定是否提交 offset。
// 失败次数记在 Redis 中，消费者重启后重新投递的同一文件会接着计数。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.UploadCompleteTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		metrics.KafkaMessages.WithLabelValues("malformed").Inc()
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	log.Infof("开始处理上传任务: Key=%s, FileName=%s", task.File.Key, task.File.Name)
	var local int64
	for {
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("上传任务处理成功: Key=%s", task.File.Key)
			metrics.KafkaMessages.WithLabelValues("ok").Inc()
			_ = c.attempts.Reset(ctx, task.File.Key)
			c.commit(ctx, m)
			return
		}

		local++
		log.Errorf("处理上传任务失败: Key=%s, 第 %d 次, Error: %v", task.File.Key, local, err)
		attempts, incErr := c.attempts.Incr(ctx, task.File.Key)
		if incErr != nil {
			// Redis 不可用时退回本地计数
			log.Warnf("记录失败次数失败, 使用本地计数: %v", incErr)
			attempts = local
		}
		if attempts >= c.maxAttempts {
			log.Errorf("上传任务多次失败(>=%d)，提交 offset 终止重试: Key=%s", c.maxAttempts, task.File.Key)
			metrics.KafkaMessages.WithLabelValues("dropped").Inc()
			c.commit(ctx, m)
			return
		}

		metrics.KafkaMessages.WithLabelValues("retry").Inc()
		timer := time.NewTimer(c.retryDelay * time.Duration(attempts))
		select {
		case <-ctx.Done():
			// 不提交 offset，重启后由分组重新投递
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
