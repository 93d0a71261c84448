package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/logger"
)

// 文档事件类型
const (
	EventIndexed     = "document.indexed"
	EventIndexFailed = "document.index_failed"
	EventRemoved     = "document.removed"
)

// DocumentEvent 文档生命周期事件
type DocumentEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	DocID      *int64    `json:"doc_id,omitempty"`
	OwnerID    *int64    `json:"owner_id,omitempty"`
	SourcePath string    `json:"source_path,omitempty"`
	Section    string    `json:"section,omitempty"`
	Chunks     int       `json:"chunks,omitempty"`
	Deleted    int64     `json:"deleted,omitempty"`
	ElapsedMS  int64     `json:"elapsed_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Producer 文档事件生产者，作为索引观察者发布事件
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// NewProducerConfig 生产者使用的sarama配置
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second
	return config
}

// NewProducer 连接Kafka并创建事件生产者
func NewProducer(brokers []string, topic string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return NewProducerWith(producer, topic), nil
}

// NewProducerWith 使用已有的SyncProducer
func NewProducerWith(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic, now: time.Now}
}

// Publish 发送事件，按文档分区以保证同一文档的事件有序
func (p *Producer) Publish(event *DocumentEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(eventKey(event)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
			{Key: []byte("event_id"), Value: []byte(event.EventID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("发送Kafka消息失败", zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}

	logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("event_type", event.Type))
	return nil
}

func eventKey(event *DocumentEvent) string {
	if event.DocID != nil {
		return strconv.FormatInt(*event.DocID, 10)
	}
	return event.SourcePath
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func (p *Producer) OnIndexed(_ context.Context, result *knowledge.IndexResult, elapsed time.Duration) {
	docID := result.DocID
	p.publishQuietly(&DocumentEvent{
		Type:       EventIndexed,
		DocID:      &docID,
		OwnerID:    result.OwnerID,
		SourcePath: result.SourcePath,
		Section:    result.Section,
		Chunks:     len(result.ChunkIDs),
		ElapsedMS:  elapsed.Milliseconds(),
	})
}

func (p *Producer) OnIndexFailed(_ context.Context, path string, err error) {
	p.publishQuietly(&DocumentEvent{
		Type:       EventIndexFailed,
		SourcePath: path,
		Error:      err.Error(),
	})
}

func (p *Producer) OnRemoved(_ context.Context, filter knowledge.DeleteFilter, deleted int64) {
	event := &DocumentEvent{
		Type:    EventRemoved,
		DocID:   filter.DocID,
		OwnerID: filter.OwnerID,
		Deleted: deleted,
	}
	if filter.SourcePath != nil {
		event.SourcePath = *filter.SourcePath
	}
	p.publishQuietly(event)
}

// publishQuietly 事件发送失败不影响索引流程
func (p *Producer) publishQuietly(event *DocumentEvent) {
	if err := p.Publish(event); err != nil {
		logger.Warn("文档事件发送失败", zap.String("type", event.Type), zap.Error(err))
	}
}
