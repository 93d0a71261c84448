package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
)

func decodeEvent(t *testing.T, msg *sarama.ProducerMessage) DocumentEvent {
	t.Helper()
	raw, err := msg.Value.Encode()
	require.NoError(t, err)
	var event DocumentEvent
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

func TestProducer_OnIndexedPublishesEvent(t *testing.T) {
	sp := mocks.NewSyncProducer(t, NewProducerConfig())
	p := NewProducerWith(sp, "docqa.document-events")
	p.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

	var got DocumentEvent
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		assert.Equal(t, "42", string(key))
		assert.Equal(t, "docqa.document-events", msg.Topic)
		assert.Equal(t, []byte("event_type"), msg.Headers[0].Key)
		assert.Equal(t, []byte(EventIndexed), msg.Headers[0].Value)
		got = decodeEvent(t, msg)
		return nil
	})

	p.OnIndexed(context.Background(), &knowledge.IndexResult{
		DocID:      42,
		ChunkIDs:   []int64{1, 2, 3},
		SourcePath: "/docs/a.md",
		Section:    "hr",
		OwnerID:    knowledge.Int64Ptr(7),
	}, 1500*time.Millisecond)
	require.NoError(t, p.Close())

	assert.Equal(t, EventIndexed, got.Type)
	assert.NotEmpty(t, got.EventID)
	require.NotNil(t, got.DocID)
	assert.Equal(t, int64(42), *got.DocID)
	require.NotNil(t, got.OwnerID)
	assert.Equal(t, int64(7), *got.OwnerID)
	assert.Equal(t, 3, got.Chunks)
	assert.Equal(t, int64(1500), got.ElapsedMS)
	assert.True(t, got.Timestamp.Equal(p.now()))
}

func TestProducer_RemovedAndFailedEvents(t *testing.T) {
	sp := mocks.NewSyncProducer(t, NewProducerConfig())
	p := NewProducerWith(sp, "events")

	var events []DocumentEvent
	collect := func(msg *sarama.ProducerMessage) error {
		events = append(events, decodeEvent(t, msg))
		return nil
	}
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(collect)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(collect)

	p.OnRemoved(context.Background(), knowledge.DeleteFilter{SourcePath: knowledge.StringPtr("/docs/b.md")}, 4)
	p.OnIndexFailed(context.Background(), "/docs/c.pdf", errors.New("broken pdf"))
	require.NoError(t, p.Close())

	require.Len(t, events, 2)
	assert.Equal(t, EventRemoved, events[0].Type)
	assert.Nil(t, events[0].DocID)
	assert.Equal(t, "/docs/b.md", events[0].SourcePath)
	assert.Equal(t, int64(4), events[0].Deleted)
	assert.Equal(t, EventIndexFailed, events[1].Type)
	assert.Equal(t, "broken pdf", events[1].Error)
	assert.NotEqual(t, events[0].EventID, events[1].EventID)
}

func TestProducer_PublishError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, NewProducerConfig())
	p := NewProducerWith(sp, "events")
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := p.Publish(&DocumentEvent{Type: EventIndexed})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())

	var nilProducer *Producer
	assert.Error(t, nilProducer.Publish(&DocumentEvent{}))
	assert.NoError(t, nilProducer.Close())
}

func TestParseIndexJob(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		code    apperrors.ErrorCode
		check   func(t *testing.T, job *IndexJob)
	}{
		{
			name:    "index defaults section",
			payload: `{"action":"index","path":"/docs/a.md","owner_id":3}`,
			check: func(t *testing.T, job *IndexJob) {
				assert.Equal(t, "default", job.Section)
				require.NotNil(t, job.OwnerID)
				assert.Equal(t, int64(3), *job.OwnerID)
			},
		},
		{
			name:    "folder recursive",
			payload: `{"action":"index_folder","path":"/docs","section":"hr","recursive":true}`,
			check: func(t *testing.T, job *IndexJob) {
				assert.True(t, job.Recursive)
				assert.Equal(t, "hr", job.Section)
			},
		},
		{name: "remove by source", payload: `{"action":"remove","source_path":"/docs/a.md"}`},
		{name: "remove without identifier", payload: `{"action":"remove","owner_id":1}`, code: apperrors.ErrCodeValidationFailed},
		{name: "index without path", payload: `{"action":"index"}`, code: apperrors.ErrCodeInvalidInput},
		{name: "unknown action", payload: `{"action":"reindex"}`, code: apperrors.ErrCodeInvalidInput},
		{name: "malformed", payload: `{`, code: apperrors.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := ParseIndexJob([]byte(tt.payload))
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, tt.code))
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, job)
			}
		})
	}
}

type indexCall struct {
	action    string
	path      string
	section   string
	recursive bool
	ownerID   *int64
	filter    knowledge.DeleteFilter
}

type fakeIndexer struct {
	mu    sync.Mutex
	calls []indexCall
	err   error
}

func (f *fakeIndexer) record(c indexCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeIndexer) IndexFile(_ context.Context, path, section string, ownerID *int64) (*knowledge.IndexResult, error) {
	if err := f.record(indexCall{action: ActionIndex, path: path, section: section, ownerID: ownerID}); err != nil {
		return nil, err
	}
	return &knowledge.IndexResult{SourcePath: path}, nil
}

func (f *fakeIndexer) IndexFolder(_ context.Context, folder, section string, recursive bool, ownerID *int64) (*knowledge.BatchReport, error) {
	if err := f.record(indexCall{action: ActionIndexFolder, path: folder, section: section, recursive: recursive, ownerID: ownerID}); err != nil {
		return nil, err
	}
	return &knowledge.BatchReport{Folder: folder}, nil
}

func (f *fakeIndexer) RemoveDocument(_ context.Context, filter knowledge.DeleteFilter) (int64, error) {
	if err := f.record(indexCall{action: ActionRemove, filter: filter}); err != nil {
		return 0, err
	}
	return 1, nil
}

func jobMessage(payload string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "jobs", Value: []byte(payload)}
}

func TestJobHandler_Dispatch(t *testing.T) {
	indexer := &fakeIndexer{}
	h := NewJobHandler(indexer)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, jobMessage(`{"action":"index","path":"/docs/a.md","section":"hr","owner_id":7}`)))
	require.NoError(t, h.Handle(ctx, jobMessage(`{"action":"index_folder","path":"/docs","recursive":true}`)))
	require.NoError(t, h.Handle(ctx, jobMessage(`{"action":"remove","doc_id":5,"source_path":"/docs/a.md"}`)))

	require.Len(t, indexer.calls, 3)
	assert.Equal(t, "/docs/a.md", indexer.calls[0].path)
	assert.Equal(t, "hr", indexer.calls[0].section)
	assert.Equal(t, int64(7), *indexer.calls[0].ownerID)
	assert.True(t, indexer.calls[1].recursive)
	assert.Equal(t, "default", indexer.calls[1].section)
	assert.Equal(t, int64(5), *indexer.calls[2].filter.DocID)
	assert.Equal(t, "/docs/a.md", *indexer.calls[2].filter.SourcePath)
	assert.Nil(t, indexer.calls[2].filter.OwnerID)
}

func TestJobHandler_ErrorClassification(t *testing.T) {
	ctx := context.Background()

	// 无效任务直接确认
	h := NewJobHandler(&fakeIndexer{})
	assert.NoError(t, h.Handle(ctx, jobMessage(`not json`)))

	notFound := &fakeIndexer{err: apperrors.NewNotFoundError("file /docs/gone.md")}
	assert.NoError(t, NewJobHandler(notFound).Handle(ctx, jobMessage(`{"action":"index","path":"/docs/gone.md"}`)))

	unavailable := &fakeIndexer{err: apperrors.NewExternalError(apperrors.ErrCodeVectorStore, "milvus unavailable", errors.New("dial"))}
	assert.Error(t, NewJobHandler(unavailable).Handle(ctx, jobMessage(`{"action":"index","path":"/docs/a.md"}`)))

	plain := &fakeIndexer{err: errors.New("boom")}
	assert.Error(t, NewJobHandler(plain).Handle(ctx, jobMessage(`{"action":"remove","doc_id":1}`)))
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "jobs" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumerGroupHandler_MarksHandledMessages(t *testing.T) {
	handlers := map[string]MessageHandler{
		"jobs": func(_ context.Context, msg *sarama.ConsumerMessage) error {
			if string(msg.Value) == "fail" {
				return errors.New("retry later")
			}
			return nil
		},
	}
	h := &consumerGroupHandler{lookup: func(topic string) (MessageHandler, bool) {
		fn, ok := handlers[topic]
		return fn, ok
	}}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "jobs", Offset: 1, Value: []byte("ok")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "jobs", Offset: 2, Value: []byte("fail")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "other", Offset: 3}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))
	assert.Equal(t, []int64{1, 3}, session.marked)
}

func TestConsumerGroupHandler_StopsOnSessionDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &consumerGroupHandler{lookup: func(string) (MessageHandler, bool) { return nil, false }}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	assert.NoError(t, h.ConsumeClaim(&fakeSession{ctx: ctx}, claim))
}
