package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "prodtrack/contracts/mq"
)

type fakeDeliveryRecorder struct {
	failures int
	calls    int
}

func (r *fakeDeliveryRecorder) RecordDelivery(ctx context.Context, notificationID int64, channel, status string) error {
	r.calls++
	if r.failures > 0 {
		r.failures--
		return errors.New("failed to acquire connection from pool")
	}
	return nil
}

type fakeDeduper struct {
	held map[int64]bool
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{held: make(map[int64]bool)}
}

func (d *fakeDeduper) AcquireOnce(ctx context.Context, handler string, entityID int64) bool {
	if d.held[entityID] {
		return false
	}
	d.held[entityID] = true
	return true
}

func (d *fakeDeduper) Release(ctx context.Context, handler string, entityID int64) {
	delete(d.held, entityID)
}

type fakeRetryTracker struct {
	counts map[string]int64
	resets []string
}

func newFakeRetryTracker() *fakeRetryTracker {
	return &fakeRetryTracker{counts: make(map[string]int64)}
}

func (r *fakeRetryTracker) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	r.counts[key]++
	return r.counts[key], nil
}

func (r *fakeRetryTracker) Reset(ctx context.Context, key string) error {
	r.resets = append(r.resets, key)
	return nil
}

type fakeDLQSink struct {
	published [][]byte
	causes    []string
}

func (s *fakeDLQSink) PublishToDLQ(routingKey string, payload []byte, originalError string) error {
	s.published = append(s.published, payload)
	s.causes = append(s.causes, originalError)
	return nil
}

func notificationEvent(t *testing.T, id int64) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mqcontracts.NotificationCreatedPayload{
		NotificationID: id,
		UserID:         7,
		Type:           "stage_ready",
	})
	require.NoError(t, err)
	return raw
}

func TestHandle_RecordsDeliveryOnce(t *testing.T) {
	repo := &fakeDeliveryRecorder{}
	dedup := newFakeDeduper()
	h := NewNotificationCreatedHandler(repo, dedup, newFakeRetryTracker(), &fakeDLQSink{}, zap.NewNop())

	raw := notificationEvent(t, 101)
	require.NoError(t, h.Handle(context.Background(), raw))
	assert.Equal(t, 1, repo.calls)

	// 重复投递被去重键挡住
	require.NoError(t, h.Handle(context.Background(), raw))
	assert.Equal(t, 1, repo.calls)
}

func TestHandle_FailedDeliveryReleasesDedupKey(t *testing.T) {
	repo := &fakeDeliveryRecorder{failures: 1}
	dedup := newFakeDeduper()
	retries := newFakeRetryTracker()
	h := NewNotificationCreatedHandler(repo, dedup, retries, &fakeDLQSink{}, zap.NewNop())

	raw := notificationEvent(t, 102)

	// 落库失败：返回原因触发 requeue，去重键必须已释放
	err := h.Handle(context.Background(), raw)
	require.Error(t, err)
	assert.False(t, dedup.held[102])

	// requeue 后的重试不能被当作重复跳过
	require.NoError(t, h.Handle(context.Background(), raw))
	assert.Equal(t, 2, repo.calls)
	assert.NotEmpty(t, retries.resets)
}

func TestHandle_PoisonMessageGoesToDLQ(t *testing.T) {
	dlq := &fakeDLQSink{}
	h := NewNotificationCreatedHandler(&fakeDeliveryRecorder{}, newFakeDeduper(), newFakeRetryTracker(), dlq, zap.NewNop())

	// 结构坏掉的消息不 requeue，直接进死信
	require.NoError(t, h.Handle(context.Background(), json.RawMessage(`{"notification_id":`)))
	assert.Len(t, dlq.published, 1)
}

func TestHandle_ExhaustedRetriesGoToDLQ(t *testing.T) {
	repo := &fakeDeliveryRecorder{failures: 10}
	dlq := &fakeDLQSink{}
	h := NewNotificationCreatedHandler(repo, newFakeDeduper(), newFakeRetryTracker(), dlq, zap.NewNop())

	raw := notificationEvent(t, 103)
	for i := 0; i < 5; i++ {
		require.Error(t, h.Handle(context.Background(), raw), "attempt %d stays within the retry budget", i+1)
	}

	// 第六次超过重试上限，转死信并吞掉错误
	require.NoError(t, h.Handle(context.Background(), raw))
	assert.Len(t, dlq.published, 1)
}
