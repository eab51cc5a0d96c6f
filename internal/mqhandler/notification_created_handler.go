package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	mqcontracts "prodtrack/contracts/mq"
	"prodtrack/pkg/util"
)

const notificationHandlerName = "notification_created"

// 投递通道。目前只有站内信落库，邮件/IM 网关接入后在这里扩展。
const channelInbox = "inbox"

// DeliveryRecorder 投递结果落库，repository.NotificationRepository 实现
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, notificationID int64, channel, status string) error
}

// EventDeduper util.Deduper 实现
type EventDeduper interface {
	AcquireOnce(ctx context.Context, handler string, entityID int64) bool
	Release(ctx context.Context, handler string, entityID int64)
}

// RetryTracker util.RetryCounter 实现
type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// DLQSink mq.Publisher 实现
type DLQSink interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// NotificationCreatedHandler 消费 notification.created 事件并记录投递结果。
// 事件是至少一次投递，用 Redis SetNX 去重；毒消息按重试上限转入死信。
type NotificationCreatedHandler struct {
	repo         DeliveryRecorder
	deduper      EventDeduper
	retryCounter RetryTracker
	dlqPublisher DLQSink
	maxRetries   int64
	logger       *zap.Logger
}

func NewNotificationCreatedHandler(
	repo DeliveryRecorder,
	deduper EventDeduper,
	retryCounter RetryTracker,
	dlqPublisher DLQSink,
	logger *zap.Logger,
) *NotificationCreatedHandler {
	return &NotificationCreatedHandler{
		repo:         repo,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlqPublisher: dlqPublisher,
		maxRetries:   5,
		logger:       logger,
	}
}

func (h *NotificationCreatedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.NotificationCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal NotificationCreatedPayload", zap.Error(err))
		// 结构坏掉的消息重试也不会好，直接进死信
		h.sendToDLQ(raw, err.Error())
		return nil
	}

	if !h.deduper.AcquireOnce(ctx, notificationHandlerName, p.NotificationID) {
		h.logger.Info("Duplicate notification.created event skipped",
			zap.Int64("notification_id", p.NotificationID),
		)
		return nil
	}

	h.logger.Info("Handling notification.created event",
		zap.Int64("notification_id", p.NotificationID),
		zap.Int64("user_id", p.UserID),
		zap.String("type", p.Type),
	)

	if err := h.repo.RecordDelivery(ctx, p.NotificationID, channelInbox, "delivered"); err != nil {
		h.logger.Error("Failed to record delivery", zap.Error(err))
		// 投递没有生效，先释放去重键，requeue 的重试才不会被跳过
		h.deduper.Release(ctx, notificationHandlerName, p.NotificationID)
		return h.retryOrDLQ(ctx, p.NotificationID, raw, err)
	}

	if err := h.retryCounter.Reset(ctx, util.FormatRetryKey(notificationHandlerName, p.NotificationID)); err != nil {
		h.logger.Warn("Failed to reset retry counter", zap.Error(err))
	}
	return nil
}

// retryOrDLQ 可重试错误在上限内 requeue，其余或超限的转死信
func (h *NotificationCreatedHandler) retryOrDLQ(ctx context.Context, notificationID int64, raw json.RawMessage, cause error) error {
	retryable, errType := util.IsRetryableError(cause)

	key := util.FormatRetryKey(notificationHandlerName, notificationID)
	count, err := h.retryCounter.IncrementAndGet(ctx, key)
	if err != nil {
		h.logger.Warn("Failed to increment retry counter", zap.Error(err))
	}

	if util.ShouldRetry(count, h.maxRetries, retryable) {
		h.logger.Warn("Retrying notification.created event",
			zap.Int64("notification_id", notificationID),
			zap.Int64("attempt", count),
			zap.String("error_type", errType),
		)
		return cause
	}

	h.logger.Error("Notification event exhausted retries, sending to DLQ",
		zap.Int64("notification_id", notificationID),
		zap.Int64("attempts", count),
		zap.String("error_type", errType),
	)
	h.sendToDLQ(raw, cause.Error())
	return nil
}

func (h *NotificationCreatedHandler) sendToDLQ(raw json.RawMessage, cause string) {
	if h.dlqPublisher == nil {
		return
	}
	if err := h.dlqPublisher.PublishToDLQ(mqcontracts.RoutingKeyNotificationCreated, raw, cause); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
}
