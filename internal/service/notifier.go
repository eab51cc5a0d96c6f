package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "prodtrack/contracts/mq"
	"prodtrack/internal/model"
	"prodtrack/pkg/logger"
	"prodtrack/pkg/metrics"
	"prodtrack/pkg/trace"
)

// Notifier 集中式通知扇出：所有"阶段 X 完成 → 通知角色 Y"的分发都走这里，
// 业务代码只提供收件人列表和通知模板。
// 通知写入和事件发布都是尽力而为：失败记入告警，绝不回滚已经成功的状态转换。
type Notifier struct {
	store  NotificationStore
	events EventPublisher
	logger *zap.Logger
}

func NewNotifier(store NotificationStore, events EventPublisher, log *zap.Logger) *Notifier {
	return &Notifier{
		store:  store,
		events: events,
		logger: log,
	}
}

// Fanout 给每个收件人追加一条通知并发布 notification.created 事件。
// 返回的告警列表描述失败的副作用，由调用方附在成功响应上。
func (n *Notifier) Fanout(ctx context.Context, recipients []model.User, tmpl model.Notification) []string {
	log := logger.WithTrace(ctx, n.logger)

	var warnings []string
	for _, u := range recipients {
		note := tmpl
		note.UserID = u.ID

		id, err := n.store.Insert(ctx, &note)
		if err != nil {
			log.Warn("Failed to append notification",
				zap.Int64("user_id", u.ID),
				zap.String("type", note.Type),
				zap.Error(err),
			)
			warnings = append(warnings, fmt.Sprintf("notification to user %d failed: %v", u.ID, err))
			continue
		}

		metrics.IncrementNotificationFanout(note.Type)

		payload := mqcontracts.NotificationCreatedPayload{
			NotificationID: id,
			UserID:         u.ID,
			Type:           note.Type,
			Title:          note.Title,
			Body:           note.Body,
			RequiresAction: note.RequiresAction,
			CreatedAt:      time.Now(),
			TraceID:        trace.FromContext(ctx),
		}
		if note.ProjectID != nil {
			payload.ProjectID = *note.ProjectID
		}

		if err := n.events.PublishWithContext(ctx, mqcontracts.RoutingKeyNotificationCreated, payload); err != nil {
			log.Warn("Failed to publish notification.created",
				zap.Int64("notification_id", id),
				zap.Error(err),
			)
			warnings = append(warnings, fmt.Sprintf("notification event for user %d failed: %v", u.ID, err))
		}
	}

	return warnings
}
