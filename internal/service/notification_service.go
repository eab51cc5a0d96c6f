package service

import (
	"context"
	"time"

	"prodtrack/internal/model"
	"prodtrack/internal/repository"
)

// NotificationService 收件箱读侧：列表、未读数、标记已读。
// 写侧全部经由 Notifier 扇出，这里不提供创建入口。
type NotificationService struct {
	repo *repository.NotificationRepository
	now  func() time.Time
}

func NewNotificationService(repo *repository.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo, now: time.Now}
}

func (s *NotificationService) List(ctx context.Context, userID int64, unreadOnly bool) ([]model.Notification, error) {
	return s.repo.ListForUser(ctx, userID, unreadOnly)
}

func (s *NotificationService) CountUnread(ctx context.Context, userID int64) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead 只有收件人本人能标记；他人或不存在的 id 一律 NotFound
func (s *NotificationService) MarkRead(ctx context.Context, id, userID int64) error {
	return s.repo.MarkRead(ctx, id, userID, s.now())
}
