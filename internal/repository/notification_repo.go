package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
)

type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

func (r *NotificationRepository) Insert(ctx context.Context, n *model.Notification) (int64, error) {
	r.logger.Debug("Inserting notification",
		zap.Int64("user_id", n.UserID),
		zap.String("type", n.Type),
	)

	query := `
        INSERT INTO notifications
            (type, title, body, user_id, source_user_id, project_id, requires_action)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	var id int64
	err := r.db.QueryRow(ctx, query,
		n.Type,
		n.Title,
		n.Body,
		n.UserID,
		n.SourceUserID,
		n.ProjectID,
		n.RequiresAction,
	).Scan(&id)
	if err != nil {
		r.logger.Error("Failed to insert notification", zap.Error(err))
		return 0, err
	}
	return id, nil
}

// MarkRead 只有收件人本人能标记已读
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID int64, at time.Time) error {
	query := `
        UPDATE notifications SET is_read = TRUE, read_at = $1
        WHERE id = $2 AND user_id = $3 AND is_read = FALSE
    `
	tag, err := r.db.Exec(ctx, query, at, id, userID)
	if err != nil {
		r.logger.Error("Failed to mark notification read", zap.Int64("id", id), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("notification", id)
	}
	return nil
}

func (r *NotificationRepository) ListForUser(ctx context.Context, userID int64, unreadOnly bool) ([]model.Notification, error) {
	query := `
        SELECT id, type, title, body, user_id, source_user_id, project_id,
               requires_action, is_read, read_at, created_at
        FROM notifications
        WHERE user_id = $1 AND ($2 = FALSE OR is_read = FALSE)
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID, unreadOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(
			&n.ID, &n.Type, &n.Title, &n.Body, &n.UserID, &n.SourceUserID, &n.ProjectID,
			&n.RequiresAction, &n.IsRead, &n.ReadAt, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	).Scan(&count)
	return count, err
}

// RecordDelivery 记录一次投递尝试（worker 侧）
func (r *NotificationRepository) RecordDelivery(ctx context.Context, notificationID int64, channel, status string) error {
	query := `
        INSERT INTO notification_deliveries (notification_id, channel, status)
        VALUES ($1, $2, $3)
    `
	_, err := r.db.Exec(ctx, query, notificationID, channel, status)
	if err != nil {
		r.logger.Error("Failed to record delivery",
			zap.Int64("notification_id", notificationID),
			zap.Error(err),
		)
	}
	return err
}
