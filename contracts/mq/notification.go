package mq

import "time"

const (
	RoutingKeyNotificationCreated = "notification.created"
)

type NotificationCreatedPayload struct {
	NotificationID int64     `json:"notification_id"`
	UserID         int64     `json:"user_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	RequiresAction bool      `json:"requires_action"`
	ProjectID      int64     `json:"project_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}
