package model

import "time"

// 通知类型
const (
	NotificationProposalReview = "proposal_review" // 新立项申请待审批
	NotificationProjectCreated = "project_created" // 立项通过，待排期
	NotificationStageReady     = "stage_ready"     // 上一阶段完成，本阶段开始
	NotificationTeamworkReview = "teamwork_review" // 贡献者提交待负责人并入
	NotificationArchiveReady   = "archive_ready"   // 终点阶段完成，可归档
)

// Notification 引擎追加的定向通知记录；投递由外部完成
type Notification struct {
	ID             int64      `json:"id"`
	Type           string     `json:"type"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	UserID         int64      `json:"user_id"`
	SourceUserID   *int64     `json:"source_user_id,omitempty"`
	ProjectID      *int64     `json:"project_id,omitempty"`
	RequiresAction bool       `json:"requires_action"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
