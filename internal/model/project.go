package model

import (
	"time"
)

// 项目状态
const (
	ProjectStatusActive   = "active"
	ProjectStatusArchived = "archived"
)

// 工期判定
const (
	TimelinessEarly  = "early"
	TimelinessOntime = "ontime"
	TimelinessLate   = "late"
)

// Project 已批准立项、正在走生产阶段的项目
type Project struct {
	ID                int64     `json:"id"`
	OriginalPendingID int64     `json:"original_pending_id"` // 晋升前 Proposal 的 id
	Kind              string    `json:"kind"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Direction         string    `json:"direction,omitempty"`
	Purpose           string    `json:"purpose,omitempty"`
	ContractTerms     string    `json:"contract_terms,omitempty"`
	Budget            float64   `json:"budget"`
	DurationDays      int       `json:"duration_days"`
	Priority          string    `json:"priority"`
	RequesterID       int64     `json:"requester_id"`
	Status            string    `json:"status"`
	ApprovedBy        int64     `json:"approved_by"`
	ApprovedAt        time.Time `json:"approved_at"`
	ApprovalComment   string    `json:"approval_comment,omitempty"`
	Scheduled         bool      `json:"scheduled"`
	CreatedAt         time.Time `json:"created_at"`
}

// StageRecord 单个阶段的状态记录
type StageRecord struct {
	ID                  int64      `json:"id"`
	ProjectID           int64      `json:"project_id"`
	Stage               string     `json:"stage"`
	Completed           bool       `json:"completed"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CompletedBy         *int64     `json:"completed_by,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	PlannedDurationDays int        `json:"planned_duration_days"`
	ActualDurationDays  int        `json:"actual_duration_days"`
	TimelinessStatus    string     `json:"timeliness_status,omitempty"`
}

// ClassifyTimeliness 按计划工期判定实际工期的早/准/晚
func ClassifyTimeliness(actualDays, plannedDays int) string {
	switch {
	case actualDays < plannedDays:
		return TimelinessEarly
	case actualDays == plannedDays:
		return TimelinessOntime
	default:
		return TimelinessLate
	}
}

// ActualDurationDays 按开始/完成时间计算实际工期（按整天向下取整）
func ActualDurationDays(startedAt, completedAt time.Time) int {
	if completedAt.Before(startedAt) {
		return 0
	}
	return int(completedAt.Sub(startedAt).Hours() / 24)
}

// RemainingDays 剩余天数投影：负值表示超期，由调用方呈现，不视为错误
func RemainingDays(plannedDays int, startedAt time.Time, now time.Time) int {
	elapsed := int(now.Sub(startedAt).Hours() / 24)
	return plannedDays - elapsed
}
