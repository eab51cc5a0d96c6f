package model

import "time"

// 立项申请状态
const (
	ProposalStatusPending   = "pending"
	ProposalStatusPromoting = "promoting" // 达到法定票数后的短暂占位状态，保证只晋升一次
	ProposalStatusRejected  = "rejected"
)

// 申请类型
const (
	ProposalKindResearch = "research"
	ProposalKindContract = "contract"
)

// 审批决定
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Proposal 立项申请：晋升为 Project 前的项目
type Proposal struct {
	ID            int64      `json:"id"`
	Kind          string     `json:"kind"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Direction     string     `json:"direction,omitempty"` // research 类型必填
	Purpose       string     `json:"purpose,omitempty"`   // research 类型必填
	ContractTerms string     `json:"contract_terms,omitempty"`
	Budget        float64    `json:"budget"`
	DurationDays  int        `json:"duration_days"`
	Priority      string     `json:"priority"`
	RequesterID   int64      `json:"requester_id"`
	Status        string     `json:"status"`
	ApprovedCount int        `json:"approved_count"`
	RejectedCount int        `json:"rejected_count"`
	CreatedAt     time.Time  `json:"created_at"`
	RejectedBy    *int64     `json:"rejected_by,omitempty"`
	RejectedAt    *time.Time `json:"rejected_at,omitempty"`
	RejectComment string     `json:"reject_comment,omitempty"`
}

// Decision 一条审批决定记录
type Decision struct {
	ID         int64     `json:"id"`
	ProposalID int64     `json:"proposal_id"`
	ApproverID int64     `json:"approver_id"`
	Decision   string    `json:"decision"`
	Comment    string    `json:"comment,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Progress 审批进度：requiredCount 在每次决策时按当前在册审批人数动态计算
type Progress struct {
	RequiredCount int `json:"required_count"`
	ApprovedCount int `json:"approved_count"`
	RejectedCount int `json:"rejected_count"`
}

// GateOutcome 单次审批调用的结果
type GateOutcome struct {
	Status    string   `json:"status"` // pending / promoted / rejected
	Progress  Progress `json:"progress"`
	ProjectID int64    `json:"project_id,omitempty"` // 晋升时填充
}
