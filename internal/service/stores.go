package service

import (
	"context"
	"time"

	"prodtrack/internal/model"
	"prodtrack/internal/repository"
)

// 服务层只依赖这些窄接口；pgx 仓库实现它们，测试用内存实现。
// 所有状态转换方法都是条件更新：守卫条件不满足时返回 InvalidStateError 或 false。

type ProposalStore interface {
	Insert(ctx context.Context, p *model.Proposal) (int64, error)
	Get(ctx context.Context, id int64) (*model.Proposal, error)
	AddDecision(ctx context.Context, d *model.Decision) error
	IncrementApproved(ctx context.Context, id int64) (*model.Proposal, error)
	MarkRejected(ctx context.Context, id, rejectedBy int64, comment string, at time.Time) error
	ClaimPromotion(ctx context.Context, id int64) (bool, error)
	ReleasePromotion(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	ListPending(ctx context.Context) ([]model.Proposal, error)
	ListDecisions(ctx context.Context, proposalID int64) ([]model.Decision, error)
}

type ProjectStore interface {
	InsertWithStages(ctx context.Context, p *model.Project, firstStageStart time.Time) (int64, error)
	Get(ctx context.Context, id int64) (*model.Project, error)
	GetStage(ctx context.Context, projectID int64, stage string) (*model.StageRecord, error)
	GetStages(ctx context.Context, projectID int64) ([]model.StageRecord, error)
	ScheduleTimelines(ctx context.Context, projectID int64, plans map[string]int, firstStart time.Time) error
	CompleteStage(ctx context.Context, projectID int64, stage string, completedBy int64, completedAt time.Time, actualDays int, timeliness string) (bool, error)
	StartStage(ctx context.Context, projectID int64, stage string, at time.Time) error
	MarkArchived(ctx context.Context, projectID int64) error
}

type ArtifactStore interface {
	AppendDirect(ctx context.Context, projectID int64, stage string, uploaderID int64, at time.Time, inputs []repository.ArtifactInput) error
	OpenSubmission(ctx context.Context, projectID int64, stage string, contributorID int64) (int64, error)
	GetSubmission(ctx context.Context, projectID int64, stage string, contributorID int64) (*model.Submission, error)
	AppendToSubmission(ctx context.Context, submissionID, projectID int64, stage string, contributorID int64, at time.Time, inputs []repository.ArtifactInput) error
	ListByStage(ctx context.Context, projectID int64, stage string) ([]model.Artifact, error)
	ListUnintegrated(ctx context.Context, submissionID int64) ([]model.Artifact, error)
	MarkIntegrated(ctx context.Context, ids []int64, leadID int64, at time.Time) (int, error)
	CountUnintegrated(ctx context.Context, projectID int64, stage string) (int, error)
	GetArtifact(ctx context.Context, id int64) (*model.Artifact, error)
	DeleteUnintegrated(ctx context.Context, id, uploaderID int64) (bool, error)
}

type UserDirectory interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	ListActiveByRole(ctx context.Context, role string) ([]model.User, error)
	ListLeadsForRole(ctx context.Context, role string) ([]model.User, error)
	CountActiveApprovers(ctx context.Context) (int, error)
}

type NotificationStore interface {
	Insert(ctx context.Context, n *model.Notification) (int64, error)
}

// EventPublisher 事件发布边界：mq.Publisher 直连，或 OutboxPublisher 走事务外收件箱
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}
