package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	mqcontracts "prodtrack/contracts/mq"
	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
	"prodtrack/pkg/logger"
	"prodtrack/pkg/metrics"
	"prodtrack/pkg/rbac"
	"prodtrack/pkg/trace"
)

// ApprovalService 审批闸门：把 Proposal 晋升为 Project，或在一票否决时终结它。
type ApprovalService struct {
	proposals ProposalStore
	projects  ProjectStore
	users     UserDirectory
	notifier  *Notifier
	events    EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewApprovalService(
	proposals ProposalStore,
	projects ProjectStore,
	users UserDirectory,
	notifier *Notifier,
	events EventPublisher,
	log *zap.Logger,
) *ApprovalService {
	return &ApprovalService{
		proposals: proposals,
		projects:  projects,
		users:     users,
		notifier:  notifier,
		events:    events,
		logger:    log,
		now:       time.Now,
	}
}

// ListPending 返回所有待审批的申请
func (s *ApprovalService) ListPending(ctx context.Context) ([]model.Proposal, error) {
	return s.proposals.ListPending(ctx)
}

// ListDecisions 返回某个申请已收到的全部审批决定
func (s *ApprovalService) ListDecisions(ctx context.Context, proposalID int64) ([]model.Decision, error) {
	if _, err := s.proposals.Get(ctx, proposalID); err != nil {
		return nil, err
	}
	return s.proposals.ListDecisions(ctx, proposalID)
}

// LookupResult 跨集合查找结果：同一个 id 空间下，实体要么还是申请，要么已是项目
type LookupResult struct {
	Proposal *model.Proposal `json:"proposal,omitempty"`
	Project  *model.Project  `json:"project,omitempty"`
}

// Lookup 先查申请集合，再查项目集合。两边都没有才返回 NotFound。
func (s *ApprovalService) Lookup(ctx context.Context, id int64) (*LookupResult, error) {
	p, err := s.proposals.Get(ctx, id)
	if err == nil {
		return &LookupResult{Proposal: p}, nil
	}
	var nf *apperr.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}

	proj, err := s.projects.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LookupResult{Project: proj}, nil
}

// SubmitProposalInput 立项申请的输入字段
type SubmitProposalInput struct {
	Kind          string  `json:"kind"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Direction     string  `json:"direction"`
	Purpose       string  `json:"purpose"`
	ContractTerms string  `json:"contract_terms"`
	Budget        float64 `json:"budget"`
	DurationDays  int     `json:"duration_days"`
	Priority      string  `json:"priority"`
}

// SubmitProposal 创建待审批的立项申请，并通知除申请人外的全部在册审批人
func (s *ApprovalService) SubmitProposal(ctx context.Context, requesterID int64, in SubmitProposalInput) (int64, []string, error) {
	log := logger.WithTrace(ctx, s.logger)

	if in.Name == "" {
		return 0, nil, apperr.NewValidation("name", "must not be empty")
	}
	if in.Description == "" {
		return 0, nil, apperr.NewValidation("description", "must not be empty")
	}
	if in.Kind != model.ProposalKindResearch && in.Kind != model.ProposalKindContract {
		return 0, nil, apperr.NewValidation("kind", "must be research or contract")
	}
	if in.Kind == model.ProposalKindResearch {
		if in.Direction == "" {
			return 0, nil, apperr.NewValidation("direction", "required for research proposals")
		}
		if in.Purpose == "" {
			return 0, nil, apperr.NewValidation("purpose", "required for research proposals")
		}
	}

	p := &model.Proposal{
		Kind:          in.Kind,
		Name:          in.Name,
		Description:   in.Description,
		Direction:     in.Direction,
		Purpose:       in.Purpose,
		ContractTerms: in.ContractTerms,
		Budget:        in.Budget,
		DurationDays:  in.DurationDays,
		Priority:      in.Priority,
		RequesterID:   requesterID,
		Status:        model.ProposalStatusPending,
	}

	id, err := s.proposals.Insert(ctx, p)
	if err != nil {
		return 0, nil, err
	}

	log.Info("Proposal submitted",
		zap.Int64("proposal_id", id),
		zap.String("kind", in.Kind),
		zap.Int64("requester_id", requesterID),
	)

	// 申请人自己不收审批通知
	approvers, err := s.users.ListActiveByRole(ctx, rbac.RoleApprover)
	var warnings []string
	if err != nil {
		log.Warn("Failed to list approvers for fanout", zap.Error(err))
		warnings = append(warnings, "approver notification fanout failed")
	} else {
		recipients := approvers[:0:0]
		for _, u := range approvers {
			if u.ID != requesterID {
				recipients = append(recipients, u)
			}
		}
		warnings = append(warnings, s.notifier.Fanout(ctx, recipients, model.Notification{
			Type:           model.NotificationProposalReview,
			Title:          "新立项申请待审批",
			Body:           in.Name,
			SourceUserID:   &requesterID,
			RequiresAction: true,
		})...)
	}

	if err := s.events.PublishWithContext(ctx, mqcontracts.RoutingKeyProposalSubmitted, mqcontracts.ProposalSubmittedPayload{
		ProposalID:  id,
		Kind:        in.Kind,
		Name:        in.Name,
		RequesterID: requesterID,
		TraceID:     trace.FromContext(ctx),
	}); err != nil {
		log.Warn("Failed to publish proposal.submitted", zap.Error(err))
		warnings = append(warnings, "proposal.submitted event failed")
	}

	return id, warnings, nil
}

// Decide 记录一条审批决定并推进闸门。
// 法定票数在每次调用时按当前在册审批人数重新计算：审批人增减会改变仍在
// 审批中的申请的门槛。
func (s *ApprovalService) Decide(ctx context.Context, proposalID, approverID int64, decision, comment string) (*model.GateOutcome, []string, error) {
	log := logger.WithTrace(ctx, s.logger)

	approver, err := s.users.FindByID(ctx, approverID)
	if err != nil {
		return nil, nil, err
	}
	if !approver.Active || !approver.HasRole(rbac.RoleApprover) {
		return nil, nil, apperr.NewPermission(approverID, "decide on proposals")
	}

	p, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != model.ProposalStatusPending {
		return nil, nil, apperr.NewInvalidState("proposal", "decisions are only accepted while pending")
	}

	switch decision {
	case model.DecisionApprove:
	case model.DecisionReject:
		// 否决必须给出理由
		if comment == "" {
			return nil, nil, apperr.NewValidation("comment", "a rejection requires a stated reason")
		}
	default:
		return nil, nil, apperr.NewValidation("decision", "must be approve or reject")
	}

	activeApprovers, err := s.users.CountActiveApprovers(ctx)
	if err != nil {
		return nil, nil, err
	}
	requiredCount := activeApprovers
	if requiredCount < 1 {
		requiredCount = 1
	}

	now := s.now()

	// 先落决定记录：唯一索引挡住同一审批人的重复提交
	if err := s.proposals.AddDecision(ctx, &model.Decision{
		ProposalID: proposalID,
		ApproverID: approverID,
		Decision:   decision,
		Comment:    comment,
		DecidedAt:  now,
	}); err != nil {
		return nil, nil, err
	}

	if decision == model.DecisionReject {
		return s.reject(ctx, p, approverID, comment, requiredCount, now)
	}

	updated, err := s.proposals.IncrementApproved(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}

	progress := model.Progress{
		RequiredCount: requiredCount,
		ApprovedCount: updated.ApprovedCount,
		RejectedCount: updated.RejectedCount,
	}

	if updated.ApprovedCount < requiredCount {
		metrics.IncrementGateDecision(decision, "pending")
		log.Info("Proposal approval progressed",
			zap.Int64("proposal_id", proposalID),
			zap.Int("approved", updated.ApprovedCount),
			zap.Int("required", requiredCount),
		)
		return &model.GateOutcome{Status: "pending", Progress: progress}, nil, nil
	}

	// 达到法定票数：抢占晋升权，并发审批下只有一个调用能走到这里
	claimed, err := s.proposals.ClaimPromotion(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if !claimed {
		log.Info("Promotion already claimed by a concurrent decision",
			zap.Int64("proposal_id", proposalID),
		)
		return &model.GateOutcome{Status: "pending", Progress: progress}, nil, nil
	}

	return s.promote(ctx, updated, approverID, comment, progress, now)
}

func (s *ApprovalService) reject(ctx context.Context, p *model.Proposal, approverID int64, comment string, requiredCount int, now time.Time) (*model.GateOutcome, []string, error) {
	log := logger.WithTrace(ctx, s.logger)

	// 一票否决，不可逆
	if err := s.proposals.MarkRejected(ctx, p.ID, approverID, comment, now); err != nil {
		return nil, nil, err
	}

	metrics.IncrementGateDecision(model.DecisionReject, "rejected")
	log.Info("Proposal rejected",
		zap.Int64("proposal_id", p.ID),
		zap.Int64("rejected_by", approverID),
	)

	var warnings []string
	requester, err := s.users.FindByID(ctx, p.RequesterID)
	if err != nil {
		warnings = append(warnings, "requester notification failed")
	} else {
		warnings = append(warnings, s.notifier.Fanout(ctx, []model.User{*requester}, model.Notification{
			Type:         model.NotificationProposalReview,
			Title:        "立项申请被否决",
			Body:         comment,
			SourceUserID: &approverID,
		})...)
	}

	if err := s.events.PublishWithContext(ctx, mqcontracts.RoutingKeyProposalRejected, mqcontracts.ProposalRejectedPayload{
		ProposalID: p.ID,
		RejectedBy: approverID,
		Comment:    comment,
		RejectedAt: now,
		TraceID:    trace.FromContext(ctx),
	}); err != nil {
		warnings = append(warnings, "proposal.rejected event failed")
	}

	return &model.GateOutcome{
		Status: "rejected",
		Progress: model.Progress{
			RequiredCount: requiredCount,
			ApprovedCount: p.ApprovedCount,
			RejectedCount: p.RejectedCount + 1,
		},
	}, warnings, nil
}

// promote 晋升：用申请字段构造项目、盖晋升章、删除申请、开启第一阶段，
// 并通知审批角色的 primary lead 新项目需要排期。
func (s *ApprovalService) promote(ctx context.Context, p *model.Proposal, approverID int64, comment string, progress model.Progress, now time.Time) (*model.GateOutcome, []string, error) {
	log := logger.WithTrace(ctx, s.logger)

	project := &model.Project{
		OriginalPendingID: p.ID,
		Kind:              p.Kind,
		Name:              p.Name,
		Description:       p.Description,
		Direction:         p.Direction,
		Purpose:           p.Purpose,
		ContractTerms:     p.ContractTerms,
		Budget:            p.Budget,
		DurationDays:      p.DurationDays,
		Priority:          p.Priority,
		RequesterID:       p.RequesterID,
		Status:            model.ProjectStatusActive,
		ApprovedBy:        approverID,
		ApprovedAt:        now,
		ApprovalComment:   comment,
	}

	projectID, err := s.projects.InsertWithStages(ctx, project, now)
	if err != nil {
		// 项目落库失败：释放晋升占位，后续审批可以重新触发晋升
		if relErr := s.proposals.ReleasePromotion(ctx, p.ID); relErr != nil {
			log.Error("Failed to release promotion claim after project insert failure",
				zap.Int64("proposal_id", p.ID),
				zap.Error(relErr),
			)
		}
		return nil, nil, err
	}

	if err := s.proposals.Delete(ctx, p.ID); err != nil {
		// 项目已存在，申请删除失败只告警：晋升占位状态保证它不会再被审批
		log.Warn("Failed to delete promoted proposal",
			zap.Int64("proposal_id", p.ID),
			zap.Error(err),
		)
	}

	metrics.IncrementGateDecision(model.DecisionApprove, "promoted")
	log.Info("Proposal promoted to project",
		zap.Int64("proposal_id", p.ID),
		zap.Int64("project_id", projectID),
	)

	var warnings []string
	leads, err := s.users.ListLeadsForRole(ctx, rbac.RoleApprover)
	if err != nil {
		warnings = append(warnings, "schedule-owner notification failed")
	} else {
		warnings = append(warnings, s.notifier.Fanout(ctx, leads, model.Notification{
			Type:           model.NotificationProjectCreated,
			Title:          "新项目立项通过，待排期",
			Body:           p.Name,
			ProjectID:      &projectID,
			SourceUserID:   &approverID,
			RequiresAction: true,
		})...)
	}

	if err := s.events.PublishWithContext(ctx, mqcontracts.RoutingKeyProjectCreated, mqcontracts.ProjectCreatedPayload{
		ProjectID:         projectID,
		OriginalPendingID: p.ID,
		Name:              p.Name,
		Kind:              p.Kind,
		ApprovedBy:        approverID,
		ApprovedAt:        now,
		TraceID:           trace.FromContext(ctx),
	}); err != nil {
		warnings = append(warnings, "project.created event failed")
	}

	return &model.GateOutcome{
		Status:    "promoted",
		Progress:  progress,
		ProjectID: projectID,
	}, warnings, nil
}
