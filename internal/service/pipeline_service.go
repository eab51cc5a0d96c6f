package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "prodtrack/contracts/mq"
	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
	"prodtrack/internal/repository"
	"prodtrack/pkg/logger"
	"prodtrack/pkg/metrics"
	"prodtrack/pkg/rbac"
	"prodtrack/pkg/trace"
)

// PipelineService 生产流水线状态机。十一个阶段全部由 model 里的阶段表驱动，
// 推进逻辑只有一套，不存在按阶段展开的分支。
type PipelineService struct {
	projects  ProjectStore
	artifacts ArtifactStore
	users     UserDirectory
	notifier  *Notifier
	events    EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewPipelineService(
	projects ProjectStore,
	artifacts ArtifactStore,
	users UserDirectory,
	notifier *Notifier,
	events EventPublisher,
	log *zap.Logger,
) *PipelineService {
	return &PipelineService{
		projects:  projects,
		artifacts: artifacts,
		users:     users,
		notifier:  notifier,
		events:    events,
		logger:    log,
		now:       time.Now,
	}
}

// ScheduleTimelines 为项目的全部阶段一次性设定计划工期。
// 只有审批角色的 primary lead 或管理员可以排期，且每个项目只能排一次。
func (s *PipelineService) ScheduleTimelines(ctx context.Context, projectID, actorID int64, plans map[string]int) error {
	log := logger.WithTrace(ctx, s.logger)

	actor, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.IsLeadFor(rbac.RoleApprover) && !rbac.IsAdmin(actor.Roles) {
		return apperr.NewPermission(actorID, "schedule project timelines")
	}

	if _, err := s.projects.Get(ctx, projectID); err != nil {
		return err
	}

	// 计划必须覆盖全部阶段且工期为正
	for _, st := range model.Stages() {
		days, ok := plans[st.Name]
		if !ok {
			return apperr.NewValidation("plans", fmt.Sprintf("missing planned duration for stage %s", st.Name))
		}
		if days <= 0 {
			return apperr.NewValidation("plans", fmt.Sprintf("planned duration for stage %s must be positive", st.Name))
		}
	}
	for name := range plans {
		if _, ok := model.StageByName(name); !ok {
			return apperr.NewValidation("plans", fmt.Sprintf("unknown stage %s", name))
		}
	}

	if err := s.projects.ScheduleTimelines(ctx, projectID, plans, s.now()); err != nil {
		return err
	}

	log.Info("Project timelines scheduled",
		zap.Int64("project_id", projectID),
		zap.Int64("scheduled_by", actorID),
	)
	return nil
}

// CompleteStage 完成一个阶段：校验顺序与角色，条件更新防重放，计算工期判定，
// 随附直传制品，然后开启下一阶段并向其负责角色扇出通知。
// 终点阶段完成时归档整个项目。
// 状态转换成功后，任何副作用失败都只记入返回的告警，绝不回滚。
func (s *PipelineService) CompleteStage(ctx context.Context, projectID int64, stageName string, actorID int64, inputs []repository.ArtifactInput) (*model.StageRecord, []string, error) {
	log := logger.WithTrace(ctx, s.logger)

	stage, ok := model.StageByName(stageName)
	if !ok {
		return nil, nil, apperr.NewValidation("stage", fmt.Sprintf("unknown stage %s", stageName))
	}

	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if project.Status == model.ProjectStatusArchived {
		return nil, nil, apperr.NewInvalidState("project", "project is archived")
	}

	rec, err := s.projects.GetStage(ctx, projectID, stageName)
	if err != nil {
		return nil, nil, err
	}
	if rec.Completed {
		return nil, nil, apperr.NewInvalidState("stage", fmt.Sprintf("stage %s is already completed", stageName))
	}

	// 顺序守卫：前驱必须已完成。完成状态只会向前推进，读-判-写在这里是安全的,
	// 重复完成本身由 completed=FALSE 的条件更新兜底。
	if prev, hasPrev := model.PrevStage(stageName); hasPrev {
		prevRec, err := s.projects.GetStage(ctx, projectID, prev.Name)
		if err != nil {
			return nil, nil, err
		}
		if !prevRec.Completed {
			return nil, nil, apperr.NewInvalidState("stage", fmt.Sprintf("stage %s requires %s to be completed first", stageName, prev.Name))
		}
	}

	actor, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.HasRole(stage.Role) && !rbac.IsAdmin(actor.Roles) {
		return nil, nil, apperr.NewPermission(actorID, fmt.Sprintf("complete stage %s", stageName))
	}

	var warnings []string

	// 未并入的团队上传只是软告警，不阻塞完成
	if stage.TeamUpload {
		pending, err := s.artifacts.CountUnintegrated(ctx, projectID, stageName)
		if err != nil {
			log.Warn("Failed to count unintegrated submissions", zap.Error(err))
		} else if pending > 0 {
			warnings = append(warnings, fmt.Sprintf("%d unintegrated team upload(s) remain for stage %s", pending, stageName))
		}
	}

	now := s.now()
	startedAt := now
	if rec.StartedAt != nil {
		startedAt = *rec.StartedAt
	}
	actualDays := model.ActualDurationDays(startedAt, now)
	timeliness := model.ClassifyTimeliness(actualDays, rec.PlannedDurationDays)

	done, err := s.projects.CompleteStage(ctx, projectID, stageName, actorID, now, actualDays, timeliness)
	if err != nil {
		return nil, nil, err
	}
	if !done {
		return nil, nil, apperr.NewInvalidState("stage", fmt.Sprintf("stage %s was completed concurrently", stageName))
	}

	metrics.IncrementStageCompletion(stageName, timeliness)
	log.Info("Stage completed",
		zap.Int64("project_id", projectID),
		zap.String("stage", stageName),
		zap.Int64("completed_by", actorID),
		zap.String("timeliness", timeliness),
	)

	if len(inputs) > 0 {
		if err := s.artifacts.AppendDirect(ctx, projectID, stageName, actorID, now, inputs); err != nil {
			log.Warn("Failed to append completion artifacts", zap.Error(err))
			warnings = append(warnings, "completion artifacts could not be recorded")
		}
	}

	next, hasNext := model.NextStage(stageName)
	if hasNext {
		warnings = append(warnings, s.openNextStage(ctx, project, next, now)...)
	} else {
		warnings = append(warnings, s.archive(ctx, project, now)...)
	}

	payload := mqcontracts.StageCompletedPayload{
		ProjectID:   projectID,
		Stage:       stageName,
		CompletedBy: actorID,
		CompletedAt: now,
		Timeliness:  timeliness,
		TraceID:     trace.FromContext(ctx),
	}
	if hasNext {
		payload.NextStage = next.Name
	}
	if err := s.events.PublishWithContext(ctx, mqcontracts.RoutingKeyStageCompleted, payload); err != nil {
		log.Warn("Failed to publish stage.completed", zap.Error(err))
		warnings = append(warnings, "stage.completed event failed")
	}

	rec.Completed = true
	rec.CompletedAt = &now
	rec.CompletedBy = &actorID
	if rec.StartedAt == nil {
		rec.StartedAt = &startedAt
	}
	rec.ActualDurationDays = actualDays
	rec.TimelinessStatus = timeliness
	return rec, warnings, nil
}

// openNextStage 把下一阶段的开始时间盖在当前时刻，并只通知下一阶段的负责角色
func (s *PipelineService) openNextStage(ctx context.Context, project *model.Project, next model.StageInfo, now time.Time) []string {
	log := logger.WithTrace(ctx, s.logger)

	var warnings []string
	if err := s.projects.StartStage(ctx, project.ID, next.Name, now); err != nil {
		log.Warn("Failed to open next stage",
			zap.Int64("project_id", project.ID),
			zap.String("stage", next.Name),
			zap.Error(err),
		)
		warnings = append(warnings, fmt.Sprintf("failed to open stage %s", next.Name))
	}

	recipients, err := s.users.ListActiveByRole(ctx, next.Role)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("notification to role %s failed", next.Role))
		return warnings
	}
	warnings = append(warnings, s.notifier.Fanout(ctx, recipients, model.Notification{
		Type:           model.NotificationStageReady,
		Title:          fmt.Sprintf("项目「%s」进入%s阶段", project.Name, next.Title),
		Body:           project.Name,
		ProjectID:      &project.ID,
		RequiresAction: true,
	})...)
	return warnings
}

// archive 终点阶段完成后归档项目并通知全部管理员
func (s *PipelineService) archive(ctx context.Context, project *model.Project, now time.Time) []string {
	log := logger.WithTrace(ctx, s.logger)

	var warnings []string
	if err := s.projects.MarkArchived(ctx, project.ID); err != nil {
		log.Warn("Failed to archive project",
			zap.Int64("project_id", project.ID),
			zap.Error(err),
		)
		warnings = append(warnings, "project archive flag could not be set")
	} else {
		log.Info("Project archived", zap.Int64("project_id", project.ID))
	}

	admins, err := s.users.ListActiveByRole(ctx, rbac.RoleAdmin)
	if err != nil {
		warnings = append(warnings, "admin notification failed")
	} else {
		warnings = append(warnings, s.notifier.Fanout(ctx, admins, model.Notification{
			Type:      model.NotificationArchiveReady,
			Title:     fmt.Sprintf("项目「%s」已完成全部阶段并归档", project.Name),
			Body:      project.Name,
			ProjectID: &project.ID,
		})...)
	}

	if err := s.events.PublishWithContext(ctx, mqcontracts.RoutingKeyProjectArchived, mqcontracts.ProjectArchivedPayload{
		ProjectID:  project.ID,
		ArchivedAt: now,
		TraceID:    trace.FromContext(ctx),
	}); err != nil {
		warnings = append(warnings, "project.archived event failed")
	}
	return warnings
}

// StageView 阶段记录加剩余天数投影
type StageView struct {
	model.StageRecord
	RemainingDays *int `json:"remaining_days,omitempty"`
}

// ProjectStages 返回项目全部阶段，进行中且已排期的阶段附带剩余天数。
// 剩余天数为负表示超期，由展示层呈现，引擎不做自动动作。
func (s *PipelineService) ProjectStages(ctx context.Context, projectID int64) ([]StageView, error) {
	recs, err := s.projects.GetStages(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]StageView, 0, len(recs))
	for _, rec := range recs {
		v := StageView{StageRecord: rec}
		if !rec.Completed && rec.StartedAt != nil && rec.PlannedDurationDays > 0 {
			remaining := model.RemainingDays(rec.PlannedDurationDays, *rec.StartedAt, now)
			v.RemainingDays = &remaining
		}
		views = append(views, v)
	}
	return views, nil
}

// AmendStageArtifacts 往已完成的阶段补充制品。只修正清单，
// 不触发任何通知或事件，也不改变阶段状态。
func (s *PipelineService) AmendStageArtifacts(ctx context.Context, projectID int64, stageName string, actorID int64, inputs []repository.ArtifactInput) error {
	log := logger.WithTrace(ctx, s.logger)

	if _, ok := model.StageByName(stageName); !ok {
		return apperr.NewValidation("stage", fmt.Sprintf("unknown stage %s", stageName))
	}
	if len(inputs) == 0 {
		return apperr.NewValidation("artifacts", "must not be empty")
	}

	rec, err := s.projects.GetStage(ctx, projectID, stageName)
	if err != nil {
		return err
	}
	if !rec.Completed {
		return apperr.NewInvalidState("stage", "artifacts can only be amended on a completed stage")
	}

	actor, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !rbac.IsAdmin(actor.Roles) && (rec.CompletedBy == nil || *rec.CompletedBy != actorID) {
		return apperr.NewPermission(actorID, fmt.Sprintf("amend artifacts of stage %s", stageName))
	}

	if err := s.artifacts.AppendDirect(ctx, projectID, stageName, actorID, s.now(), inputs); err != nil {
		return err
	}

	log.Info("Stage artifacts amended",
		zap.Int64("project_id", projectID),
		zap.String("stage", stageName),
		zap.Int64("amended_by", actorID),
		zap.Int("count", len(inputs)),
	)
	return nil
}
