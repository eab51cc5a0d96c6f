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
	"prodtrack/pkg/trace"
)

// TeamworkService 团队上传子协议：组员把制品交到自己的批次里，
// 由该角色的 primary lead 审阅后并入阶段的正式制品清单。
// StorageDeleter 撤回制品时尽力清理外部存储里的文件字节
type StorageDeleter interface {
	Delete(ctx context.Context, key string) error
}

type TeamworkService struct {
	projects  ProjectStore
	artifacts ArtifactStore
	users     UserDirectory
	notifier  *Notifier
	events    EventPublisher
	storage   StorageDeleter
	logger    *zap.Logger
	now       func() time.Time
}

func NewTeamworkService(
	projects ProjectStore,
	artifacts ArtifactStore,
	users UserDirectory,
	notifier *Notifier,
	events EventPublisher,
	log *zap.Logger,
) *TeamworkService {
	return &TeamworkService{
		projects:  projects,
		artifacts: artifacts,
		users:     users,
		notifier:  notifier,
		events:    events,
		logger:    log,
		now:       time.Now,
	}
}

// WithStorage 配置外部存储客户端，撤回时清理已删除制品的文件
func (s *TeamworkService) WithStorage(storage StorageDeleter) *TeamworkService {
	s.storage = storage
	return s
}

// Submit 组员提交一批制品。同一贡献者在同一阶段复用同一个批次，
// 后续提交追加进去。每次提交都会再次提醒 primary lead 审阅。
func (s *TeamworkService) Submit(ctx context.Context, projectID int64, stageName string, contributorID int64, inputs []repository.ArtifactInput) (int64, []string, error) {
	log := logger.WithTrace(ctx, s.logger)

	stage, ok := model.StageByName(stageName)
	if !ok {
		return 0, nil, apperr.NewValidation("stage", fmt.Sprintf("unknown stage %s", stageName))
	}
	if !stage.TeamUpload {
		return 0, nil, apperr.NewValidation("stage", fmt.Sprintf("stage %s does not accept team uploads", stageName))
	}
	if len(inputs) == 0 {
		return 0, nil, apperr.NewValidation("artifacts", "must not be empty")
	}

	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return 0, nil, err
	}
	if project.Status == model.ProjectStatusArchived {
		return 0, nil, apperr.NewInvalidState("project", "project is archived")
	}

	rec, err := s.projects.GetStage(ctx, projectID, stageName)
	if err != nil {
		return 0, nil, err
	}
	// 阶段完成后批次关闭，迟到的制品走阶段补录
	if rec.Completed {
		return 0, nil, apperr.NewInvalidState("stage", fmt.Sprintf("stage %s is completed, submissions are closed", stageName))
	}

	contributor, err := s.users.FindByID(ctx, contributorID)
	if err != nil {
		return 0, nil, err
	}
	if !contributor.HasRole(stage.Role) {
		return 0, nil, apperr.NewPermission(contributorID, fmt.Sprintf("submit team uploads for stage %s", stageName))
	}
	// 负责人不走团队批次，直接在完成阶段时附制品
	if contributor.IsLeadFor(stage.Role) {
		return 0, nil, apperr.NewPermission(contributorID, "submit team uploads as the stage lead")
	}

	now := s.now()
	submissionID, err := s.artifacts.OpenSubmission(ctx, projectID, stageName, contributorID)
	if err != nil {
		return 0, nil, err
	}
	if err := s.artifacts.AppendToSubmission(ctx, submissionID, projectID, stageName, contributorID, now, inputs); err != nil {
		return 0, nil, err
	}

	log.Info("Team upload submitted",
		zap.Int64("project_id", projectID),
		zap.String("stage", stageName),
		zap.Int64("contributor_id", contributorID),
		zap.Int64("submission_id", submissionID),
		zap.Int("count", len(inputs)),
	)

	var warnings []string
	leads, err := s.users.ListLeadsForRole(ctx, stage.Role)
	if err != nil {
		warnings = append(warnings, "lead notification failed")
	} else {
		warnings = append(warnings, s.notifier.Fanout(ctx, leads, model.Notification{
			Type:           model.NotificationTeamworkReview,
			Title:          fmt.Sprintf("项目「%s」%s阶段有新的团队上传待审阅", project.Name, stage.Title),
			Body:           fmt.Sprintf("%d file(s) submitted", len(inputs)),
			ProjectID:      &projectID,
			SourceUserID:   &contributorID,
			RequiresAction: true,
		})...)
	}

	if err := s.events.PublishWithContext(ctx, mqcontracts.RoutingKeyTeamworkSubmitted, mqcontracts.TeamworkSubmittedPayload{
		ProjectID:     projectID,
		Stage:         stageName,
		ContributorID: contributorID,
		SubmissionID:  submissionID,
		ArtifactCount: len(inputs),
		TraceID:       trace.FromContext(ctx),
	}); err != nil {
		warnings = append(warnings, "teamwork.submitted event failed")
	}

	return submissionID, warnings, nil
}

// Integrate 负责人把某个贡献者批次里尚未并入的制品全部并入正式清单。
// 重复调用是幂等的：没有待并入的制品时并入 0 条并正常返回。
func (s *TeamworkService) Integrate(ctx context.Context, projectID int64, stageName string, contributorID, leadID int64) (int, []string, error) {
	log := logger.WithTrace(ctx, s.logger)

	stage, ok := model.StageByName(stageName)
	if !ok {
		return 0, nil, apperr.NewValidation("stage", fmt.Sprintf("unknown stage %s", stageName))
	}

	lead, err := s.users.FindByID(ctx, leadID)
	if err != nil {
		return 0, nil, err
	}
	if !lead.IsLeadFor(stage.Role) {
		return 0, nil, apperr.NewPermission(leadID, fmt.Sprintf("integrate team uploads for stage %s", stageName))
	}

	sub, err := s.artifacts.GetSubmission(ctx, projectID, stageName, contributorID)
	if err != nil {
		return 0, nil, err
	}

	pending, err := s.artifacts.ListUnintegrated(ctx, sub.ID)
	if err != nil {
		return 0, nil, err
	}

	now := s.now()
	integrated := 0
	if len(pending) > 0 {
		ids := make([]int64, 0, len(pending))
		for _, a := range pending {
			ids = append(ids, a.ID)
		}
		integrated, err = s.artifacts.MarkIntegrated(ctx, ids, leadID, now)
		if err != nil {
			return 0, nil, err
		}
	}

	log.Info("Team upload integrated",
		zap.Int64("project_id", projectID),
		zap.String("stage", stageName),
		zap.Int64("contributor_id", contributorID),
		zap.Int64("lead_id", leadID),
		zap.Int("count", integrated),
	)

	var warnings []string
	if integrated > 0 {
		if err := s.events.PublishWithContext(ctx, mqcontracts.RoutingKeyTeamworkIntegrated, mqcontracts.TeamworkIntegratedPayload{
			ProjectID:     projectID,
			Stage:         stageName,
			ContributorID: contributorID,
			LeadID:        leadID,
			ArtifactCount: integrated,
			TraceID:       trace.FromContext(ctx),
		}); err != nil {
			warnings = append(warnings, "teamwork.integrated event failed")
		}
	}

	return integrated, warnings, nil
}

// Withdraw 贡献者撤回自己批次里尚未并入的一个制品。已并入的不可撤回。
func (s *TeamworkService) Withdraw(ctx context.Context, artifactID, contributorID int64) error {
	log := logger.WithTrace(ctx, s.logger)

	a, err := s.artifacts.GetArtifact(ctx, artifactID)
	if err != nil {
		return err
	}
	if a.SubmissionID == nil {
		return apperr.NewInvalidState("artifact", "only team upload artifacts can be withdrawn")
	}
	if a.UploaderID != contributorID {
		return apperr.NewPermission(contributorID, "withdraw another contributor's artifact")
	}
	if a.Integrated() {
		return apperr.NewInvalidState("artifact", "artifact is already integrated")
	}

	deleted, err := s.artifacts.DeleteUnintegrated(ctx, artifactID, contributorID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.NewInvalidState("artifact", "artifact was integrated concurrently")
	}

	// 外部存储的清理是尽力而为：记录失败，不影响撤回结果
	if s.storage != nil {
		if err := s.storage.Delete(ctx, a.StorageKey); err != nil {
			log.Warn("Failed to delete stored file for withdrawn artifact",
				zap.Int64("artifact_id", artifactID),
				zap.String("storage_key", a.StorageKey),
				zap.Error(err),
			)
		}
	}

	log.Info("Team upload artifact withdrawn",
		zap.Int64("artifact_id", artifactID),
		zap.Int64("contributor_id", contributorID),
	)
	return nil
}

// PendingReview 负责人视角：某阶段某贡献者批次里待并入的制品
func (s *TeamworkService) PendingReview(ctx context.Context, projectID int64, stageName string, contributorID int64) ([]model.Artifact, error) {
	if _, ok := model.StageByName(stageName); !ok {
		return nil, apperr.NewValidation("stage", fmt.Sprintf("unknown stage %s", stageName))
	}
	sub, err := s.artifacts.GetSubmission(ctx, projectID, stageName, contributorID)
	if err != nil {
		return nil, err
	}
	return s.artifacts.ListUnintegrated(ctx, sub.ID)
}
