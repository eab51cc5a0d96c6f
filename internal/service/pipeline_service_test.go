package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "prodtrack/contracts/mq"
	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
	"prodtrack/internal/repository"
	"prodtrack/pkg/rbac"
)

type pipelineFixture struct {
	svc       *PipelineService
	projects  *fakeProjectStore
	artifacts *fakeArtifactStore
	users     *fakeUserDirectory
	notes     *fakeNotificationStore
	events    *fakeEventPublisher
}

// 角色各一人，ID 按 20+阶段角色 编排；1 是审批负责人，30 是管理员
func pipelineUsers() []*model.User {
	mk := func(id int64, role string, lead bool) *model.User {
		u := &model.User{ID: id, Roles: []string{role}, Active: true}
		if lead {
			u.LeadRoles = []string{role}
		}
		return u
	}
	return []*model.User{
		mk(1, rbac.RoleApprover, true),
		mk(21, rbac.RoleResearcher, false),
		mk(22, rbac.RoleEngineer, false),
		mk(23, rbac.RolePurchaser, false),
		mk(24, rbac.RoleMachinist, false),
		mk(25, rbac.RoleWarehouseKeeper, false),
		mk(26, rbac.RoleAssembler, false),
		mk(27, rbac.RoleTester, false),
		mk(30, rbac.RoleAdmin, false),
	}
}

// actorFor 返回能完成指定阶段的用户 id
func actorFor(stage string) int64 {
	info, _ := model.StageByName(stage)
	switch info.Role {
	case rbac.RoleResearcher:
		return 21
	case rbac.RoleEngineer:
		return 22
	case rbac.RolePurchaser:
		return 23
	case rbac.RoleMachinist:
		return 24
	case rbac.RoleWarehouseKeeper:
		return 25
	case rbac.RoleAssembler:
		return 26
	case rbac.RoleTester:
		return 27
	default:
		return 30
	}
}

func newPipelineFixture(t *testing.T) (*pipelineFixture, int64) {
	t.Helper()
	f := &pipelineFixture{
		projects:  newFakeProjectStore(),
		artifacts: newFakeArtifactStore(),
		users:     newFakeUserDirectory(pipelineUsers()...),
		notes:     newFakeNotificationStore(),
		events:    &fakeEventPublisher{},
	}
	notifier := NewNotifier(f.notes, f.events, zap.NewNop())
	f.svc = NewPipelineService(f.projects, f.artifacts, f.users, notifier, f.events, zap.NewNop())

	projectID, err := f.projects.InsertWithStages(context.Background(), &model.Project{
		Name:       "gearbox",
		Kind:       model.ProposalKindResearch,
		Status:     model.ProjectStatusActive,
		ApprovedBy: 1,
		ApprovedAt: time.Now(),
	}, time.Now())
	require.NoError(t, err)
	return f, projectID
}

func fullPlans(days int) map[string]int {
	plans := make(map[string]int)
	for _, st := range model.Stages() {
		plans[st.Name] = days
	}
	return plans
}

// completeThrough 按顺序完成前 n 个阶段
func completeThrough(t *testing.T, f *pipelineFixture, projectID int64, n int) {
	t.Helper()
	for _, st := range model.Stages()[:n] {
		_, _, err := f.svc.CompleteStage(context.Background(), projectID, st.Name, actorFor(st.Name), nil)
		require.NoError(t, err, "stage %s", st.Name)
	}
}

func TestScheduleTimelines_RequiresLeadOrAdmin(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	err := f.svc.ScheduleTimelines(context.Background(), projectID, 21, fullPlans(5))
	var pe *apperr.PermissionError
	require.ErrorAs(t, err, &pe)

	// 管理员可以代为排期
	require.NoError(t, f.svc.ScheduleTimelines(context.Background(), projectID, 30, fullPlans(5)))
}

func TestScheduleTimelines_MustCoverEveryStage(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	plans := fullPlans(5)
	delete(plans, model.StageTesting)

	err := f.svc.ScheduleTimelines(context.Background(), projectID, 1, plans)
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestScheduleTimelines_OnlyOnce(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	require.NoError(t, f.svc.ScheduleTimelines(context.Background(), projectID, 1, fullPlans(5)))

	err := f.svc.ScheduleTimelines(context.Background(), projectID, 1, fullPlans(7))
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func TestCompleteStage_OutOfOrderRejected(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	_, _, err := f.svc.CompleteStage(context.Background(), projectID, model.StageEngineering, 22, nil)
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)

	// 失败的调用不留任何痕迹
	rec, err := f.projects.GetStage(context.Background(), projectID, model.StageEngineering)
	require.NoError(t, err)
	assert.False(t, rec.Completed)
	assert.Empty(t, f.events.byKey(mqcontracts.RoutingKeyStageCompleted))
}

func TestCompleteStage_DoubleCompleteRejected(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	_, _, err := f.svc.CompleteStage(context.Background(), projectID, model.StageResearch, 21, nil)
	require.NoError(t, err)

	_, _, err = f.svc.CompleteStage(context.Background(), projectID, model.StageResearch, 21, []repository.ArtifactInput{
		{Name: "late.pdf", StorageKey: "k1"},
	})
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)

	// 被拒的第二次调用不得附加制品
	artifacts, err := f.artifacts.ListByStage(context.Background(), projectID, model.StageResearch)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestCompleteStage_WrongRoleForbidden(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	_, _, err := f.svc.CompleteStage(context.Background(), projectID, model.StageResearch, 22, nil)
	var pe *apperr.PermissionError
	require.ErrorAs(t, err, &pe)
}

func TestCompleteStage_AdminMayCompleteAnyStage(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	_, _, err := f.svc.CompleteStage(context.Background(), projectID, model.StageResearch, 30, nil)
	require.NoError(t, err)
}

func TestCompleteStage_NotifiesNextRoleOnly(t *testing.T) {
	f, projectID := newPipelineFixture(t)
	completeThrough(t, f, projectID, 3)

	f.notes.items = nil
	f.events.events = nil

	// processing 完成后轮到 warehouse_in_parts（仓管），而不是下一位加工员
	rec, warnings, err := f.svc.CompleteStage(context.Background(), projectID, model.StageProcessing, 24, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.True(t, rec.Completed)

	keeperNotes := f.notes.forUser(25)
	require.Len(t, keeperNotes, 1)
	assert.Equal(t, model.NotificationStageReady, keeperNotes[0].Type)
	assert.True(t, keeperNotes[0].RequiresAction)
	assert.Empty(t, f.notes.forUser(24))
	assert.Empty(t, f.notes.forUser(21))

	// 下一阶段的开始时间已盖章
	next, err := f.projects.GetStage(context.Background(), projectID, model.StageWarehouseInParts)
	require.NoError(t, err)
	assert.NotNil(t, next.StartedAt)

	events := f.events.byKey(mqcontracts.RoutingKeyStageCompleted)
	require.Len(t, events, 1)
	payload := events[0].payload.(mqcontracts.StageCompletedPayload)
	assert.Equal(t, model.StageWarehouseInParts, payload.NextStage)
}

func TestCompleteStage_TimelinessClassification(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		elapsed time.Duration
		want    string
	}{
		{"early", 3 * 24 * time.Hour, model.TimelinessEarly},
		{"ontime", 5*24*time.Hour + time.Hour, model.TimelinessOntime},
		{"late", 8 * 24 * time.Hour, model.TimelinessLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, projectID := newPipelineFixture(t)
			f.svc.now = func() time.Time { return base }
			require.NoError(t, f.svc.ScheduleTimelines(context.Background(), projectID, 1, fullPlans(5)))

			// 第一阶段在建项时开始；把完成时刻拨到 elapsed 之后
			rec, err := f.projects.GetStage(context.Background(), projectID, model.StageResearch)
			require.NoError(t, err)
			require.NotNil(t, rec.StartedAt)
			f.svc.now = func() time.Time { return rec.StartedAt.Add(tc.elapsed) }

			done, _, err := f.svc.CompleteStage(context.Background(), projectID, model.StageResearch, 21, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, done.TimelinessStatus)
		})
	}
}

func TestCompleteStage_TerminalStageArchivesProject(t *testing.T) {
	f, projectID := newPipelineFixture(t)
	completeThrough(t, f, projectID, model.StageCount())

	project, err := f.projects.Get(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusArchived, project.Status)

	adminNotes := f.notes.forUser(30)
	require.NotEmpty(t, adminNotes)
	assert.Equal(t, model.NotificationArchiveReady, adminNotes[len(adminNotes)-1].Type)

	assert.Len(t, f.events.byKey(mqcontracts.RoutingKeyProjectArchived), 1)
	assert.Len(t, f.events.byKey(mqcontracts.RoutingKeyStageCompleted), model.StageCount())

	// 归档后一切推进关闭
	_, _, err = f.svc.CompleteStage(context.Background(), projectID, model.StageResearch, 21, nil)
	var ise *apperr.InvalidStateError
	assert.ErrorAs(t, err, &ise)
}

func TestCompleteStage_UnintegratedUploadsAreSoftWarning(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	subID, err := f.artifacts.OpenSubmission(context.Background(), projectID, model.StageResearch, 21)
	require.NoError(t, err)
	require.NoError(t, f.artifacts.AppendToSubmission(context.Background(), subID, projectID, model.StageResearch, 21, time.Now(), []repository.ArtifactInput{
		{Name: "draft.dwg", StorageKey: "k1"},
	}))

	rec, warnings, err := f.svc.CompleteStage(context.Background(), projectID, model.StageResearch, 21, nil)
	require.NoError(t, err)
	assert.True(t, rec.Completed)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "unintegrated")
}

func TestAmendStageArtifacts_OnlyOnCompletedStage(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	inputs := []repository.ArtifactInput{{Name: "report.pdf", StorageKey: "k9"}}

	err := f.svc.AmendStageArtifacts(context.Background(), projectID, model.StageResearch, 21, inputs)
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)

	completeThrough(t, f, projectID, 1)
	f.notes.items = nil
	f.events.events = nil

	require.NoError(t, f.svc.AmendStageArtifacts(context.Background(), projectID, model.StageResearch, 21, inputs))

	artifacts, err := f.artifacts.ListByStage(context.Background(), projectID, model.StageResearch)
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)

	// 补录绝不重放任何通知或事件
	assert.Empty(t, f.notes.items)
	assert.Empty(t, f.events.events)
}

func TestAmendStageArtifacts_OnlyCompleterOrAdmin(t *testing.T) {
	f, projectID := newPipelineFixture(t)
	completeThrough(t, f, projectID, 1)

	inputs := []repository.ArtifactInput{{Name: "extra.pdf", StorageKey: "k2"}}

	err := f.svc.AmendStageArtifacts(context.Background(), projectID, model.StageResearch, 22, inputs)
	var pe *apperr.PermissionError
	require.ErrorAs(t, err, &pe)

	require.NoError(t, f.svc.AmendStageArtifacts(context.Background(), projectID, model.StageResearch, 30, inputs))
}

func TestProjectStages_RemainingDaysGoesNegativeOnOverrun(t *testing.T) {
	f, projectID := newPipelineFixture(t)
	require.NoError(t, f.svc.ScheduleTimelines(context.Background(), projectID, 1, fullPlans(5)))

	rec, err := f.projects.GetStage(context.Background(), projectID, model.StageResearch)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return rec.StartedAt.Add(8 * 24 * time.Hour) }

	views, err := f.svc.ProjectStages(context.Background(), projectID)
	require.NoError(t, err)

	first := views[0]
	require.NotNil(t, first.RemainingDays)
	assert.Equal(t, -3, *first.RemainingDays)

	// 尚未开始的阶段没有剩余天数投影
	assert.Nil(t, views[1].RemainingDays)
}

func TestProjectStages_ReturnsStageTableOrder(t *testing.T) {
	f, projectID := newPipelineFixture(t)

	views, err := f.svc.ProjectStages(context.Background(), projectID)
	require.NoError(t, err)
	require.Len(t, views, len(model.Stages()))
	for i, st := range model.Stages() {
		assert.Equal(t, st.Name, views[i].Stage)
	}
}
