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

type teamworkFixture struct {
	svc       *TeamworkService
	projects  *fakeProjectStore
	artifacts *fakeArtifactStore
	notes     *fakeNotificationStore
	events    *fakeEventPublisher
}

// 40 是研发负责人，41/42 是研发组员
func newTeamworkFixture(t *testing.T) (*teamworkFixture, int64) {
	t.Helper()
	lead := &model.User{ID: 40, Roles: []string{rbac.RoleResearcher}, LeadRoles: []string{rbac.RoleResearcher}, Active: true}
	member1 := &model.User{ID: 41, Roles: []string{rbac.RoleResearcher}, Active: true}
	member2 := &model.User{ID: 42, Roles: []string{rbac.RoleResearcher}, Active: true}
	keeper := &model.User{ID: 45, Roles: []string{rbac.RoleWarehouseKeeper}, Active: true}

	f := &teamworkFixture{
		projects:  newFakeProjectStore(),
		artifacts: newFakeArtifactStore(),
		notes:     newFakeNotificationStore(),
		events:    &fakeEventPublisher{},
	}
	users := newFakeUserDirectory(lead, member1, member2, keeper)
	notifier := NewNotifier(f.notes, f.events, zap.NewNop())
	f.svc = NewTeamworkService(f.projects, f.artifacts, users, notifier, f.events, zap.NewNop())

	projectID, err := f.projects.InsertWithStages(context.Background(), &model.Project{
		Name:   "gearbox",
		Status: model.ProjectStatusActive,
	}, time.Now())
	require.NoError(t, err)
	return f, projectID
}

func files(names ...string) []repository.ArtifactInput {
	out := make([]repository.ArtifactInput, 0, len(names))
	for _, n := range names {
		out = append(out, repository.ArtifactInput{Name: n, StorageKey: "key-" + n})
	}
	return out
}

func TestSubmit_AccumulatesIntoOneSubmission(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	subID1, _, err := f.svc.Submit(context.Background(), projectID, model.StageResearch, 41, files("a.dwg", "b.dwg", "c.dwg"))
	require.NoError(t, err)

	subID2, _, err := f.svc.Submit(context.Background(), projectID, model.StageResearch, 41, files("d.dwg", "e.dwg"))
	require.NoError(t, err)
	assert.Equal(t, subID1, subID2, "same contributor reuses the same submission")

	pending, err := f.svc.PendingReview(context.Background(), projectID, model.StageResearch, 41)
	require.NoError(t, err)
	assert.Len(t, pending, 5)

	// 每次提交都提醒负责人
	leadNotes := f.notes.forUser(40)
	assert.Len(t, leadNotes, 2)
	for _, n := range leadNotes {
		assert.Equal(t, model.NotificationTeamworkReview, n.Type)
		assert.True(t, n.RequiresAction)
	}
}

func TestSubmit_PendingFilesStayOutOfStageLedger(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	_, _, err := f.svc.Submit(context.Background(), projectID, model.StageResearch, 41, files("a.dwg", "b.dwg"))
	require.NoError(t, err)

	// 未并入前正式清单不含批次文件
	ledger, err := f.artifacts.ListByStage(context.Background(), projectID, model.StageResearch)
	require.NoError(t, err)
	assert.Empty(t, ledger)

	count, _, err := f.svc.Integrate(context.Background(), projectID, model.StageResearch, 41, 40)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	ledger, err = f.artifacts.ListByStage(context.Background(), projectID, model.StageResearch)
	require.NoError(t, err)
	assert.Len(t, ledger, 2)
}

func TestSubmit_StageWithoutTeamUploadRejected(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	_, _, err := f.svc.Submit(context.Background(), projectID, model.StageWarehouseInParts, 45, files("manifest.csv"))
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestSubmit_LeadCannotUseTeamChannel(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	_, _, err := f.svc.Submit(context.Background(), projectID, model.StageResearch, 40, files("a.dwg"))
	var pe *apperr.PermissionError
	require.ErrorAs(t, err, &pe)
}

func TestSubmit_WrongRoleForbidden(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	_, _, err := f.svc.Submit(context.Background(), projectID, model.StageResearch, 45, files("a.dwg"))
	var pe *apperr.PermissionError
	require.ErrorAs(t, err, &pe)
}

func TestSubmit_ClosedAfterStageCompletes(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	done, err := f.projects.CompleteStage(context.Background(), projectID, model.StageResearch, 40, time.Now(), 0, model.TimelinessOntime)
	require.NoError(t, err)
	require.True(t, done)

	_, _, err = f.svc.Submit(context.Background(), projectID, model.StageResearch, 41, files("late.dwg"))
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func TestIntegrate_MovesPendingIntoLedgerIdempotently(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	_, _, err := f.svc.Submit(context.Background(), projectID, model.StageResearch, 41, files("a.dwg", "b.dwg", "c.dwg"))
	require.NoError(t, err)

	count, _, err := f.svc.Integrate(context.Background(), projectID, model.StageResearch, 41, 40)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// 再并一次：没有待并入的文件，幂等返回 0
	count, _, err = f.svc.Integrate(context.Background(), projectID, model.StageResearch, 41, 40)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// 后续提交再并入，不碰已并入的文件
	_, _, err = f.svc.Submit(context.Background(), projectID, model.StageResearch, 41, files("d.dwg", "e.dwg"))
	require.NoError(t, err)

	count, _, err = f.svc.Integrate(context.Background(), projectID, model.StageResearch, 41, 40)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	all, err := f.artifacts.ListByStage(context.Background(), projectID, model.StageResearch)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	for _, a := range all {
		assert.True(t, a.Integrated())
		assert.Equal(t, int64(40), *a.IntegratedBy)
	}

	// 只有真正并入文件的调用发事件
	assert.Len(t, f.events.byKey(mqcontracts.RoutingKeyTeamworkIntegrated), 2)
}

func TestIntegrate_RequiresLeadOfStageRole(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	_, _, err := f.svc.Submit(context.Background(), projectID, model.StageResearch, 41, files("a.dwg"))
	require.NoError(t, err)

	_, _, err = f.svc.Integrate(context.Background(), projectID, model.StageResearch, 41, 42)
	var pe *apperr.PermissionError
	require.ErrorAs(t, err, &pe)
}

func TestIntegrate_UnknownSubmissionNotFound(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	_, _, err := f.svc.Integrate(context.Background(), projectID, model.StageResearch, 42, 40)
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestWithdraw_OnlyOwnUnintegratedArtifacts(t *testing.T) {
	f, projectID := newTeamworkFixture(t)

	_, _, err := f.svc.Submit(context.Background(), projectID, model.StageResearch, 41, files("a.dwg", "b.dwg"))
	require.NoError(t, err)

	pending, err := f.svc.PendingReview(context.Background(), projectID, model.StageResearch, 41)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// 别人的文件不能撤
	err = f.svc.Withdraw(context.Background(), pending[0].ID, 42)
	var pe *apperr.PermissionError
	require.ErrorAs(t, err, &pe)

	// 自己的可以
	require.NoError(t, f.svc.Withdraw(context.Background(), pending[0].ID, 41))

	// 并入后不可撤回
	_, _, err = f.svc.Integrate(context.Background(), projectID, model.StageResearch, 41, 40)
	require.NoError(t, err)

	err = f.svc.Withdraw(context.Background(), pending[1].ID, 41)
	var ise *apperr.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func TestWithdraw_CleansUpStoredFileBestEffort(t *testing.T) {
	f, projectID := newTeamworkFixture(t)
	storage := &fakeStorageDeleter{}
	f.svc.WithStorage(storage)

	_, _, err := f.svc.Submit(context.Background(), projectID, model.StageResearch, 41, files("a.dwg", "b.dwg"))
	require.NoError(t, err)

	pending, err := f.svc.PendingReview(context.Background(), projectID, model.StageResearch, 41)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, f.svc.Withdraw(context.Background(), pending[0].ID, 41))
	assert.Equal(t, []string{pending[0].StorageKey}, storage.deleted)

	// 存储清理失败不影响撤回本身
	storage.fail = true
	require.NoError(t, f.svc.Withdraw(context.Background(), pending[1].ID, 41))

	remaining, err := f.svc.PendingReview(context.Background(), projectID, model.StageResearch, 41)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
