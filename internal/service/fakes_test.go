package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
	"prodtrack/internal/repository"
)

// 内存实现的存储接口，条件更新语义和 SQL 仓库一致。

type decisionKey struct {
	proposalID int64
	approverID int64
}

type fakeProposalStore struct {
	mu        sync.Mutex
	nextID    int64
	proposals map[int64]*model.Proposal
	decisions map[decisionKey]model.Decision
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{
		nextID:    1,
		proposals: make(map[int64]*model.Proposal),
		decisions: make(map[decisionKey]model.Decision),
	}
}

func (s *fakeProposalStore) Insert(ctx context.Context, p *model.Proposal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.ID = s.nextID
	cp.CreatedAt = time.Now()
	s.nextID++
	s.proposals[cp.ID] = &cp
	return cp.ID, nil
}

func (s *fakeProposalStore) Get(ctx context.Context, id int64) (*model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, apperr.NewNotFound("proposal", id)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeProposalStore) AddDecision(ctx context.Context, d *model.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := decisionKey{d.ProposalID, d.ApproverID}
	if _, exists := s.decisions[key]; exists {
		return &apperr.DuplicateDecisionError{ProposalID: d.ProposalID, ApproverID: d.ApproverID}
	}
	s.decisions[key] = *d
	return nil
}

func (s *fakeProposalStore) IncrementApproved(ctx context.Context, id int64) (*model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok || p.Status != model.ProposalStatusPending {
		return nil, apperr.NewInvalidState("proposal", "not pending")
	}
	p.ApprovedCount++
	cp := *p
	return &cp, nil
}

func (s *fakeProposalStore) MarkRejected(ctx context.Context, id, rejectedBy int64, comment string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok || p.Status != model.ProposalStatusPending {
		return apperr.NewInvalidState("proposal", "not pending")
	}
	p.Status = model.ProposalStatusRejected
	p.RejectedCount++
	p.RejectedBy = &rejectedBy
	p.RejectedAt = &at
	p.RejectComment = comment
	return nil
}

func (s *fakeProposalStore) ClaimPromotion(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok || p.Status != model.ProposalStatusPending {
		return false, nil
	}
	p.Status = model.ProposalStatusPromoting
	return true, nil
}

func (s *fakeProposalStore) ReleasePromotion(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if ok && p.Status == model.ProposalStatusPromoting {
		p.Status = model.ProposalStatusPending
	}
	return nil
}

func (s *fakeProposalStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proposals, id)
	return nil
}

func (s *fakeProposalStore) ListPending(ctx context.Context) ([]model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Proposal
	for _, p := range s.proposals {
		if p.Status == model.ProposalStatusPending {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeProposalStore) ListDecisions(ctx context.Context, proposalID int64) ([]model.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Decision
	for key, d := range s.decisions {
		if key.proposalID == proposalID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApproverID < out[j].ApproverID })
	return out, nil
}

type fakeProjectStore struct {
	mu         sync.Mutex
	nextID     int64
	projects   map[int64]*model.Project
	stages     map[int64]map[string]*model.StageRecord
	failInsert bool
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{
		nextID:   100,
		projects: make(map[int64]*model.Project),
		stages:   make(map[int64]map[string]*model.StageRecord),
	}
}

func (s *fakeProjectStore) InsertWithStages(ctx context.Context, p *model.Project, firstStageStart time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert {
		return 0, context.DeadlineExceeded
	}
	cp := *p
	cp.ID = s.nextID
	cp.CreatedAt = time.Now()
	s.nextID++
	s.projects[cp.ID] = &cp

	recs := make(map[string]*model.StageRecord)
	for _, st := range model.Stages() {
		rec := &model.StageRecord{
			ProjectID: cp.ID,
			Stage:     st.Name,
		}
		if st.Order == 1 {
			start := firstStageStart
			rec.StartedAt = &start
		}
		recs[st.Name] = rec
	}
	s.stages[cp.ID] = recs
	return cp.ID, nil
}

func (s *fakeProjectStore) Get(ctx context.Context, id int64) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, apperr.NewNotFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeProjectStore) GetStage(ctx context.Context, projectID int64, stage string) (*model.StageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.stages[projectID]
	if !ok {
		return nil, apperr.NewNotFound("project", projectID)
	}
	rec, ok := recs[stage]
	if !ok {
		return nil, apperr.NewNotFound("stage record", projectID)
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeProjectStore) GetStages(ctx context.Context, projectID int64) ([]model.StageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.stages[projectID]
	if !ok {
		return nil, apperr.NewNotFound("project", projectID)
	}
	out := make([]model.StageRecord, 0, len(recs))
	for _, st := range model.Stages() {
		out = append(out, *recs[st.Name])
	}
	return out, nil
}

func (s *fakeProjectStore) ScheduleTimelines(ctx context.Context, projectID int64, plans map[string]int, firstStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return apperr.NewNotFound("project", projectID)
	}
	if p.Scheduled {
		return apperr.NewInvalidState("project", "timelines already scheduled")
	}
	p.Scheduled = true
	for name, days := range plans {
		if rec, ok := s.stages[projectID][name]; ok {
			rec.PlannedDurationDays = days
		}
	}
	first := s.stages[projectID][model.FirstStage().Name]
	if first.StartedAt == nil {
		start := firstStart
		first.StartedAt = &start
	}
	return nil
}

func (s *fakeProjectStore) CompleteStage(ctx context.Context, projectID int64, stage string, completedBy int64, completedAt time.Time, actualDays int, timeliness string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.stages[projectID]
	if !ok {
		return false, apperr.NewNotFound("project", projectID)
	}
	rec, ok := recs[stage]
	if !ok || rec.Completed {
		return false, nil
	}
	rec.Completed = true
	rec.CompletedAt = &completedAt
	rec.CompletedBy = &completedBy
	rec.ActualDurationDays = actualDays
	rec.TimelinessStatus = timeliness
	return true, nil
}

func (s *fakeProjectStore) StartStage(ctx context.Context, projectID int64, stage string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stages[projectID][stage]
	if !ok {
		return apperr.NewNotFound("stage record", projectID)
	}
	if rec.StartedAt == nil {
		start := at
		rec.StartedAt = &start
	}
	return nil
}

func (s *fakeProjectStore) MarkArchived(ctx context.Context, projectID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return apperr.NewNotFound("project", projectID)
	}
	if p.Status == model.ProjectStatusActive {
		p.Status = model.ProjectStatusArchived
	}
	return nil
}

type submissionKey struct {
	projectID     int64
	stage         string
	contributorID int64
}

type fakeArtifactStore struct {
	mu          sync.Mutex
	nextID      int64
	artifacts   map[int64]*model.Artifact
	submissions map[submissionKey]*model.Submission
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{
		nextID:      1,
		artifacts:   make(map[int64]*model.Artifact),
		submissions: make(map[submissionKey]*model.Submission),
	}
}

func (s *fakeArtifactStore) append(projectID int64, stage string, uploaderID int64, at time.Time, inputs []repository.ArtifactInput, submissionID *int64) {
	for _, in := range inputs {
		a := &model.Artifact{
			ID:           s.nextID,
			ProjectID:    projectID,
			Stage:        stage,
			Name:         in.Name,
			StorageKey:   in.StorageKey,
			Size:         in.Size,
			ContentKind:  in.ContentKind,
			UploaderID:   uploaderID,
			UploadedAt:   at,
			SubmissionID: submissionID,
		}
		s.nextID++
		s.artifacts[a.ID] = a
	}
}

func (s *fakeArtifactStore) AppendDirect(ctx context.Context, projectID int64, stage string, uploaderID int64, at time.Time, inputs []repository.ArtifactInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(projectID, stage, uploaderID, at, inputs, nil)
	return nil
}

func (s *fakeArtifactStore) OpenSubmission(ctx context.Context, projectID int64, stage string, contributorID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := submissionKey{projectID, stage, contributorID}
	if sub, ok := s.submissions[key]; ok {
		return sub.ID, nil
	}
	sub := &model.Submission{
		ID:            s.nextID,
		ProjectID:     projectID,
		Stage:         stage,
		ContributorID: contributorID,
		CreatedAt:     time.Now(),
	}
	s.nextID++
	s.submissions[key] = sub
	return sub.ID, nil
}

func (s *fakeArtifactStore) GetSubmission(ctx context.Context, projectID int64, stage string, contributorID int64) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionKey{projectID, stage, contributorID}]
	if !ok {
		return nil, apperr.NewNotFound("submission", contributorID)
	}
	cp := *sub
	return &cp, nil
}

func (s *fakeArtifactStore) AppendToSubmission(ctx context.Context, submissionID, projectID int64, stage string, contributorID int64, at time.Time, inputs []repository.ArtifactInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid := submissionID
	s.append(projectID, stage, contributorID, at, inputs, &sid)
	return nil
}

func (s *fakeArtifactStore) ListByStage(ctx context.Context, projectID int64, stage string) ([]model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Artifact
	for _, a := range s.artifacts {
		if a.ProjectID == projectID && a.Stage == stage && (a.SubmissionID == nil || a.Integrated()) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeArtifactStore) ListUnintegrated(ctx context.Context, submissionID int64) ([]model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Artifact
	for _, a := range s.artifacts {
		if a.SubmissionID != nil && *a.SubmissionID == submissionID && a.IntegratedAt == nil {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeArtifactStore) MarkIntegrated(ctx context.Context, ids []int64, leadID int64, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range ids {
		a, ok := s.artifacts[id]
		if !ok || a.IntegratedAt != nil {
			continue
		}
		stamp := at
		lead := leadID
		a.IntegratedAt = &stamp
		a.IntegratedBy = &lead
		count++
	}
	return count, nil
}

func (s *fakeArtifactStore) CountUnintegrated(ctx context.Context, projectID int64, stage string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.artifacts {
		if a.ProjectID == projectID && a.Stage == stage && a.SubmissionID != nil && a.IntegratedAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *fakeArtifactStore) GetArtifact(ctx context.Context, id int64) (*model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, apperr.NewNotFound("artifact", id)
	}
	cp := *a
	return &cp, nil
}

func (s *fakeArtifactStore) DeleteUnintegrated(ctx context.Context, id, uploaderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok || a.UploaderID != uploaderID || a.IntegratedAt != nil {
		return false, nil
	}
	delete(s.artifacts, id)
	return true, nil
}

type fakeUserDirectory struct {
	mu    sync.Mutex
	users map[int64]*model.User
}

func newFakeUserDirectory(users ...*model.User) *fakeUserDirectory {
	d := &fakeUserDirectory{users: make(map[int64]*model.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeUserDirectory) FindByID(ctx context.Context, id int64) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, apperr.NewNotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (d *fakeUserDirectory) ListActiveByRole(ctx context.Context, role string) ([]model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.User
	for _, u := range d.users {
		if u.Active && u.HasRole(role) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *fakeUserDirectory) ListLeadsForRole(ctx context.Context, role string) ([]model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.User
	for _, u := range d.users {
		if u.Active && u.IsLeadFor(role) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *fakeUserDirectory) CountActiveApprovers(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, u := range d.users {
		if u.Active && u.HasRole("approver") {
			count++
		}
	}
	return count, nil
}

type fakeNotificationStore struct {
	mu     sync.Mutex
	nextID int64
	items  []model.Notification
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{nextID: 1}
}

func (s *fakeNotificationStore) Insert(ctx context.Context, n *model.Notification) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	cp.ID = s.nextID
	cp.CreatedAt = time.Now()
	s.nextID++
	s.items = append(s.items, cp)
	return cp.ID, nil
}

// forUser 给断言用：某个用户收到的全部通知
func (s *fakeNotificationStore) forUser(userID int64) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Notification
	for _, n := range s.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type publishedEvent struct {
	routingKey string
	payload    any
}

type fakeEventPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	fail   bool
}

func (p *fakeEventPublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return context.DeadlineExceeded
	}
	p.events = append(p.events, publishedEvent{routingKey: routingKey, payload: payload})
	return nil
}

func (p *fakeEventPublisher) byKey(routingKey string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.routingKey == routingKey {
			out = append(out, e)
		}
	}
	return out
}

type fakeStorageDeleter struct {
	mu      sync.Mutex
	deleted []string
	fail    bool
}

func (s *fakeStorageDeleter) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return context.DeadlineExceeded
	}
	s.deleted = append(s.deleted, key)
	return nil
}
