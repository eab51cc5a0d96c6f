package mq

import "time"

const (
	RoutingKeyStageCompleted     = "stage.completed"
	RoutingKeyProjectArchived    = "project.archived"
	RoutingKeyTeamworkSubmitted  = "teamwork.submitted"
	RoutingKeyTeamworkIntegrated = "teamwork.integrated"
)

type StageCompletedPayload struct {
	ProjectID   int64     `json:"project_id"`
	Stage       string    `json:"stage"`
	CompletedBy int64     `json:"completed_by"`
	CompletedAt time.Time `json:"completed_at"`
	Timeliness  string    `json:"timeliness"` // early / ontime / late
	NextStage   string    `json:"next_stage,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
}

type ProjectArchivedPayload struct {
	ProjectID  int64     `json:"project_id"`
	ArchivedAt time.Time `json:"archived_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}

type TeamworkSubmittedPayload struct {
	ProjectID     int64  `json:"project_id"`
	Stage         string `json:"stage"`
	ContributorID int64  `json:"contributor_id"`
	SubmissionID  int64  `json:"submission_id"`
	ArtifactCount int    `json:"artifact_count"`
	TraceID       string `json:"trace_id,omitempty"`
}

type TeamworkIntegratedPayload struct {
	ProjectID     int64  `json:"project_id"`
	Stage         string `json:"stage"`
	ContributorID int64  `json:"contributor_id"`
	LeadID        int64  `json:"lead_id"`
	ArtifactCount int    `json:"artifact_count"`
	TraceID       string `json:"trace_id,omitempty"`
}
