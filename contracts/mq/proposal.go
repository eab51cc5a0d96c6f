package mq

import "time"

// 路由键
const (
	RoutingKeyProposalSubmitted = "proposal.submitted"
	RoutingKeyProposalRejected  = "proposal.rejected"
	RoutingKeyProjectCreated    = "project.created"
)

type ProposalSubmittedPayload struct {
	ProposalID  int64  `json:"proposal_id"`
	Kind        string `json:"kind"` // research / contract
	Name        string `json:"name"`
	RequesterID int64  `json:"requester_id"`
	TraceID     string `json:"trace_id,omitempty"`
}

type ProposalRejectedPayload struct {
	ProposalID int64     `json:"proposal_id"`
	RejectedBy int64     `json:"rejected_by"`
	Comment    string    `json:"comment"`
	RejectedAt time.Time `json:"rejected_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}

type ProjectCreatedPayload struct {
	ProjectID         int64     `json:"project_id"`
	OriginalPendingID int64     `json:"original_pending_id"`
	Name              string    `json:"name"`
	Kind              string    `json:"kind"`
	ApprovedBy        int64     `json:"approved_by"`
	ApprovedAt        time.Time `json:"approved_at"`
	TraceID           string    `json:"trace_id,omitempty"`
}
