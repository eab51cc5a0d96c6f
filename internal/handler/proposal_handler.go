package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"prodtrack/internal/service"
)

type ProposalHandler struct {
	approvals *service.ApprovalService
	logger    *zap.Logger
}

func NewProposalHandler(approvals *service.ApprovalService, logger *zap.Logger) *ProposalHandler {
	return &ProposalHandler{approvals: approvals, logger: logger}
}

// Create POST /proposals
func (h *ProposalHandler) Create(c *gin.Context) {
	var in service.SubmitProposalInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	id, warnings, err := h.approvals.SubmitProposal(c.Request.Context(), currentUserID(c), in)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"proposal_id": id, "status": "pending"}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusCreated, resp)
}

// ListPending GET /proposals/pending
func (h *ProposalHandler) ListPending(c *gin.Context) {
	proposals, err := h.approvals.ListPending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

type decideRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

// Decide POST /proposals/:id/decide
func (h *ProposalHandler) Decide(c *gin.Context) {
	proposalID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}

	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	outcome, warnings, err := h.approvals.Decide(c.Request.Context(), proposalID, currentUserID(c), req.Decision, req.Comment)
	if err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("Decide: success",
		zap.Int64("proposal_id", proposalID),
		zap.String("outcome", outcome.Status),
	)

	resp := gin.H{"outcome": outcome}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

// Decisions GET /proposals/:id/decisions
func (h *ProposalHandler) Decisions(c *gin.Context) {
	proposalID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}

	decisions, err := h.approvals.ListDecisions(c.Request.Context(), proposalID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

// Lookup GET /lookup/:id — 同一个 id 先查申请再查项目
func (h *ProposalHandler) Lookup(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	result, err := h.approvals.Lookup(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
