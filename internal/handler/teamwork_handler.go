package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"prodtrack/internal/service"
)

type TeamworkHandler struct {
	teamwork *service.TeamworkService
	logger   *zap.Logger
}

func NewTeamworkHandler(teamwork *service.TeamworkService, logger *zap.Logger) *TeamworkHandler {
	return &TeamworkHandler{teamwork: teamwork, logger: logger}
}

type teamworkSubmitRequest struct {
	Artifacts []artifactInput `json:"artifacts"`
}

// Submit POST /projects/:id/stages/:stage/teamwork
func (h *TeamworkHandler) Submit(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	stage := c.Param("stage")

	var req teamworkSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	submissionID, warnings, err := h.teamwork.Submit(c.Request.Context(), projectID, stage, currentUserID(c), toRepoInputs(req.Artifacts))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"submission_id": submissionID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusCreated, resp)
}

// PendingReview GET /projects/:id/stages/:stage/teamwork/:contributor
func (h *TeamworkHandler) PendingReview(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	contributorID, err := strconv.ParseInt(c.Param("contributor"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contributor id"})
		return
	}

	artifacts, err := h.teamwork.PendingReview(c.Request.Context(), projectID, c.Param("stage"), contributorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

// Integrate POST /projects/:id/stages/:stage/teamwork/:contributor/integrate
func (h *TeamworkHandler) Integrate(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	contributorID, err := strconv.ParseInt(c.Param("contributor"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contributor id"})
		return
	}

	count, warnings, err := h.teamwork.Integrate(c.Request.Context(), projectID, c.Param("stage"), contributorID, currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("Integrate: success",
		zap.Int64("project_id", projectID),
		zap.Int64("contributor_id", contributorID),
		zap.Int("count", count),
	)

	resp := gin.H{"integrated_count": count}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

// Withdraw DELETE /teamwork/artifacts/:id
func (h *TeamworkHandler) Withdraw(c *gin.Context) {
	artifactID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid artifact id"})
		return
	}

	if err := h.teamwork.Withdraw(c.Request.Context(), artifactID, currentUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "withdrawn"})
}
