package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"prodtrack/internal/repository"
	"prodtrack/internal/service"
)

type ProjectHandler struct {
	pipeline *service.PipelineService
	projects *repository.ProjectRepository
	logger   *zap.Logger
}

func NewProjectHandler(pipeline *service.PipelineService, projects *repository.ProjectRepository, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{pipeline: pipeline, projects: projects, logger: logger}
}

// Get GET /projects/:id — 项目详情加各阶段状态与剩余天数
func (h *ProjectHandler) Get(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	project, err := h.projects.Get(c.Request.Context(), projectID)
	if err != nil {
		writeError(c, err)
		return
	}

	stages, err := h.pipeline.ProjectStages(c.Request.Context(), projectID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project": project,
		"stages":  stages,
	})
}

type scheduleRequest struct {
	Plans map[string]int `json:"plans"` // 阶段名 -> 计划天数，必须覆盖全部阶段
}

// Schedule POST /projects/:id/schedule
func (h *ProjectHandler) Schedule(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.pipeline.ScheduleTimelines(c.Request.Context(), projectID, currentUserID(c), req.Plans); err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("Schedule: success", zap.Int64("project_id", projectID))
	c.JSON(http.StatusOK, gin.H{"status": "scheduled"})
}

type artifactInput struct {
	Name        string `json:"name"`
	StorageKey  string `json:"storage_key"`
	Size        int64  `json:"size"`
	ContentKind string `json:"content_kind"`
}

func toRepoInputs(in []artifactInput) []repository.ArtifactInput {
	out := make([]repository.ArtifactInput, 0, len(in))
	for _, a := range in {
		out = append(out, repository.ArtifactInput{
			Name:        a.Name,
			StorageKey:  a.StorageKey,
			Size:        a.Size,
			ContentKind: a.ContentKind,
		})
	}
	return out
}

type completeStageRequest struct {
	Artifacts []artifactInput `json:"artifacts"`
}

// CompleteStage POST /projects/:id/stages/:stage/complete
func (h *ProjectHandler) CompleteStage(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	stage := c.Param("stage")

	var req completeStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, warnings, err := h.pipeline.CompleteStage(c.Request.Context(), projectID, stage, currentUserID(c), toRepoInputs(req.Artifacts))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"stage": rec}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

type amendRequest struct {
	Artifacts []artifactInput `json:"artifacts"`
}

// Amend POST /projects/:id/stages/:stage/artifacts — 已完成阶段的制品补录
func (h *ProjectHandler) Amend(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	stage := c.Param("stage")

	var req amendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.pipeline.AmendStageArtifacts(c.Request.Context(), projectID, stage, currentUserID(c), toRepoInputs(req.Artifacts)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "amended"})
}
