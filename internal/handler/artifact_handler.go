package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"prodtrack/internal/repository"
	"prodtrack/internal/service"
)

// ArtifactHandler 文件上传入口：字节本体转交外部存储服务，
// 拿到存储键后由调用方把描述符附到阶段完成或团队提交请求里。
type ArtifactHandler struct {
	storage   *service.StorageClient
	artifacts *repository.ArtifactRepository
	logger    *zap.Logger
}

func NewArtifactHandler(storage *service.StorageClient, artifacts *repository.ArtifactRepository, logger *zap.Logger) *ArtifactHandler {
	return &ArtifactHandler{storage: storage, artifacts: artifacts, logger: logger}
}

// Upload POST /projects/:id/stages/:stage/files (multipart)
func (h *ArtifactHandler) Upload(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	stage := c.Param("stage")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	defer f.Close()

	key, size, err := h.storage.Upload(c.Request.Context(), projectID, stage, fileHeader.Filename, f)
	if err != nil {
		h.logger.Error("Upload: storage call failed",
			zap.Int64("project_id", projectID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "storage service unavailable"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"name":         fileHeader.Filename,
		"storage_key":  key,
		"size":         size,
		"content_kind": fileHeader.Header.Get("Content-Type"),
	})
}

// ListByStage GET /projects/:id/stages/:stage/artifacts — 阶段的正式制品清单
func (h *ArtifactHandler) ListByStage(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	artifacts, err := h.artifacts.ListByStage(c.Request.Context(), projectID, c.Param("stage"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}
