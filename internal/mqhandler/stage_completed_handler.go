package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	mqcontracts "prodtrack/contracts/mq"
	"prodtrack/internal/model"
	"prodtrack/pkg/util"
)

const stageHandlerName = "stage_completed"

// StageCompletedHandler 消费 stage.completed / project.archived，
// 记审计日志。阶段推进本身已在事务里完成，这里不做任何状态变更。
type StageCompletedHandler struct {
	deduper *util.Deduper
	logger  *zap.Logger
}

func NewStageCompletedHandler(deduper *util.Deduper, logger *zap.Logger) *StageCompletedHandler {
	return &StageCompletedHandler{deduper: deduper, logger: logger}
}

func (h *StageCompletedHandler) HandleStageCompleted(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.StageCompletedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal StageCompletedPayload", zap.Error(err))
		return nil
	}

	// 去重键按 项目*100+阶段序号 合成，保证每个阶段各自独立
	order := 0
	if info, ok := model.StageByName(p.Stage); ok {
		order = info.Order
	}
	if !h.deduper.AcquireOnce(ctx, stageHandlerName, p.ProjectID*100+int64(order)) {
		return nil
	}

	h.logger.Info("Stage completion recorded",
		zap.Int64("project_id", p.ProjectID),
		zap.String("stage", p.Stage),
		zap.Int64("completed_by", p.CompletedBy),
		zap.String("timeliness", p.Timeliness),
		zap.String("next_stage", p.NextStage),
		zap.String("trace_id", p.TraceID),
	)
	return nil
}

func (h *StageCompletedHandler) HandleProjectArchived(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.ProjectArchivedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal ProjectArchivedPayload", zap.Error(err))
		return nil
	}

	h.logger.Info("Project archive recorded",
		zap.Int64("project_id", p.ProjectID),
		zap.Time("archived_at", p.ArchivedAt),
		zap.String("trace_id", p.TraceID),
	)
	return nil
}
