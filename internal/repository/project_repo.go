package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
)

type ProjectRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewProjectRepository(db *pgxpool.Pool, logger *zap.Logger) *ProjectRepository {
	return &ProjectRepository{
		db:     db,
		logger: logger,
	}
}

// InsertWithStages 在一个事务中创建项目和全部阶段记录，并把第一阶段置为开始。
// 晋升路径的原子性依赖这里：项目要么带着完整阶段骨架出现，要么不出现。
func (r *ProjectRepository) InsertWithStages(ctx context.Context, p *model.Project, firstStageStart time.Time) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO projects
            (original_pending_id, kind, name, description, direction, purpose,
             contract_terms, budget, duration_days, priority, requester_id,
             status, approved_by, approved_at, approval_comment, scheduled)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, FALSE)
        RETURNING id
    `
	var id int64
	err = tx.QueryRow(ctx, query,
		p.OriginalPendingID,
		p.Kind,
		p.Name,
		p.Description,
		p.Direction,
		p.Purpose,
		p.ContractTerms,
		p.Budget,
		p.DurationDays,
		p.Priority,
		p.RequesterID,
		p.Status,
		p.ApprovedBy,
		p.ApprovedAt,
		p.ApprovalComment,
	).Scan(&id)
	if err != nil {
		r.logger.Error("Failed to insert project", zap.Error(err))
		return 0, err
	}

	stageQuery := `
        INSERT INTO stage_records (project_id, stage, completed, started_at)
        VALUES ($1, $2, FALSE, $3)
    `
	for _, s := range model.Stages() {
		var startedAt *time.Time
		if s.Order == 1 {
			startedAt = &firstStageStart
		}
		if _, err := tx.Exec(ctx, stageQuery, id, s.Name, startedAt); err != nil {
			r.logger.Error("Failed to insert stage record",
				zap.Int64("project_id", id),
				zap.String("stage", s.Name),
				zap.Error(err),
			)
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	r.logger.Info("Project inserted successfully",
		zap.Int64("id", id),
		zap.String("name", p.Name),
	)
	return id, nil
}

func (r *ProjectRepository) Get(ctx context.Context, id int64) (*model.Project, error) {
	query := `
        SELECT id, original_pending_id, kind, name, description, direction, purpose,
               contract_terms, budget, duration_days, priority, requester_id,
               status, approved_by, approved_at, approval_comment, scheduled, created_at
        FROM projects
        WHERE id = $1
    `
	var p model.Project
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.OriginalPendingID,
		&p.Kind,
		&p.Name,
		&p.Description,
		&p.Direction,
		&p.Purpose,
		&p.ContractTerms,
		&p.Budget,
		&p.DurationDays,
		&p.Priority,
		&p.RequesterID,
		&p.Status,
		&p.ApprovedBy,
		&p.ApprovedAt,
		&p.ApprovalComment,
		&p.Scheduled,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NewNotFound("project", id)
		}
		r.logger.Error("Failed to get project", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) GetStage(ctx context.Context, projectID int64, stage string) (*model.StageRecord, error) {
	query := `
        SELECT id, project_id, stage, completed, completed_at, completed_by,
               started_at, planned_duration_days, actual_duration_days, timeliness_status
        FROM stage_records
        WHERE project_id = $1 AND stage = $2
    `
	var s model.StageRecord
	err := r.db.QueryRow(ctx, query, projectID, stage).Scan(
		&s.ID,
		&s.ProjectID,
		&s.Stage,
		&s.Completed,
		&s.CompletedAt,
		&s.CompletedBy,
		&s.StartedAt,
		&s.PlannedDurationDays,
		&s.ActualDurationDays,
		&s.TimelinessStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NewNotFound("stage record", projectID)
		}
		return nil, err
	}
	return &s, nil
}

func (r *ProjectRepository) GetStages(ctx context.Context, projectID int64) ([]model.StageRecord, error) {
	query := `
        SELECT id, project_id, stage, completed, completed_at, completed_by,
               started_at, planned_duration_days, actual_duration_days, timeliness_status
        FROM stage_records
        WHERE project_id = $1
    `
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.StageRecord
	for rows.Next() {
		var s model.StageRecord
		if err := rows.Scan(
			&s.ID,
			&s.ProjectID,
			&s.Stage,
			&s.Completed,
			&s.CompletedAt,
			&s.CompletedBy,
			&s.StartedAt,
			&s.PlannedDurationDays,
			&s.ActualDurationDays,
			&s.TimelinessStatus,
		); err != nil {
			return nil, err
		}
		records = append(records, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 按阶段表的固定顺序返回
	sort.Slice(records, func(i, j int) bool {
		a, _ := model.StageByName(records[i].Stage)
		b, _ := model.StageByName(records[j].Stage)
		return a.Order < b.Order
	})
	return records, nil
}

// ScheduleTimelines 一次性写入全部阶段的计划工期。
// projects.scheduled 上的条件更新保证排期只能发生一次。
func (r *ProjectRepository) ScheduleTimelines(ctx context.Context, projectID int64, plans map[string]int, firstStart time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE projects SET scheduled = TRUE
        WHERE id = $1 AND scheduled = FALSE
    `, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewInvalidState("project", "timelines already scheduled")
	}

	for stage, days := range plans {
		if _, err := tx.Exec(ctx, `
            UPDATE stage_records SET planned_duration_days = $1
            WHERE project_id = $2 AND stage = $3
        `, days, projectID, stage); err != nil {
			return err
		}
	}

	// 第一阶段的 started_at 在晋升时已写入；这里兜底补齐
	if _, err := tx.Exec(ctx, `
        UPDATE stage_records SET started_at = $1
        WHERE project_id = $2 AND stage = $3 AND started_at IS NULL
    `, firstStart, projectID, model.FirstStage().Name); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CompleteStage 条件完成阶段：completed = FALSE 时才生效。
// 返回 false 表示另一个并发请求已经完成了该阶段。
func (r *ProjectRepository) CompleteStage(ctx context.Context, projectID int64, stage string, completedBy int64, completedAt time.Time, actualDays int, timeliness string) (bool, error) {
	query := `
        UPDATE stage_records
        SET completed = TRUE, completed_at = $1, completed_by = $2,
            actual_duration_days = $3, timeliness_status = $4
        WHERE project_id = $5 AND stage = $6 AND completed = FALSE
    `
	tag, err := r.db.Exec(ctx, query, completedAt, completedBy, actualDays, timeliness, projectID, stage)
	if err != nil {
		r.logger.Error("Failed to complete stage",
			zap.Int64("project_id", projectID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// StartStage 条件开始下一阶段：started_at IS NULL 时才写入
func (r *ProjectRepository) StartStage(ctx context.Context, projectID int64, stage string, at time.Time) error {
	query := `
        UPDATE stage_records SET started_at = $1
        WHERE project_id = $2 AND stage = $3 AND started_at IS NULL
    `
	_, err := r.db.Exec(ctx, query, at, projectID, stage)
	if err != nil {
		r.logger.Error("Failed to start stage",
			zap.Int64("project_id", projectID),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
	return err
}

// MarkArchived 终点阶段完成后把项目标记为归档
func (r *ProjectRepository) MarkArchived(ctx context.Context, projectID int64) error {
	query := `
        UPDATE projects SET status = $1
        WHERE id = $2 AND status = $3
    `
	_, err := r.db.Exec(ctx, query, model.ProjectStatusArchived, projectID, model.ProjectStatusActive)
	if err != nil {
		r.logger.Error("Failed to mark project archived", zap.Int64("project_id", projectID), zap.Error(err))
	}
	return err
}
