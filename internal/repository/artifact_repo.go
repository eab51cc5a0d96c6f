package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
)

type ArtifactRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewArtifactRepository(db *pgxpool.Pool, logger *zap.Logger) *ArtifactRepository {
	return &ArtifactRepository{
		db:     db,
		logger: logger,
	}
}

// ArtifactInput 新上传文件的描述：存储键和大小来自外部存储服务
type ArtifactInput struct {
	Name        string `json:"name"`
	StorageKey  string `json:"storage_key"`
	Size        int64  `json:"size"`
	ContentKind string `json:"content_kind,omitempty"`
}

// AppendDirect 把文件描述追加到阶段的正式清单（负责人直传路径）
func (r *ArtifactRepository) AppendDirect(ctx context.Context, projectID int64, stage string, uploaderID int64, at time.Time, inputs []ArtifactInput) error {
	query := `
        INSERT INTO artifacts (project_id, stage, name, storage_key, size, content_kind, uploader_id, uploaded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	for _, in := range inputs {
		if _, err := r.db.Exec(ctx, query,
			projectID, stage, in.Name, in.StorageKey, in.Size, in.ContentKind, uploaderID, at,
		); err != nil {
			r.logger.Error("Failed to append artifact",
				zap.Int64("project_id", projectID),
				zap.String("stage", stage),
				zap.String("name", in.Name),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

// OpenSubmission 取回或创建某贡献者在某阶段的上传批次。
// (project_id, stage, contributor_id) 唯一，重复提交追加到同一批次。
func (r *ArtifactRepository) OpenSubmission(ctx context.Context, projectID int64, stage string, contributorID int64) (int64, error) {
	query := `
        INSERT INTO team_submissions (project_id, stage, contributor_id)
        VALUES ($1, $2, $3)
        ON CONFLICT (project_id, stage, contributor_id) DO UPDATE SET contributor_id = EXCLUDED.contributor_id
        RETURNING id
    `
	var id int64
	if err := r.db.QueryRow(ctx, query, projectID, stage, contributorID).Scan(&id); err != nil {
		r.logger.Error("Failed to open submission",
			zap.Int64("project_id", projectID),
			zap.String("stage", stage),
			zap.Int64("contributor_id", contributorID),
			zap.Error(err),
		)
		return 0, err
	}
	return id, nil
}

// GetSubmission 查找贡献者批次；不存在返回 NotFoundError
func (r *ArtifactRepository) GetSubmission(ctx context.Context, projectID int64, stage string, contributorID int64) (*model.Submission, error) {
	query := `
        SELECT id, project_id, stage, contributor_id, created_at
        FROM team_submissions
        WHERE project_id = $1 AND stage = $2 AND contributor_id = $3
    `
	var s model.Submission
	err := r.db.QueryRow(ctx, query, projectID, stage, contributorID).Scan(
		&s.ID, &s.ProjectID, &s.Stage, &s.ContributorID, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NewNotFound("submission", contributorID)
		}
		return nil, err
	}
	return &s, nil
}

// AppendToSubmission 把文件追加到贡献者批次
func (r *ArtifactRepository) AppendToSubmission(ctx context.Context, submissionID, projectID int64, stage string, contributorID int64, at time.Time, inputs []ArtifactInput) error {
	query := `
        INSERT INTO artifacts (project_id, stage, name, storage_key, size, content_kind, uploader_id, uploaded_at, submission_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	for _, in := range inputs {
		if _, err := r.db.Exec(ctx, query,
			projectID, stage, in.Name, in.StorageKey, in.Size, in.ContentKind, contributorID, at, submissionID,
		); err != nil {
			r.logger.Error("Failed to append artifact to submission",
				zap.Int64("submission_id", submissionID),
				zap.String("name", in.Name),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

// ListByStage 列出阶段的正式清单：负责人直传的文件，加上已并入的贡献文件。
// 未并入的批次文件只出现在负责人的待审视图里。
func (r *ArtifactRepository) ListByStage(ctx context.Context, projectID int64, stage string) ([]model.Artifact, error) {
	query := `
        SELECT id, project_id, stage, name, storage_key, size, content_kind,
               uploader_id, uploaded_at, submission_id, integrated_at, integrated_by
        FROM artifacts
        WHERE project_id = $1 AND stage = $2
          AND (submission_id IS NULL OR integrated_at IS NOT NULL)
        ORDER BY uploaded_at ASC, id ASC
    `
	rows, err := r.db.Query(ctx, query, projectID, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArtifacts(rows)
}

// ListUnintegrated 列出某批次中尚未并入的文件
func (r *ArtifactRepository) ListUnintegrated(ctx context.Context, submissionID int64) ([]model.Artifact, error) {
	query := `
        SELECT id, project_id, stage, name, storage_key, size, content_kind,
               uploader_id, uploaded_at, submission_id, integrated_at, integrated_by
        FROM artifacts
        WHERE submission_id = $1 AND integrated_at IS NULL
        ORDER BY uploaded_at ASC, id ASC
    `
	rows, err := r.db.Query(ctx, query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArtifacts(rows)
}

// MarkIntegrated 给未并入的文件盖上并入戳；已并入的行不会被改写（幂等）
func (r *ArtifactRepository) MarkIntegrated(ctx context.Context, ids []int64, leadID int64, at time.Time) (int, error) {
	query := `
        UPDATE artifacts
        SET integrated_at = $1, integrated_by = $2
        WHERE id = ANY($3) AND integrated_at IS NULL
    `
	tag, err := r.db.Exec(ctx, query, at, leadID, ids)
	if err != nil {
		r.logger.Error("Failed to mark artifacts integrated", zap.Error(err))
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CountUnintegrated 统计阶段中未并入的贡献文件数（阶段完成时的软告警）
func (r *ArtifactRepository) CountUnintegrated(ctx context.Context, projectID int64, stage string) (int, error) {
	query := `
        SELECT COUNT(*) FROM artifacts
        WHERE project_id = $1 AND stage = $2
          AND submission_id IS NOT NULL AND integrated_at IS NULL
    `
	var count int
	if err := r.db.QueryRow(ctx, query, projectID, stage).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetArtifact 按 id 查找文件描述
func (r *ArtifactRepository) GetArtifact(ctx context.Context, id int64) (*model.Artifact, error) {
	query := `
        SELECT id, project_id, stage, name, storage_key, size, content_kind,
               uploader_id, uploaded_at, submission_id, integrated_at, integrated_by
        FROM artifacts
        WHERE id = $1
    `
	row := r.db.QueryRow(ctx, query, id)
	var a model.Artifact
	err := row.Scan(
		&a.ID, &a.ProjectID, &a.Stage, &a.Name, &a.StorageKey, &a.Size, &a.ContentKind,
		&a.UploaderID, &a.UploadedAt, &a.SubmissionID, &a.IntegratedAt, &a.IntegratedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NewNotFound("artifact", id)
		}
		return nil, err
	}
	return &a, nil
}

// DeleteUnintegrated 条件删除：只删本人上传且未并入的文件。
// 已并入的文件对贡献者只读，这里的 WHERE 条件就是那条前置约束。
func (r *ArtifactRepository) DeleteUnintegrated(ctx context.Context, id, uploaderID int64) (bool, error) {
	query := `
        DELETE FROM artifacts
        WHERE id = $1 AND uploader_id = $2 AND integrated_at IS NULL
    `
	tag, err := r.db.Exec(ctx, query, id, uploaderID)
	if err != nil {
		r.logger.Error("Failed to delete artifact", zap.Int64("id", id), zap.Error(err))
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanArtifacts(rows pgx.Rows) ([]model.Artifact, error) {
	var artifacts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(
			&a.ID, &a.ProjectID, &a.Stage, &a.Name, &a.StorageKey, &a.Size, &a.ContentKind,
			&a.UploaderID, &a.UploadedAt, &a.SubmissionID, &a.IntegratedAt, &a.IntegratedBy,
		); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
