package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
)

const pgUniqueViolation = "23505"

type ProposalRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewProposalRepository(db *pgxpool.Pool, logger *zap.Logger) *ProposalRepository {
	return &ProposalRepository{
		db:     db,
		logger: logger,
	}
}

func (r *ProposalRepository) Insert(ctx context.Context, p *model.Proposal) (int64, error) {
	r.logger.Debug("Inserting proposal",
		zap.String("kind", p.Kind),
		zap.String("name", p.Name),
		zap.Int64("requester_id", p.RequesterID),
	)

	query := `
        INSERT INTO proposals
            (kind, name, description, direction, purpose, contract_terms,
             budget, duration_days, priority, requester_id, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `
	var id int64
	err := r.db.QueryRow(ctx, query,
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
	).Scan(&id)

	if err != nil {
		r.logger.Error("Failed to insert proposal", zap.Error(err))
		return 0, err
	}

	r.logger.Info("Proposal inserted successfully",
		zap.Int64("id", id),
		zap.String("name", p.Name),
	)
	return id, nil
}

func (r *ProposalRepository) Get(ctx context.Context, id int64) (*model.Proposal, error) {
	query := `
        SELECT id, kind, name, description, direction, purpose, contract_terms,
               budget, duration_days, priority, requester_id, status,
               approved_count, rejected_count, created_at,
               rejected_by, rejected_at, reject_comment
        FROM proposals
        WHERE id = $1
    `
	var p model.Proposal
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
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
		&p.ApprovedCount,
		&p.RejectedCount,
		&p.CreatedAt,
		&p.RejectedBy,
		&p.RejectedAt,
		&p.RejectComment,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NewNotFound("proposal", id)
		}
		r.logger.Error("Failed to get proposal", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	return &p, nil
}

// AddDecision 记录一条审批决定。
// (proposal_id, approver_id) 上的唯一索引保证同一审批人只能记录一次，
// 并发重复提交由数据库裁决。
func (r *ProposalRepository) AddDecision(ctx context.Context, d *model.Decision) error {
	query := `
        INSERT INTO proposal_decisions (proposal_id, approver_id, decision, comment, decided_at)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.db.Exec(ctx, query,
		d.ProposalID,
		d.ApproverID,
		d.Decision,
		d.Comment,
		d.DecidedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &apperr.DuplicateDecisionError{
				ProposalID: d.ProposalID,
				ApproverID: d.ApproverID,
			}
		}
		r.logger.Error("Failed to add decision", zap.Error(err))
		return err
	}
	return nil
}

// ListDecisions 列出某个申请的全部审批决定
func (r *ProposalRepository) ListDecisions(ctx context.Context, proposalID int64) ([]model.Decision, error) {
	query := `
        SELECT id, proposal_id, approver_id, decision, comment, decided_at
        FROM proposal_decisions
        WHERE proposal_id = $1
        ORDER BY decided_at ASC
    `
	rows, err := r.db.Query(ctx, query, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []model.Decision
	for rows.Next() {
		var d model.Decision
		if err := rows.Scan(&d.ID, &d.ProposalID, &d.ApproverID, &d.Decision, &d.Comment, &d.DecidedAt); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// IncrementApproved 条件自增赞成票：只有 pending 状态下才生效
func (r *ProposalRepository) IncrementApproved(ctx context.Context, id int64) (*model.Proposal, error) {
	query := `
        UPDATE proposals
        SET approved_count = approved_count + 1
        WHERE id = $1 AND status = $2
        RETURNING approved_count
    `
	var approvedCount int
	err := r.db.QueryRow(ctx, query, id, model.ProposalStatusPending).Scan(&approvedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NewInvalidState("proposal", "not pending")
		}
		r.logger.Error("Failed to increment approved count", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	return r.Get(ctx, id)
}

// MarkRejected 条件拒绝：pending → rejected，记录否决人/时间/理由
func (r *ProposalRepository) MarkRejected(ctx context.Context, id, rejectedBy int64, comment string, at time.Time) error {
	query := `
        UPDATE proposals
        SET status = $1, rejected_count = rejected_count + 1,
            rejected_by = $2, rejected_at = $3, reject_comment = $4
        WHERE id = $5 AND status = $6
    `
	tag, err := r.db.Exec(ctx, query,
		model.ProposalStatusRejected,
		rejectedBy,
		at,
		comment,
		id,
		model.ProposalStatusPending,
	)
	if err != nil {
		r.logger.Error("Failed to mark proposal rejected", zap.Int64("id", id), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewInvalidState("proposal", "not pending")
	}
	return nil
}

// ClaimPromotion 晋升占位：pending → promoting，并发审批下只有一个调用能抢到
func (r *ProposalRepository) ClaimPromotion(ctx context.Context, id int64) (bool, error) {
	query := `
        UPDATE proposals
        SET status = $1
        WHERE id = $2 AND status = $3
    `
	tag, err := r.db.Exec(ctx, query, model.ProposalStatusPromoting, id, model.ProposalStatusPending)
	if err != nil {
		r.logger.Error("Failed to claim promotion", zap.Int64("id", id), zap.Error(err))
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleasePromotion 晋升回滚：promoting → pending。
// 项目落库失败时调用，闸门可以由后续审批重新晋升。
func (r *ProposalRepository) ReleasePromotion(ctx context.Context, id int64) error {
	query := `
        UPDATE proposals
        SET status = $1
        WHERE id = $2 AND status = $3
    `
	_, err := r.db.Exec(ctx, query, model.ProposalStatusPending, id, model.ProposalStatusPromoting)
	if err != nil {
		r.logger.Error("Failed to release promotion claim", zap.Int64("id", id), zap.Error(err))
	}
	return err
}

// Delete 晋升完成后删除申请（两个集合互斥）
func (r *ProposalRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM proposals WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete proposal", zap.Int64("id", id), zap.Error(err))
	}
	return err
}

// ListPending 列出待审批申请
func (r *ProposalRepository) ListPending(ctx context.Context) ([]model.Proposal, error) {
	query := `
        SELECT id, kind, name, description, direction, purpose, contract_terms,
               budget, duration_days, priority, requester_id, status,
               approved_count, rejected_count, created_at,
               rejected_by, rejected_at, reject_comment
        FROM proposals
        WHERE status = $1
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, model.ProposalStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		var p model.Proposal
		if err := rows.Scan(
			&p.ID,
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
			&p.ApprovedCount,
			&p.RejectedCount,
			&p.CreatedAt,
			&p.RejectedBy,
			&p.RejectedAt,
			&p.RejectComment,
		); err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}
