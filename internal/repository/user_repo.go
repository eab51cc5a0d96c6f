package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
	"prodtrack/pkg/rbac"
)

type UserRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewUserRepository(db *pgxpool.Pool, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

func (r *UserRepository) Insert(ctx context.Context, u *model.User) (int64, error) {
	query := `
        INSERT INTO users (username, password_hash, roles, lead_roles, active)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	var id int64
	err := r.db.QueryRow(ctx, query,
		u.Username,
		u.PasswordHash,
		u.Roles,
		u.LeadRoles,
		u.Active,
	).Scan(&id)

	if err != nil {
		r.logger.Error("Failed to insert user", zap.Error(err))
		return 0, err
	}

	r.logger.Info("User inserted successfully",
		zap.Int64("id", id),
		zap.String("username", u.Username),
	)
	return id, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	query := `
        SELECT id, username, password_hash, roles, lead_roles, active, created_at
        FROM users
        WHERE id = $1
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.Roles,
		&u.LeadRoles,
		&u.Active,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NewNotFound("user", id)
		}
		r.logger.Error("Failed to find user", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `
        SELECT id, username, password_hash, roles, lead_roles, active, created_at
        FROM users
        WHERE username = $1
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, username).Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.Roles,
		&u.LeadRoles,
		&u.Active,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NewNotFound("user", 0)
		}
		return nil, err
	}
	return &u, nil
}

// ListActiveByRole 列出持有指定角色的在册用户
func (r *UserRepository) ListActiveByRole(ctx context.Context, role string) ([]model.User, error) {
	query := `
        SELECT id, username, password_hash, roles, lead_roles, active, created_at
        FROM users
        WHERE active = TRUE AND $1 = ANY(roles)
        ORDER BY id ASC
    `
	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		r.logger.Error("Failed to list users by role", zap.String("role", role), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

// ListLeadsForRole 列出指定角色的 primary lead
func (r *UserRepository) ListLeadsForRole(ctx context.Context, role string) ([]model.User, error) {
	query := `
        SELECT id, username, password_hash, roles, lead_roles, active, created_at
        FROM users
        WHERE active = TRUE AND $1 = ANY(lead_roles)
        ORDER BY id ASC
    `
	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		r.logger.Error("Failed to list leads for role", zap.String("role", role), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

// CountActiveApprovers 统计当前在册审批人数量（动态法定票数的分母）
func (r *UserRepository) CountActiveApprovers(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM users WHERE active = TRUE AND $1 = ANY(roles)`
	var count int
	if err := r.db.QueryRow(ctx, query, rbac.RoleApprover).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanUsers(rows pgx.Rows) ([]model.User, error) {
	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(
			&u.ID,
			&u.Username,
			&u.PasswordHash,
			&u.Roles,
			&u.LeadRoles,
			&u.Active,
			&u.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
