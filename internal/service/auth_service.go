package service

import (
	"context"

	"go.uber.org/zap"

	"prodtrack/internal/apperr"
	"prodtrack/internal/model"
	"prodtrack/internal/repository"
	"prodtrack/pkg/util"
)

// AuthService 注册与登录。角色归属在注册时写入，引擎其余部分只消费角色。
type AuthService struct {
	users     *repository.UserRepository
	jwtSecret string
	logger    *zap.Logger
}

func NewAuthService(users *repository.UserRepository, jwtSecret string, log *zap.Logger) *AuthService {
	return &AuthService{
		users:     users,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

type RegisterInput struct {
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Roles     []string `json:"roles"`
	LeadRoles []string `json:"lead_roles"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (int64, error) {
	if in.Username == "" {
		return 0, apperr.NewValidation("username", "must not be empty")
	}
	if len(in.Password) < 6 {
		return 0, apperr.NewValidation("password", "must be at least 6 characters")
	}
	if len(in.Roles) == 0 {
		return 0, apperr.NewValidation("roles", "at least one role is required")
	}
	// 只能担任自己持有的角色的负责人
	for _, lr := range in.LeadRoles {
		found := false
		for _, r := range in.Roles {
			if r == lr {
				found = true
				break
			}
		}
		if !found {
			return 0, apperr.NewValidation("lead_roles", "lead role must be among the user's roles")
		}
	}

	hash, err := util.HashPassword(in.Password)
	if err != nil {
		return 0, err
	}

	id, err := s.users.Insert(ctx, &model.User{
		Username:     in.Username,
		PasswordHash: hash,
		Roles:        in.Roles,
		LeadRoles:    in.LeadRoles,
		Active:       true,
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("User registered",
		zap.Int64("user_id", id),
		zap.String("username", in.Username),
	)
	return id, nil
}

// Login 校验密码并签发 JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *model.User, error) {
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return "", nil, err
	}
	if !u.Active || !util.CheckPassword(password, u.PasswordHash) {
		return "", nil, apperr.NewPermission(u.ID, "log in with these credentials")
	}

	token, err := util.GenerateJWT(u.ID, s.jwtSecret)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}
