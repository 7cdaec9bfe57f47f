package service

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/model/dto"
	"github.com/qs3c/print_go_server/internal/pkg/jwt"
)

var ErrInvalidCredentials = errors.New("密码错误")

type AuthService struct {
	cfg *config.Config
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// Login 管理员登录
func (s *AuthService) Login(req *dto.LoginRequest) (*dto.LoginResponse, error) {
	if s.cfg.Admin.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Admin.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 生成 Token
	token, err := jwt.GenerateToken(1, true, s.cfg.JWT.Secret, s.cfg.JWT.ExpireHours)
	if err != nil {
		return nil, err
	}

	return &dto.LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(time.Duration(s.cfg.JWT.ExpireHours) * time.Hour).Format(time.RFC3339),
	}, nil
}
