package dto

// LoginRequest 运营后台登录
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录成功返回的凭证
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}
