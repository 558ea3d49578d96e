package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskhub/internal/api/middleware"
	"taskhub/internal/api/respond"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/notify"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Handler 提供注册、登录与账号资料接口。
type Handler struct {
	store     UserStore
	jwtSecret []byte
	tokenTTL  time.Duration
	mailer    notify.Notifier
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(store UserStore, jwtSecret string, tokenTTL time.Duration, mailer notify.Notifier, logger *slog.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &Handler{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		mailer:    mailer,
		logger:    logger,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type updateProfileRequest struct {
	Name   *string `json:"name" binding:"omitempty,min=1,max=50"`
	Avatar *string `json:"avatar" binding:"omitempty,max=255"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6"`
}

// userResponse 账号公开视图。密码哈希永远不出现在这里。
type userResponse struct {
	ID          uint       `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Avatar      string     `json:"avatar,omitempty"`
	ProfileURL  string     `json:"profileUrl"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type authResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Avatar:      u.AvatarURL,
		ProfileURL:  u.ProfileURL(),
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// Register 创建新用户并直接签发令牌。
//
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respond.Error(c, http.StatusBadRequest, "name must not be empty")
		return
	}

	_, err := h.store.FindByEmail(c.Request.Context(), email)
	if err == nil {
		respond.Error(c, http.StatusBadRequest, "email already registered")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		respond.Internal(c, "query user failed", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respond.Internal(c, "hash password failed", err)
		return
	}

	user := model.User{
		Email:    email,
		Name:     name,
		Password: string(hash),
		IsActive: true,
	}
	if err := h.store.Create(c.Request.Context(), &user); err != nil {
		h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		respond.Internal(c, "create user failed", err)
		return
	}

	token, err := h.issueToken(user.ID)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		respond.Internal(c, "sign token failed", err)
		return
	}

	// 欢迎邮件尽力而为，失败不影响注册结果。
	if h.mailer != nil {
		if err := h.mailer.SendWelcome(user.Email, user.Name); err != nil {
			h.logger.Warn("send welcome email failed", slog.String("email", email), slog.String("error", err.Error()))
		}
	}

	metrics.UsersRegisteredTotal.Inc()
	h.logger.Info("user registered", slog.String("email", email))
	respond.OK(c, http.StatusCreated, authResponse{User: newUserResponse(&user), Token: token})
}

// Login 校验凭据并签发令牌。
//
// 无论邮箱不存在、密码错误还是账号停用，都返回同一句 "invalid
// credentials"，避免账号枚举。
//
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.store.FindByEmail(c.Request.Context(), email)
	if err != nil {
		respond.Error(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		respond.Error(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !user.IsActive {
		respond.Error(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now()
	if err := h.store.Update(c.Request.Context(), user.ID, map[string]interface{}{"last_login_at": now}); err != nil {
		h.logger.Warn("update last login failed", slog.String("email", email), slog.String("error", err.Error()))
	} else {
		user.LastLoginAt = &now
	}

	token, err := h.issueToken(user.ID)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		respond.Internal(c, "sign token failed", err)
		return
	}

	h.logger.Info("user logged in", slog.String("email", email))
	respond.OK(c, http.StatusOK, authResponse{User: newUserResponse(user), Token: token})
}

// Me 返回当前用户的公开资料。
//
// GET /auth/me
func (h *Handler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		respond.Error(c, http.StatusUnauthorized, "no token")
		return
	}
	respond.OK(c, http.StatusOK, newUserResponse(user))
}

// UpdateProfile 更新显示名称与头像。邮箱不可修改。
//
// PUT /auth/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		respond.Error(c, http.StatusUnauthorized, "no token")
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			respond.Error(c, http.StatusBadRequest, "name must not be empty")
			return
		}
		updates["name"] = name
		user.Name = name
	}
	if req.Avatar != nil {
		updates["avatar_url"] = *req.Avatar
		user.AvatarURL = *req.Avatar
	}
	if len(updates) == 0 {
		respond.Error(c, http.StatusBadRequest, "no updates")
		return
	}

	if err := h.store.Update(c.Request.Context(), user.ID, updates); err != nil {
		h.logger.Error("update profile failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		respond.Internal(c, "update profile failed", err)
		return
	}

	respond.OK(c, http.StatusOK, newUserResponse(user))
}

// ChangePassword 在校验当前密码后更换密码。
//
// 已签发的令牌不受影响，仍然用到自身过期为止。
//
// PUT /auth/password
func (h *Handler) ChangePassword(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		respond.Error(c, http.StatusUnauthorized, "no token")
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		respond.Error(c, http.StatusBadRequest, "current password is incorrect")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respond.Internal(c, "hash password failed", err)
		return
	}

	if err := h.store.Update(c.Request.Context(), user.ID, map[string]interface{}{"password": string(hash)}); err != nil {
		h.logger.Error("change password failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		respond.Internal(c, "change password failed", err)
		return
	}

	h.logger.Info("password changed", slog.String("email", user.Email))
	respond.OKMessage(c, http.StatusOK, "password updated")
}

// Logout 处理注销请求（令牌无状态，服务端仅确认）。
//
// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	respond.OKMessage(c, http.StatusOK, "logged out")
}

func (h *Handler) issueToken(userID uint) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(h.tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}
