package auth

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/models"
	"github.com/pulseboard/signage/pkg/response"
	"github.com/pulseboard/signage/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	FullName string `json:"full_name" binding:"required"`
	Role     string `json:"role"` // optional, defaults to operator
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string                `json:"token"`
	User  models.OperatorPublic `json:"user"`
}

// ModuleTokenRequest is the body for POST /auth/module-token (admin).
type ModuleTokenRequest struct {
	Name    string `json:"name" binding:"required"`
	TTLDays int    `json:"ttl_days"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   *Repository
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, jwt *JWTService, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// Register handles POST /auth/register (admin).
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	role := models.RoleOperator
	switch req.Role {
	case "", "operator":
	case "admin":
		role = models.RoleAdmin
	default:
		response.BadRequest(c, "invalid role")
		return
	}

	if _, err := h.repo.GetByEmail(c.Request.Context(), req.Email); err == nil {
		response.BadRequest(c, "email already registered")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	op, err := h.repo.Create(c.Request.Context(), req.Email, hash, req.FullName, role)
	if err != nil {
		response.Internal(c, "failed to create account")
		return
	}

	token, err := h.jwt.Generate(op.ID, op.Email, string(op.Role))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.Created(c, TokenResponse{Token: token, User: op.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	op, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !utils.CheckPassword(req.Password, op.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(op.ID, op.Email, string(op.Role))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: op.ToPublic()})
}

// List handles GET /auth/accounts (admin).
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list accounts")
		return
	}
	response.OK(c, list)
}

// ModuleToken handles POST /auth/module-token (admin). Mints a long-lived
// credential a renderer module presents on its WebSocket connection.
func (h *Handler) ModuleToken(c *gin.Context) {
	var req ModuleTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ttlDays := req.TTLDays
	if ttlDays <= 0 {
		ttlDays = 365
	}

	token, err := h.jwt.GenerateModule(req.Name, time.Duration(ttlDays)*24*time.Hour)
	if err != nil {
		response.Internal(c, "failed to generate module token")
		return
	}
	h.logger.Info("module token issued", zap.String("module", req.Name), zap.Int("ttl_days", ttlDays))
	response.Created(c, gin.H{"token": token, "name": req.Name, "ttl_days": ttlDays})
}
