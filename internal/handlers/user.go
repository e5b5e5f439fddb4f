package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/csyeqing/rag-platform/internal/services"
)

type UserHandler struct {
	authService services.AuthService
	audit       services.AuditService
}

func NewUserHandler(authService services.AuthService, audit services.AuditService) *UserHandler {
	return &UserHandler{authService: authService, audit: audit}
}

func (uh *UserHandler) List(c *gin.Context) {
	users, err := uh.authService.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, users)
}

func (uh *UserHandler) Create(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := uh.authService.CreateUser(c.Request.Context(), services.CreateUserParams{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	uh.audit.Record(c.Request.Context(), &actorID, "admin.user.create", "user", user.ID.String(), map[string]any{"username": user.Username, "role": user.Role})
	respondOK(c, user)
}

func (uh *UserHandler) Update(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	targetID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Password *string `json:"password"`
		Role     *string `json:"role"`
		IsActive *bool   `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := uh.authService.UpdateUser(c.Request.Context(), rd.UserID, targetID, services.UpdateUserParams{
		Password: req.Password,
		Role:     req.Role,
		IsActive: req.IsActive,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	uh.audit.Record(c.Request.Context(), &actorID, "admin.user.update", "user", user.ID.String(), nil)
	respondOK(c, user)
}
