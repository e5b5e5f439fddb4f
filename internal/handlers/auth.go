package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/csyeqing/rag-platform/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
	audit       services.AuditService
}

func NewAuthHandler(authService services.AuthService, audit services.AuditService) *AuthHandler {
	return &AuthHandler{authService: authService, audit: audit}
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := ah.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	userID := result.UserID
	ah.audit.Record(c.Request.Context(), &userID, "auth.login", "user", userID.String(), nil)
	c.JSON(http.StatusOK, gin.H{
		"token":    gin.H{"access_token": result.AccessToken, "token_type": "bearer"},
		"role":     result.Role,
		"username": result.Username,
	})
}

func (ah *AuthHandler) Me(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	user, err := ah.authService.GetUser(c.Request.Context(), rd.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, user)
}
