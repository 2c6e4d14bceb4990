package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
)

// AuthHandler exposes the identity carried by the caller's token. Tokens
// themselves are minted by the identity provider sharing JWT_SECRET.
type AuthHandler struct{}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me godoc
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)

	data := gin.H{
		"user_id": claims.UserID(),
		"role":    claims.Role,
		"email":   claims.Email,
	}
	if claims.ExpiresAt != nil {
		data["expires_at"] = claims.ExpiresAt.Time
	}

	response.Success(c, http.StatusOK, data)
}
