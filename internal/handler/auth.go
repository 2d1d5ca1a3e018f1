package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/aman-churiwal/ai-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
		Name     string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	err := h.service.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	switch {
	case errors.Is(err, service.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": gin.H{"kind": "conflict", "message": err.Error()}})
		return
	case errors.Is(err, service.ErrRegistrationClosed):
		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"kind": "forbidden", "message": "Registration is closed"}})
		return
	case err != nil:
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully"})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	token, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, apperr.New(apperr.KindAuthentication, "Invalid email or password"))
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
	})
}

// Returns the user behind the current token
func (h *AuthHandler) Me(c *gin.Context) {
	userID, _ := c.Get("user_id")
	id, _ := userID.(string)

	user, err := h.service.GetUserByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if user == nil {
		notFound(c, "User not found")
		return
	}

	c.JSON(http.StatusOK, user)
}
