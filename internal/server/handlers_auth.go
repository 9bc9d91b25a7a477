package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/auth"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type signUpPayload struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Username string `json:"username"`
}

type signInPayload struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type userPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

type sessionPayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

func newUserPayload(profile users.Profile) userPayload {
	return userPayload{
		ID:       profile.ID,
		Email:    profile.Email,
		Username: profile.Username,
		IsAdmin:  profile.IsAdmin,
	}
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	profile, err := h.profiles.SignUp(c.Request.Context(), request.Email, request.Password, request.Username)
	if err != nil {
		h.respondError(c, "sign up failed", err)
		return
	}
	h.respondSession(c, http.StatusCreated, profile)
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	profile, err := h.profiles.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, "sign in failed", err)
		return
	}
	h.respondSession(c, http.StatusOK, profile)
}

func (h *httpHandler) respondSession(c *gin.Context, status int, profile users.Profile) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), profile.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.String("user_id", profile.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, sessionPayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        newUserPayload(profile),
	})
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	if claims, ok := c.Get(claimsContextKey); ok {
		if sessionClaims, ok := claims.(auth.Claims); ok {
			h.tokens.Revoke(sessionClaims)
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	profile, err := h.profiles.GetProfile(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "current user lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(profile))
}
