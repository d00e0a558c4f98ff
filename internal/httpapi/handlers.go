package httpapi

import (
	"errors"
	"net/http"
	"time"

	"messenger-platform/internal/auth"
	"messenger-platform/internal/call"
	"messenger-platform/internal/presence"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Calls    *call.Service
	Presence *presence.Bridge
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type endCallRequest struct {
	Reason string `json:"reason"`
}

// EndCall is the REST fallback for hanging up when the websocket is gone.
// Semantics are identical to the channel path.
func (h Handlers) EndCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	roomID := c.Param("room_id")
	var req endCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	err = h.Calls.End(c.Request.Context(), roomID, userID, req.Reason)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ended": true})
	case errors.Is(err, call.ErrNotFound):
		// The call vanished or already ended elsewhere; nothing to act on.
		c.JSON(http.StatusOK, gin.H{"ended": true})
	case errors.Is(err, call.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room_id required"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "end failed"})
	}
}

// GetCall returns the session snapshot for debugging and client recovery.
func (h Handlers) GetCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	roomID := c.Param("room_id")
	sess, err := h.Calls.Snapshot(c.Request.Context(), roomID)
	switch {
	case errors.Is(err, call.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case errors.Is(err, call.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room_id required"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	if _, ok := sess.Participant(userID); !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// --- Presence ---

// MarkRead clears the caller's unread counter for a conversation.
func (h Handlers) MarkRead(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation_id required"})
		return
	}
	h.Presence.MarkRead(c.Request.Context(), userID, conversationID)
	c.JSON(http.StatusOK, gin.H{"read": true})
}
