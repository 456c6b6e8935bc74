package handler

import (
	"net/http"

	"pairwave/backend/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type matchRequest struct {
	Preferences models.Preferences `json:"preferences"`
}

// RequestMatch is the allocator RPC: it either pairs the caller with a
// waiting user or enqueues the caller. The response is the discriminated
// union {status:"waiting"} | {status:"matched", roomId, partnerId}.
func (h *Handler) RequestMatch(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}

	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.Allocator.RequestMatch(c.Request.Context(), callerID, req.Preferences)
	if err != nil {
		h.Logger.Error("request match failed", zap.String("user_id", callerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "match request failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelSearch drops the caller's waiting entry.
func (h *Handler) CancelSearch(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	if err := h.Allocator.CancelSearch(c.Request.Context(), callerID); err != nil {
		h.Logger.Error("cancel search failed", zap.String("user_id", callerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
