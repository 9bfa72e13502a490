package controller

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saxenaaman628/balance-game/internal/models"
	"github.com/saxenaaman628/balance-game/internal/store"
)

type commentPayload struct {
	Content string `json:"content"`
}

type CommentHandler struct {
	store *store.Store
}

func NewCommentHandler(s *store.Store) *CommentHandler {
	return &CommentHandler{store: s}
}

func (h *CommentHandler) List(c *gin.Context) {
	comments, err := h.store.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		slog.Error("failed to list comments", "game_id", c.Param("id"), "error", err)
		comments = []models.Comment{}
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *CommentHandler) Create(c *gin.Context) {
	var payload commentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid comment payload"})
		return
	}
	comment, err := h.store.CreateComment(c.Request.Context(), c.Param("id"), currentUser(c), payload.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": comment})
}

func (h *CommentHandler) Update(c *gin.Context) {
	var payload commentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid comment payload"})
		return
	}
	comment, err := h.store.UpdateComment(c.Request.Context(), c.Param("id"), currentUser(c), payload.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": comment})
}

func (h *CommentHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteComment(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted successfully"})
}
