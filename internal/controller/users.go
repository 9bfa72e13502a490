package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saxenaaman628/balance-game/internal/store"
)

type usernamePayload struct {
	Username string `json:"username" binding:"required"`
}

type UserHandler struct {
	store *store.Store
}

func NewUserHandler(s *store.Store) *UserHandler {
	return &UserHandler{store: s}
}

func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user, "needs_username": user.Username == nil})
}

func (h *UserHandler) SetUsername(c *gin.Context) {
	var payload usernamePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid username payload"})
		return
	}
	user, err := h.store.SetUsername(c.Request.Context(), currentUser(c), payload.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}
