package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saxenaaman628/balance-game/internal/identity"
	"github.com/saxenaaman628/balance-game/internal/middleware"
	"github.com/saxenaaman628/balance-game/internal/models"
	"github.com/saxenaaman628/balance-game/internal/store"
)

// VotePayload is the expected vote request
type VotePayload struct {
	Choice string `json:"choice" binding:"required"`
}

type VoteHandler struct {
	store *store.Store
}

func NewVoteHandler(s *store.Store) *VoteHandler {
	return &VoteHandler{store: s}
}

// Vote records the caller's choice and replies with the tally read after
// the write.
func (h *VoteHandler) Vote(c *gin.Context) {
	gameID := c.Param("id")

	var payload VotePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vote payload"})
		return
	}
	choice, ok := models.ParseChoice(payload.Choice)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Choice must be A or B"})
		return
	}

	id := c.MustGet(middleware.KeyIdentity).(identity.Identity)
	ctx := c.Request.Context()
	if err := h.store.Vote(ctx, gameID, choice, id.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Vote recorded successfully",
		"choice":  choice,
		"tally":   tallyResponse(gameID, h.store.GetTally(ctx, gameID)),
	})
}

// MyVote returns the caller's current choice, or null.
func (h *VoteHandler) MyVote(c *gin.Context) {
	id := c.MustGet(middleware.KeyIdentity).(identity.Identity)
	choice, ok, err := h.store.UserVote(c.Request.Context(), c.Param("id"), id.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"choice": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"choice": choice})
}
