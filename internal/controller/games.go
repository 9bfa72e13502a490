package controller

import (
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/media"
	"github.com/saxenaaman628/balance-game/internal/models"
	"github.com/saxenaaman628/balance-game/internal/store"
)

type GameHandler struct {
	store *store.Store
	media *media.Store
}

func NewGameHandler(s *store.Store, m *media.Store) *GameHandler {
	return &GameHandler{store: s, media: m}
}

type createGameInput struct {
	Title   string `json:"title" form:"title"`
	ChoiceA string `json:"choice_a" form:"choice_a"`
	ChoiceB string `json:"choice_b" form:"choice_b"`
}

// ListGames degrades to an empty list when the store fails.
func (h *GameHandler) ListGames(c *gin.Context) {
	games, err := h.store.ListGames(c.Request.Context(), store.ParseSort(c.Query("sort")))
	if err != nil {
		slog.Error("failed to list games", "error", err)
		games = []models.GameWithStats{}
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

func (h *GameHandler) ListUserGames(c *gin.Context) {
	games, err := h.store.ListGamesByUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		slog.Error("failed to list user games", "user_id", c.Param("id"), "error", err)
		games = []models.GameWithStats{}
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

func (h *GameHandler) GetGame(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.store.AddView(ctx, c.Param("id")); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		slog.Warn("failed to count view", "game_id", c.Param("id"), "error", err)
	}
	game, err := h.store.GetGame(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": game})
}

func (h *GameHandler) GetTally(c *gin.Context) {
	c.JSON(http.StatusOK, tallyResponse(c.Param("id"), h.store.GetTally(c.Request.Context(), c.Param("id"))))
}

// CreateGame accepts JSON, or a multipart form with optional image_a and
// image_b files. Images are uploaded once the game exists; a failed
// upload is logged and the game is kept without it.
func (h *GameHandler) CreateGame(c *gin.Context) {
	var input createGameInput
	if err := c.ShouldBind(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game payload"})
		return
	}

	ctx := c.Request.Context()
	game, err := h.store.CreateGame(ctx, store.NewGame{
		UserID:  currentUser(c),
		Title:   input.Title,
		ChoiceA: input.ChoiceA,
		ChoiceB: input.ChoiceB,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	var failed []string
	if strings.HasPrefix(c.ContentType(), "multipart/") && h.media != nil {
		imageA, errA := h.upload(ctx, c, game.ID, media.SideA)
		imageB, errB := h.upload(ctx, c, game.ID, media.SideB)
		if errA != nil {
			failed = append(failed, "image_a")
		}
		if errB != nil {
			failed = append(failed, "image_b")
		}
		if imageA != nil || imageB != nil {
			if updated, err := h.store.SetImageURLs(ctx, game.ID, imageA, imageB); err != nil {
				slog.Error("failed to save image urls", "game_id", game.ID, "error", err)
			} else {
				game = updated
			}
		}
	}

	resp := gin.H{"message": "Game created", "data": game}
	if len(failed) > 0 {
		resp["failed_uploads"] = failed
	}
	c.JSON(http.StatusCreated, resp)
}

// upload stores one side's image if the form carries it. A nil URL with
// a nil error means no file was sent.
func (h *GameHandler) upload(ctx context.Context, c *gin.Context, gameID string, side media.Side) (*string, error) {
	fh, err := c.FormFile("image_" + string(side))
	if err != nil {
		return nil, nil
	}
	url, err := h.saveFile(ctx, gameID, side, fh)
	if err != nil {
		slog.Error("image upload failed", "game_id", gameID, "side", side, "error", err)
		return nil, err
	}
	return &url, nil
}

func (h *GameHandler) saveFile(ctx context.Context, gameID string, side media.Side, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.media.Save(ctx, gameID, side, fh.Filename, fh.Header.Get("Content-Type"), f)
}

func tallyResponse(gameID string, t models.Tally) gin.H {
	pa, pb := t.Percent()
	return gin.H{
		"game_id":      gameID,
		"vote_count_a": t.A,
		"vote_count_b": t.B,
		"total_votes":  t.Total,
		"percent_a":    pa,
		"percent_b":    pb,
	}
}
