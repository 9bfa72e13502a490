package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saxenaaman628/balance-game/internal/controller"
	"github.com/saxenaaman628/balance-game/internal/media"
	"github.com/saxenaaman628/balance-game/internal/middleware"
	"github.com/saxenaaman628/balance-game/internal/session"
	"github.com/saxenaaman628/balance-game/internal/store"
)

// Deps is everything the handlers need.
type Deps struct {
	Store     *store.Store
	Sessions  *session.Manager
	Media     *media.Store
	MediaURL  string
	KeepAlive time.Duration
	// SecureCookies marks every cookie HTTPS-only.
	SecureCookies bool
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	games := controller.NewGameHandler(d.Store, d.Media)
	votes := controller.NewVoteHandler(d.Store)
	comments := controller.NewCommentHandler(d.Store)
	users := controller.NewUserHandler(d.Store)
	authH := controller.NewAuthHandler(d.Store, d.Sessions, d.SecureCookies)
	events := controller.NewEventHandler(d.Store, d.Sessions, d.KeepAlive)

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Media != nil && d.MediaURL != "" {
		r.Static(d.MediaURL, d.Media.Dir())
	}

	r.GET("/auth/login", authH.Login)
	r.GET("/auth/callback", authH.Callback)

	api := r.Group("/api")
	api.Use(middleware.JWTAuthMiddleware(d.Sessions))
	{
		api.GET("/games", games.ListGames)
		api.GET("/games/:id", games.GetGame)
		api.GET("/games/:id/tally", games.GetTally)
		api.GET("/games/:id/comments", comments.List)
		api.GET("/users/:id/games", games.ListUserGames)

		api.GET("/games/:id/events", events.GameEvents)
		api.GET("/events", events.AllEvents)

		api.GET("/games/:id/vote", middleware.Identity(d.SecureCookies), votes.MyVote)
		api.POST("/games/:id/vote", middleware.Identity(d.SecureCookies), votes.Vote)
	}

	auth := api.Group("")
	auth.Use(middleware.RequireAuth())
	{
		auth.GET("/me", users.Me)
		auth.PUT("/me/username", users.SetUsername)
		auth.POST("/games", games.CreateGame)
		auth.POST("/games/:id/comments", comments.Create)
		auth.PATCH("/comments/:id", comments.Update)
		auth.DELETE("/comments/:id", comments.Delete)
	}
}
