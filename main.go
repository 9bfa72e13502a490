package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/saxenaaman628/balance-game/config"
	"github.com/saxenaaman628/balance-game/internal/api"
	"github.com/saxenaaman628/balance-game/internal/auth"
	"github.com/saxenaaman628/balance-game/internal/changefeed"
	"github.com/saxenaaman628/balance-game/internal/database"
	"github.com/saxenaaman628/balance-game/internal/media"
	"github.com/saxenaaman628/balance-game/internal/redis"
	redishandler "github.com/saxenaaman628/balance-game/internal/redisHandler"
	"github.com/saxenaaman628/balance-game/internal/session"
	"github.com/saxenaaman628/balance-game/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	config.LoadEnv()

	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	notifier, release, err := newNotifier(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer release()
	if err := db.Use(changefeed.NewPlugin(notifier, changefeed.TableVotes, changefeed.TableComments)); err != nil {
		notifier.Close()
		return fmt.Errorf("register changefeed: %w", err)
	}

	var provider *auth.Provider
	if cfg.OAuthEnabled() {
		provider = auth.NewProvider(auth.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			AuthURL:      cfg.OAuthAuthURL,
			TokenURL:     cfg.OAuthTokenURL,
			UserInfoURL:  cfg.OAuthUserInfoURL,
			RedirectURL:  cfg.OAuthRedirectURL,
		})
	} else {
		slog.Warn("oauth settings missing, sign-in disabled")
	}
	sessions := session.New(notifier, cfg.JWTSecret, provider)
	defer sessions.Close()

	images, err := media.NewStore(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		return err
	}

	r := gin.Default()
	r.MaxMultipartMemory = 2 * media.MaxImageSize
	api.RegisterRoutes(r, api.Deps{
		Store:    store.New(db),
		Sessions: sessions,
		Media:    images,
		MediaURL: cfg.MediaBaseURL,

		SecureCookies: cfg.CookieSecure,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr, "database", cfg.DatabaseType, "notifier", cfg.Notifier)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	// event streams end once the manager closes
	sessions.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newNotifier picks the change transport. release frees what the
// notifier connected to and runs after the notifier is closed.
func newNotifier(ctx context.Context, cfg config.Config, db *gorm.DB) (changefeed.Notifier, func(), error) {
	noop := func() {}
	switch cfg.Notifier {
	case config.NotifierRedis:
		rdb, err := redis.NewClient(ctx, cfg.RedisURI, cfg.RedisPassword)
		if err != nil {
			return nil, noop, err
		}
		return redishandler.NewNotifier(rdb), func() { rdb.Close() }, nil
	case config.NotifierPostgres:
		sqlDB, err := db.DB()
		if err != nil {
			return nil, noop, err
		}
		return changefeed.NewPGNotifier(sqlDB, cfg.DatabaseURL), noop, nil
	}
	return changefeed.NewHub(), noop, nil
}
