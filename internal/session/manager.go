// Package session owns the long-lived pieces a request needs: the token
// signer, the OAuth provider, the change notifier and every open live
// view. One Manager is built at startup and handed to the handlers.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/saxenaaman628/balance-game/internal/auth"
	"github.com/saxenaaman628/balance-game/internal/changefeed"
	"github.com/saxenaaman628/balance-game/internal/reconcile"
	"github.com/saxenaaman628/balance-game/internal/utils"
)

var ErrClosed = errors.New("session: manager closed")

type Manager struct {
	notifier  changefeed.Notifier
	jwtSecret string
	provider  *auth.Provider

	mu     sync.Mutex
	views  map[*reconcile.View]struct{}
	closed bool
	done   chan struct{}
}

// New builds a Manager. provider may be nil when sign-in is disabled.
func New(notifier changefeed.Notifier, jwtSecret string, provider *auth.Provider) *Manager {
	return &Manager{
		notifier:  notifier,
		jwtSecret: jwtSecret,
		provider:  provider,
		views:     make(map[*reconcile.View]struct{}),
		done:      make(chan struct{}),
	}
}

// Done is closed when the manager closes. Long-lived streams watch it.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) Notifier() changefeed.Notifier { return m.notifier }

func (m *Manager) Provider() *auth.Provider { return m.provider }

func (m *Manager) Issue(userID, username string) (string, error) {
	return utils.GenerateJWTToken(m.jwtSecret, userID, username)
}

func (m *Manager) Verify(token string) (*utils.Claims, error) {
	return utils.ParseJWTToken(m.jwtSecret, token)
}

// OpenView starts a live view on scope. The caller closes it with
// CloseView; views still open when the manager closes are stopped then.
func (m *Manager) OpenView(ctx context.Context, scope changefeed.Scope, tallier reconcile.Tallier, opts ...reconcile.Option) (*reconcile.View, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	view := reconcile.New(m.notifier, tallier, opts...)
	m.views[view] = struct{}{}
	m.mu.Unlock()

	if err := view.Start(ctx, scope); err != nil {
		m.CloseView(view)
		return nil, err
	}
	return view, nil
}

func (m *Manager) CloseView(view *reconcile.View) {
	m.mu.Lock()
	delete(m.views, view)
	m.mu.Unlock()
	if err := view.Stop(); err != nil {
		slog.Warn("closing view", "error", err)
	}
}

func (m *Manager) OpenViews() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// Close stops every open view and then the notifier.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	views := make([]*reconcile.View, 0, len(m.views))
	for v := range m.views {
		views = append(views, v)
	}
	m.views = make(map[*reconcile.View]struct{})
	m.mu.Unlock()

	for _, v := range views {
		v.Stop()
	}
	slog.Info("session manager closed", "views", len(views))
	return m.notifier.Close()
}
