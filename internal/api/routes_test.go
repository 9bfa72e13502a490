package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saxenaaman628/balance-game/config"
	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/auth"
	"github.com/saxenaaman628/balance-game/internal/changefeed"
	"github.com/saxenaaman628/balance-game/internal/database"
	"github.com/saxenaaman628/balance-game/internal/identity"
	"github.com/saxenaaman628/balance-game/internal/media"
	"github.com/saxenaaman628/balance-game/internal/middleware"
	"github.com/saxenaaman628/balance-game/internal/models"
	"github.com/saxenaaman628/balance-game/internal/session"
	"github.com/saxenaaman628/balance-game/internal/store"
)

type testApp struct {
	router   *gin.Engine
	store    *store.Store
	sessions *session.Manager
}

type appConfig struct {
	provider      *auth.Provider
	secureCookies bool
	// notifier wraps the hub handed to the session manager
	notifier func(*changefeed.Hub, *store.Store) changefeed.Notifier
}

func setupApp(t *testing.T, provider *auth.Provider) *testApp {
	t.Helper()
	return setupAppWith(t, appConfig{provider: provider})
}

func setupAppWith(t *testing.T, cfg appConfig) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := changefeed.NewHub()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(config.DatabaseSQLite, fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name),
		changefeed.NewPlugin(hub, changefeed.TableVotes, changefeed.TableComments))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	st := store.New(db)
	var notifier changefeed.Notifier = hub
	if cfg.notifier != nil {
		notifier = cfg.notifier(hub, st)
	}
	sessions := session.New(notifier, "test-secret", cfg.provider)
	images, err := media.NewStore(t.TempDir(), "/images")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sessions.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	app := &testApp{router: gin.New(), store: st, sessions: sessions}
	RegisterRoutes(app.router, Deps{
		Store:         app.store,
		Sessions:      sessions,
		Media:         images,
		MediaURL:      "/images",
		KeepAlive:     time.Minute,
		SecureCookies: cfg.secureCookies,
	})
	return app
}

// signIn creates an account and returns a bearer token for it.
func (a *testApp) signIn(t *testing.T, userID string) string {
	t.Helper()
	if _, err := a.store.UpsertUser(context.Background(), userID, nil, nil); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	token, err := a.sessions.Issue(userID, "")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

func (a *testApp) seedGame(t *testing.T, owner string) string {
	t.Helper()
	a.signIn(t, owner)
	game, err := a.store.CreateGame(context.Background(), store.NewGame{UserID: owner, Title: "Tea or coffee?", ChoiceA: "Tea", ChoiceB: "Coffee"})
	if err != nil {
		t.Fatalf("Failed to create game: %v", err)
	}
	return game.ID
}

type reqOpt func(*http.Request)

func withToken(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) reqOpt {
	return func(r *http.Request) { r.AddCookie(c) }
}

func (a *testApp) do(method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %s: %v", w.Body.String(), err)
	}
}

type tallyBody struct {
	GameID   string `json:"game_id"`
	A        int64  `json:"vote_count_a"`
	B        int64  `json:"vote_count_b"`
	Total    int64  `json:"total_votes"`
	PercentA int    `json:"percent_a"`
	PercentB int    `json:"percent_b"`
}

func TestHealth(t *testing.T) {
	app := setupApp(t, nil)
	if w := app.do(http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestAnonymousVoteFlow(t *testing.T) {
	app := setupApp(t, nil)
	gameID := app.seedGame(t, "owner")
	path := "/api/games/" + gameID + "/vote"

	w := app.do(http.MethodPost, path, gin.H{"choice": "a"})
	if w.Code != http.StatusOK {
		t.Fatalf("vote status = %d: %s", w.Code, w.Body.String())
	}
	var anon *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.CookieName {
			anon = c
		}
	}
	if anon == nil {
		t.Fatal("anonymous cookie not set")
	}
	if anon.Secure {
		t.Error("anonymous cookie Secure without COOKIE_SECURE")
	}
	if _, ok, _ := app.store.UserVote(context.Background(), gameID, anon.Value); ok {
		t.Error("anonymous vote stored under the bare cookie value")
	}
	if _, ok, _ := app.store.UserVote(context.Background(), gameID, identity.AnonPrefix+anon.Value); !ok {
		t.Error("anonymous vote not stored under the anon: namespace")
	}
	var resp struct {
		Choice string    `json:"choice"`
		Tally  tallyBody `json:"tally"`
	}
	decode(t, w, &resp)
	if resp.Choice != "A" || resp.Tally.A != 1 || resp.Tally.Total != 1 || resp.Tally.PercentA != 100 {
		t.Errorf("first vote = %+v", resp)
	}

	// switching sides with the same cookie keeps one vote
	w = app.do(http.MethodPost, path, gin.H{"choice": "B"}, withCookie(anon))
	decode(t, w, &resp)
	if resp.Tally.A != 0 || resp.Tally.B != 1 || resp.Tally.Total != 1 {
		t.Errorf("revote tally = %+v", resp.Tally)
	}

	w = app.do(http.MethodGet, path, nil, withCookie(anon))
	var mine struct {
		Choice *string `json:"choice"`
	}
	decode(t, w, &mine)
	if mine.Choice == nil || *mine.Choice != "B" {
		t.Errorf("my vote = %v, want B", mine.Choice)
	}

	// a different client is a different identity
	w = app.do(http.MethodGet, path, nil)
	mine.Choice = nil
	decode(t, w, &mine)
	if mine.Choice != nil {
		t.Errorf("fresh client vote = %q, want null", *mine.Choice)
	}
}

func TestSignedInVoteUsesAccount(t *testing.T) {
	app := setupApp(t, nil)
	gameID := app.seedGame(t, "owner")
	token := app.signIn(t, "voter")

	w := app.do(http.MethodPost, "/api/games/"+gameID+"/vote", gin.H{"choice": "A"}, withToken(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.CookieName {
			t.Error("anonymous cookie set for a signed-in voter")
		}
	}
	choice, ok, err := app.store.UserVote(context.Background(), gameID, "voter")
	if err != nil || !ok || choice != models.ChoiceA {
		t.Errorf("UserVote() = %q, %v, %v", choice, ok, err)
	}
}

func TestVoteRejects(t *testing.T) {
	app := setupApp(t, nil)
	gameID := app.seedGame(t, "owner")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"bad choice", "/api/games/" + gameID + "/vote", gin.H{"choice": "C"}, http.StatusBadRequest},
		{"missing choice", "/api/games/" + gameID + "/vote", gin.H{}, http.StatusBadRequest},
		{"unknown game", "/api/games/missing/vote", gin.H{"choice": "A"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := app.do(http.MethodPost, tt.path, tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestGameDetail(t *testing.T) {
	app := setupApp(t, nil)
	gameID := app.seedGame(t, "owner")

	w := app.do(http.MethodGet, "/api/games/"+gameID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Data struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			ViewCount int64  `json:"view_count"`
		} `json:"data"`
	}
	decode(t, w, &resp)
	if resp.Data.ID != gameID || resp.Data.Title != "Tea or coffee?" || resp.Data.ViewCount != 1 {
		t.Errorf("detail = %+v", resp.Data)
	}

	w = app.do(http.MethodGet, "/api/games/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing game status = %d, want 404", w.Code)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	decode(t, w, &errResp)
	if errResp.Error != apperr.MsgNotFound {
		t.Errorf("error = %q", errResp.Error)
	}
}

func TestTallyPercentages(t *testing.T) {
	app := setupApp(t, nil)
	gameID := app.seedGame(t, "owner")
	ctx := context.Background()
	for i, c := range []models.Choice{models.ChoiceA, models.ChoiceA, models.ChoiceA, models.ChoiceB} {
		if err := app.store.Vote(ctx, gameID, c, fmt.Sprintf("voter-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	var tally tallyBody
	decode(t, app.do(http.MethodGet, "/api/games/"+gameID+"/tally", nil), &tally)
	if tally.A != 3 || tally.B != 1 || tally.Total != 4 || tally.PercentA != 75 || tally.PercentB != 25 {
		t.Errorf("tally = %+v", tally)
	}

	decode(t, app.do(http.MethodGet, "/api/games/nothing/tally", nil), &tally)
	if tally.Total != 0 || tally.PercentA != 0 || tally.PercentB != 0 {
		t.Errorf("empty tally = %+v", tally)
	}
}

func TestListGames(t *testing.T) {
	app := setupApp(t, nil)
	quiet := app.seedGame(t, "owner")
	busy := app.seedGame(t, "owner")
	app.store.Vote(context.Background(), busy, models.ChoiceA, "v1")
	_ = quiet

	var resp struct {
		Games []struct {
			ID    string `json:"id"`
			Total int64  `json:"total_votes"`
		} `json:"games"`
	}
	decode(t, app.do(http.MethodGet, "/api/games?sort=popular", nil), &resp)
	if len(resp.Games) != 2 || resp.Games[0].ID != busy || resp.Games[0].Total != 1 {
		t.Errorf("popular = %+v", resp.Games)
	}

	decode(t, app.do(http.MethodGet, "/api/users/owner/games", nil), &resp)
	if len(resp.Games) != 2 {
		t.Errorf("user games = %+v", resp.Games)
	}
}

func TestCommentPermissions(t *testing.T) {
	app := setupApp(t, nil)
	gameID := app.seedGame(t, "owner")
	author := app.signIn(t, "author")
	stranger := app.signIn(t, "stranger")

	w := app.do(http.MethodPost, "/api/games/"+gameID+"/comments", gin.H{"content": "tea forever"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous comment status = %d, want 401", w.Code)
	}

	w = app.do(http.MethodPost, "/api/games/"+gameID+"/comments", gin.H{"content": "  tea forever  "}, withToken(author))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Data models.Comment `json:"data"`
	}
	decode(t, w, &created)
	if created.Data.Content != "tea forever" {
		t.Errorf("content = %q", created.Data.Content)
	}
	path := "/api/comments/" + created.Data.ID

	if w := app.do(http.MethodPatch, path, gin.H{"content": "coffee"}, withToken(stranger)); w.Code != http.StatusForbidden {
		t.Errorf("stranger edit status = %d, want 403", w.Code)
	}
	if w := app.do(http.MethodDelete, path, nil, withToken(stranger)); w.Code != http.StatusForbidden {
		t.Errorf("stranger delete status = %d, want 403", w.Code)
	}
	if w := app.do(http.MethodPatch, path, gin.H{"content": "green tea"}, withToken(author)); w.Code != http.StatusOK {
		t.Errorf("author edit status = %d", w.Code)
	}

	var list struct {
		Comments []models.Comment `json:"comments"`
	}
	decode(t, app.do(http.MethodGet, "/api/games/"+gameID+"/comments", nil), &list)
	if len(list.Comments) != 1 || list.Comments[0].Content != "green tea" {
		t.Errorf("comments = %+v", list.Comments)
	}

	if w := app.do(http.MethodDelete, path, nil, withToken(author)); w.Code != http.StatusOK {
		t.Errorf("author delete status = %d", w.Code)
	}
	decode(t, app.do(http.MethodGet, "/api/games/"+gameID+"/comments", nil), &list)
	if len(list.Comments) != 0 {
		t.Errorf("comments after delete = %+v", list.Comments)
	}
}

func TestCreateGameJSON(t *testing.T) {
	app := setupApp(t, nil)
	token := app.signIn(t, "owner")

	w := app.do(http.MethodPost, "/api/games", gin.H{"title": "Cats or dogs?", "choice_a": "Cats", "choice_b": "Dogs"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous create status = %d, want 401", w.Code)
	}

	w = app.do(http.MethodPost, "/api/games", gin.H{"title": " ", "choice_a": "Cats", "choice_b": "Dogs"}, withToken(token))
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank title status = %d, want 400", w.Code)
	}

	w = app.do(http.MethodPost, "/api/games", gin.H{"title": "Cats or dogs?", "choice_a": "Cats", "choice_b": "Dogs"}, withToken(token))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data models.Game `json:"data"`
	}
	decode(t, w, &resp)
	if resp.Data.UserID != "owner" || resp.Data.ImageAURL != nil {
		t.Errorf("game = %+v", resp.Data)
	}
}

func TestCreateGameMultipart(t *testing.T) {
	app := setupApp(t, nil)
	token := app.signIn(t, "owner")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("title", "Beach or mountains?")
	mw.WriteField("choice_a", "Beach")
	mw.WriteField("choice_b", "Mountains")
	addFile := func(field, filename, contentType, content string) {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
		h.Set("Content-Type", contentType)
		part, _ := mw.CreatePart(h)
		part.Write([]byte(content))
	}
	addFile("image_a", "beach.png", "image/png", "png-bytes")
	addFile("image_b", "notes.txt", "text/plain", "not an image")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/games", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data          models.Game `json:"data"`
		FailedUploads []string    `json:"failed_uploads"`
	}
	decode(t, w, &resp)
	want := "/images/" + resp.Data.ID + "/choice_a.png"
	if resp.Data.ImageAURL == nil || *resp.Data.ImageAURL != want {
		t.Errorf("image_a_url = %v, want %s", resp.Data.ImageAURL, want)
	}
	if resp.Data.ImageBURL != nil {
		t.Errorf("image_b_url = %v, want nil", *resp.Data.ImageBURL)
	}
	if len(resp.FailedUploads) != 1 || resp.FailedUploads[0] != "image_b" {
		t.Errorf("failed_uploads = %v", resp.FailedUploads)
	}

	img := app.do(http.MethodGet, want, nil)
	if img.Code != http.StatusOK || img.Body.String() != "png-bytes" {
		t.Errorf("served image = %d %q", img.Code, img.Body.String())
	}
}

func TestProfile(t *testing.T) {
	app := setupApp(t, nil)
	token := app.signIn(t, "u1")
	other := app.signIn(t, "u2")

	if w := app.do(http.MethodGet, "/api/me", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous /me status = %d", w.Code)
	}

	var me struct {
		NeedsUsername bool `json:"needs_username"`
	}
	decode(t, app.do(http.MethodGet, "/api/me", nil, withToken(token)), &me)
	if !me.NeedsUsername {
		t.Error("needs_username = false before a name is set")
	}

	if w := app.do(http.MethodPut, "/api/me/username", gin.H{"username": "mina"}, withToken(token)); w.Code != http.StatusOK {
		t.Fatalf("set username status = %d: %s", w.Code, w.Body.String())
	}
	decode(t, app.do(http.MethodGet, "/api/me", nil, withToken(token)), &me)
	if me.NeedsUsername {
		t.Error("needs_username = true after a name is set")
	}

	w := app.do(http.MethodPut, "/api/me/username", gin.H{"username": "mina"}, withToken(other))
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate username status = %d, want 409", w.Code)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	decode(t, w, &errResp)
	if errResp.Error != apperr.MsgTaken {
		t.Errorf("error = %q, want %q", errResp.Error, apperr.MsgTaken)
	}
}

// newIdentityProvider serves a token and userinfo endpoint that always
// signs in as acct-1.
func newIdentityProvider(t *testing.T) (*auth.Provider, string) {
	t.Helper()
	idp := http.NewServeMux()
	idp.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at", "token_type": "Bearer"})
	})
	idp.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"sub": "acct-1", "email": "a@example.com"})
	})
	srv := httptest.NewServer(idp)
	t.Cleanup(srv.Close)

	return auth.NewProvider(auth.Config{
		ClientID:    "client",
		AuthURL:     srv.URL + "/authorize",
		TokenURL:    srv.URL + "/token",
		UserInfoURL: srv.URL + "/userinfo",
		RedirectURL: "http://localhost/auth/callback",
	}), srv.URL
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestOAuthSignIn(t *testing.T) {
	provider, idpURL := newIdentityProvider(t)
	app := setupApp(t, provider)

	w := app.do(http.MethodGet, "/auth/login", nil)
	if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), idpURL+"/authorize") {
		t.Fatalf("login = %d %s", w.Code, w.Header().Get("Location"))
	}
	state := findCookie(w, "balance_oauth_state")
	if state == nil {
		t.Fatal("state cookie not set")
	}
	if state.Secure {
		t.Error("state cookie Secure without COOKIE_SECURE")
	}

	if w := app.do(http.MethodGet, "/auth/callback?code=c&state=forged", nil, withCookie(state)); w.Code != http.StatusBadRequest {
		t.Errorf("forged state status = %d, want 400", w.Code)
	}

	w = app.do(http.MethodGet, "/auth/callback?code=c&state="+state.Value, nil, withCookie(state))
	if w.Code != http.StatusOK {
		t.Fatalf("callback status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token         string      `json:"token"`
		Data          models.User `json:"data"`
		NeedsUsername bool        `json:"needs_username"`
	}
	decode(t, w, &resp)
	if resp.Data.ID != "acct-1" || !resp.NeedsUsername || resp.Token == "" {
		t.Errorf("callback = %+v", resp)
	}

	if w := app.do(http.MethodGet, "/api/me", nil, withToken(resp.Token)); w.Code != http.StatusOK {
		t.Errorf("/me with issued token status = %d", w.Code)
	}
}

func TestSecureCookies(t *testing.T) {
	provider, _ := newIdentityProvider(t)
	app := setupAppWith(t, appConfig{provider: provider, secureCookies: true})
	gameID := app.seedGame(t, "owner")

	w := app.do(http.MethodPost, "/api/games/"+gameID+"/vote", gin.H{"choice": "A"})
	if c := findCookie(w, identity.CookieName); c == nil || !c.Secure {
		t.Errorf("anonymous cookie = %+v, want Secure", c)
	}

	w = app.do(http.MethodGet, "/auth/login", nil)
	state := findCookie(w, "balance_oauth_state")
	if state == nil || !state.Secure {
		t.Fatalf("state cookie = %+v, want Secure", state)
	}

	w = app.do(http.MethodGet, "/auth/callback?code=c&state="+state.Value, nil, withCookie(state))
	if w.Code != http.StatusOK {
		t.Fatalf("callback status = %d: %s", w.Code, w.Body.String())
	}
	if c := findCookie(w, middleware.SessionCookie); c == nil || !c.Secure || !c.HttpOnly {
		t.Errorf("session cookie = %+v, want Secure HttpOnly", c)
	}
}

func TestOAuthDisabled(t *testing.T) {
	app := setupApp(t, nil)
	if w := app.do(http.MethodGet, "/auth/login", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("login status = %d, want 503", w.Code)
	}
}

type sseEvent struct {
	name string
	data string
}

// readEvents parses a server-sent event stream onto a channel.
func readEvents(r io.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				ev.data = strings.TrimPrefix(line, "data:")
			case line == "" && ev.name != "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream ended waiting for %s", name)
			}
			if ev.name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func TestGameEventsStream(t *testing.T) {
	app := setupApp(t, nil)
	gameID := app.seedGame(t, "owner")
	token := app.signIn(t, "commenter")
	srv := httptest.NewServer(app.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/games/"+gameID+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}
	events := readEvents(resp.Body)

	var tally tallyBody
	json.Unmarshal([]byte(nextEvent(t, events, "tally").data), &tally)
	if tally.GameID != gameID || tally.Total != 0 {
		t.Errorf("initial tally = %+v", tally)
	}

	// a vote from another client reaches the stream
	if w := app.do(http.MethodPost, "/api/games/"+gameID+"/vote", gin.H{"choice": "B"}); w.Code != http.StatusOK {
		t.Fatalf("vote status = %d", w.Code)
	}
	json.Unmarshal([]byte(nextEvent(t, events, "tally").data), &tally)
	if tally.B != 1 || tally.Total != 1 || tally.PercentB != 100 {
		t.Errorf("pushed tally = %+v", tally)
	}

	if w := app.do(http.MethodPost, "/api/games/"+gameID+"/comments", gin.H{"content": "coffee!"}, withToken(token)); w.Code != http.StatusCreated {
		t.Fatalf("comment status = %d", w.Code)
	}
	var change changefeed.Event
	json.Unmarshal([]byte(nextEvent(t, events, "comments").data), &change)
	if change.GameID != gameID || change.Type != changefeed.EventInsert {
		t.Errorf("comment change = %+v", change)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for app.sessions.OpenViews() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := app.sessions.OpenViews(); n != 0 {
		t.Errorf("OpenViews() = %d after disconnect, want 0", n)
	}
}

func TestGameEventsUnknownGame(t *testing.T) {
	app := setupApp(t, nil)
	if w := app.do(http.MethodGet, "/api/games/nope/events", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// voteOnSubscribe casts a vote from another client just before the votes
// subscription is registered, so the vote's change event is never seen.
type voteOnSubscribe struct {
	*changefeed.Hub
	store  *store.Store
	gameID string
	voted  atomic.Bool
}

func (v *voteOnSubscribe) Subscribe(ctx context.Context, scope changefeed.Scope) (changefeed.Subscription, error) {
	if scope.Table == changefeed.TableVotes && v.voted.CompareAndSwap(false, true) {
		if err := v.store.Vote(ctx, v.gameID, models.ChoiceA, "other-tab"); err != nil {
			return nil, err
		}
	}
	return v.Hub.Subscribe(ctx, scope)
}

func TestGameEventsIncludesVoteBeforeSubscribe(t *testing.T) {
	var gap *voteOnSubscribe
	app := setupAppWith(t, appConfig{notifier: func(hub *changefeed.Hub, st *store.Store) changefeed.Notifier {
		gap = &voteOnSubscribe{Hub: hub, store: st}
		return gap
	}})
	gap.gameID = app.seedGame(t, "owner")
	srv := httptest.NewServer(app.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/games/"+gap.gameID+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var tally tallyBody
	json.Unmarshal([]byte(nextEvent(t, readEvents(resp.Body), "tally").data), &tally)
	if !gap.voted.Load() {
		t.Fatal("vote was not cast during subscribe")
	}
	if tally.A != 1 || tally.Total != 1 {
		t.Errorf("first tally = %+v, want the vote cast while subscribing", tally)
	}
}
