package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authbroker"
	"github.com/MrEthical07/authbroker/internal/logger"
	"github.com/MrEthical07/authbroker/notify"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*authbroker.User
}

func (m *memUsers) find(fn func(*authbroker.User) bool) (*authbroker.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if fn(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, authbroker.ErrUserNotFound
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*authbroker.User, error) {
	return m.find(func(u *authbroker.User) bool { return u.Email == email })
}

func (m *memUsers) GetByID(_ context.Context, id string) (*authbroker.User, error) {
	return m.find(func(u *authbroker.User) bool { return u.ID == id })
}

func (m *memUsers) Create(_ context.Context, user *authbroker.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return authbroker.ErrUserExists
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) update(id string, fn func(*authbroker.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return authbroker.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (m *memUsers) SetPasswordHash(_ context.Context, id, hash string) error {
	return m.update(id, func(u *authbroker.User) { u.PasswordHash = hash })
}

func (m *memUsers) SetEmailVerified(_ context.Context, id string, verified bool) error {
	return m.update(id, func(u *authbroker.User) { u.EmailVerified = verified })
}

func (m *memUsers) SetMFA(_ context.Context, id, secret string, active bool) error {
	return m.update(id, func(u *authbroker.User) {
		u.MFASecret = secret
		u.MFAActive = active
	})
}

type captureSender struct {
	ch chan notify.Message
}

func (s *captureSender) Send(_ context.Context, msg notify.Message) error {
	s.ch <- msg
	return nil
}

type testAPI struct {
	t      *testing.T
	mr     *miniredis.Miniredis
	sent   *captureSender
	engine *authbroker.Engine
	router http.Handler
}

func newTestAPI(t *testing.T, mutate func(*authbroker.Config)) *testAPI {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	cfg := authbroker.DefaultConfig()
	cfg.Tokens.AccessSecret = "http-access-secret"
	cfg.Tokens.RefreshSecret = "http-refresh-secret"
	cfg.Tokens.TempSecret = "http-temp-secret"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Iterations = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.Login = authbroker.RateRule{Limit: 100, Window: 10 * time.Minute}
	cfg.Notify.Dispatcher.Workers = 1
	cfg.Notify.Dispatcher.BaseBackoff = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	sent := &captureSender{ch: make(chan notify.Message, 32)}
	engine, err := authbroker.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(&memUsers{users: map[string]*authbroker.User{}}).
		WithSender(sent).
		WithLogger(zerolog.Nop()).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	})

	return &testAPI{
		t:      t,
		mr:     mr,
		sent:   sent,
		engine: engine,
		router: NewHandler(engine, logger.Nop()).Init(),
	}
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) requestOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withForwardedFor(chain string) requestOption {
	return func(r *http.Request) { r.Header.Set("X-Forwarded-For", chain) }
}

func withAgent(agent string) requestOption {
	return func(r *http.Request) { r.Header.Set("User-Agent", agent) }
}

func (a *testAPI) do(method, path, body string, opts ...requestOption) *httptest.ResponseRecorder {
	a.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "test-agent")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) waitMessage(kind notify.Kind) notify.Message {
	a.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-a.sent.ch:
			if msg.Kind == kind {
				return msg
			}
		case <-timeout:
			a.t.Fatalf("notification %s not sent", kind)
			return notify.Message{}
		}
	}
}

// registerVerified creates an account through the API and verifies its email.
func (a *testAPI) registerVerified(email, password string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/register", `{"email":"`+email+`","password":"`+password+`","confirmPassword":"`+password+`"}`)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	msg := a.waitMessage(notify.KindVerifyEmail)
	rec = a.do(http.MethodGet, "/verify-email?token="+msg.Data["token"], "")
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
}

func (a *testAPI) login(email, password string, opts ...requestOption) (map[string]any, *http.Cookie) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/login", `{"email":"`+email+`","password":"`+password+`"}`, opts...)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody(a.t, rec), findCookie(rec, refreshCookieName)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
