package authbroker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/authbroker/internal/audit"
	"github.com/MrEthical07/authbroker/notify"
	"github.com/MrEthical07/authbroker/password"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*User
	fail  bool
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*User{}}
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, ErrStoreUnavailable
	}
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, ErrStoreUnavailable
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrUserExists
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) update(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return ErrStoreUnavailable
	}
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

func (m *memUsers) SetPasswordHash(_ context.Context, id, hash string) error {
	return m.update(id, func(u *User) { u.PasswordHash = hash })
}

func (m *memUsers) SetEmailVerified(_ context.Context, id string, verified bool) error {
	return m.update(id, func(u *User) { u.EmailVerified = verified })
}

func (m *memUsers) SetMFA(_ context.Context, id, secret string, active bool) error {
	return m.update(id, func(u *User) {
		u.MFASecret = secret
		u.MFAActive = active
	})
}

func (m *memUsers) get(id string) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSender struct {
	ch chan notify.Message
}

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	s.ch <- msg
	return nil
}

type testEnv struct {
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *memUsers
	clock  *testClock
	audit  *audit.ChannelSink
	sent   *recordingSender
	engine *Engine
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tokens.AccessSecret = "access-secret-for-tests"
	cfg.Tokens.RefreshSecret = "refresh-secret-for-tests"
	cfg.Tokens.TempSecret = "temp-secret-for-tests"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Iterations = 1
	cfg.Password.Parallelism = 1
	// Keep the login bucket out of the way of lockout tests.
	cfg.RateLimit.Login = RateRule{Limit: 100, Window: 600 * time.Second}
	cfg.Audit.BufferSize = 1024
	cfg.Audit.DropIfFull = false
	cfg.Notify.Dispatcher.BaseBackoff = time.Millisecond
	// One worker keeps delivery in enqueue order.
	cfg.Notify.Dispatcher.Workers = 1
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		users: newMemUsers(),
		clock: &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		audit: audit.NewChannelSink(1024),
		sent:  &recordingSender{ch: make(chan notify.Message, 64)},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithAuditSink(env.audit).
		WithSender(env.sent).
		WithLogger(zerolog.Nop()).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	})
	env.engine = engine
	return env
}

func (env *testEnv) seedUser(t *testing.T, id, email, plain string, verified bool) {
	t.Helper()
	hash, err := env.engine.hasher.Hash(plain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := env.users.Create(context.Background(), &User{
		ID:            id,
		Email:         email,
		PasswordHash:  hash,
		EmailVerified: verified,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// enableMFA activates MFA on the user directly and returns the secret.
func (env *testEnv) enableMFA(t *testing.T, id, email string) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "authentication-service", AccountName: email})
	if err != nil {
		t.Fatalf("totp generate: %v", err)
	}
	if err := env.users.SetMFA(context.Background(), id, key.Secret(), true); err != nil {
		t.Fatalf("set mfa: %v", err)
	}
	return key.Secret()
}

func (env *testEnv) code(t *testing.T, secret string) string {
	t.Helper()
	return env.codeAt(t, secret, env.clock.Now())
}

func (env *testEnv) codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func (env *testEnv) sessionCount(t *testing.T, userID string) int64 {
	t.Helper()
	n, err := env.rdb.ZCard(context.Background(), "user:sessions:"+userID).Result()
	if err != nil {
		t.Fatalf("zcard: %v", err)
	}
	return n
}

func (env *testEnv) waitAudit(t *testing.T, action string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-env.audit.Events():
			if ev.Action == action {
				return ev
			}
		case <-timeout:
			t.Fatalf("audit event %s not emitted", action)
			return AuditEvent{}
		}
	}
}

func (env *testEnv) waitMessage(t *testing.T, kind notify.Kind) notify.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-env.sent.ch:
			if msg.Kind == kind {
				return msg
			}
		case <-timeout:
			t.Fatalf("notification %s not sent", kind)
			return notify.Message{}
		}
	}
}

func clientCtx(ip, agent string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), agent)
}

func mustHasher(t *testing.T, iterations uint32) *password.Hasher {
	t.Helper()
	cfg := testConfig().Password
	cfg.Iterations = iterations
	h, err := password.NewHasher(cfg)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}
