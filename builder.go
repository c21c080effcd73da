package authbroker

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/authbroker/internal/audit"
	"github.com/MrEthical07/authbroker/internal/limiters"
	"github.com/MrEthical07/authbroker/internal/logger"
	"github.com/MrEthical07/authbroker/internal/rate"
	"github.com/MrEthical07/authbroker/internal/stores"
	"github.com/MrEthical07/authbroker/jwt"
	"github.com/MrEthical07/authbroker/mfa"
	"github.com/MrEthical07/authbroker/notify"
	"github.com/MrEthical07/authbroker/password"
	"github.com/MrEthical07/authbroker/session"
)

// Builder assembles an Engine from its collaborators. A Builder can be used
// for a single Build call.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	users  UserStore

	auditSink AuditSink
	sender    notify.Sender
	log       *logger.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the shared key-value store. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the account store. Required.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithAuditSink replaces the default sink, which writes events to the logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSender replaces the sender selected by Config.Notify.Sender.
func (b *Builder) WithSender(sender notify.Sender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.log = &logger.Logger{Logger: l}
	return b
}

// WithClock replaces the time source of every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	log := b.log
	if log == nil {
		log = logger.NewLogger("authbroker")
	}

	// -------- TOKENS --------
	minter, err := jwt.NewMinter(cfg.Tokens.minterConfig())
	if err != nil {
		return nil, fmt.Errorf("token minter: %w", err)
	}
	minter.WithClock(now)

	// -------- SESSIONS --------
	sessions := session.NewStore(b.redis, session.Config{
		TTL:               cfg.Tokens.RefreshTTL,
		KnownDeviceTTL:    cfg.Session.KnownDeviceTTL,
		MaxActiveSessions: cfg.Session.MaxActiveSessions,
	}, decodeRefresh).WithClock(now)

	// -------- THROTTLING --------
	lockout := limiters.NewLockoutTracker(b.redis, limiters.LockoutConfig{
		Window:    cfg.Lockout.Window,
		Threshold: cfg.Lockout.Threshold,
		Retention: cfg.Lockout.Retention,
	}).WithClock(now)

	// -------- MFA --------
	mfaCfg, err := cfg.MFA.toEngineConfig()
	if err != nil {
		return nil, err
	}
	mfaEngine := mfa.NewEngine(mfaCfg, b.users, sessions).WithClock(now)

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	// -------- AUDIT & NOTIFY --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewLogSink(log.With().Str("component", "audit").Logger())
	}
	auditDispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink, log)

	sender := b.sender
	if sender == nil {
		if cfg.Notify.Sender == "webhook" {
			sender = notify.NewWebhookSender(cfg.Notify.Webhook)
		} else {
			sender = notify.NewLogSender(log)
		}
	}
	notifier := notify.NewDispatcher(cfg.Notify.Dispatcher, sender, log)

	b.built = true

	return &Engine{
		cfg:      cfg,
		users:    b.users,
		minter:   minter,
		sessions: sessions,
		limiter:  rate.New(b.redis),
		lockout:  lockout,
		mfa:      mfaEngine,
		hasher:   hasher,
		verifyTokens: stores.NewTokenStore(b.redis, stores.Purpose{
			Prefix: stores.EmailVerification.Prefix,
			TTL:    cfg.Account.VerifyEmailTTL,
		}),
		resetTokens: stores.NewTokenStore(b.redis, stores.Purpose{
			Prefix: stores.PasswordReset.Prefix,
			TTL:    cfg.Account.ResetPasswordTTL,
		}),
		audit:    auditDispatcher,
		notifier: notifier,
		metrics:  NewMetrics(cfg.Metrics),
		log:      log,
		now:      now,
	}, nil
}

// decodeRefresh reads the session key parts out of a refresh token without
// checking its signature.
func decodeRefresh(token string) (string, string, bool) {
	claims := jwt.DecodeUnsafe(token)
	if claims == nil || claims.Type != jwt.KindRefresh {
		return "", "", false
	}
	userID, jti := claims.UserID(), claims.JTI()
	if userID == "" || jti == "" {
		return "", "", false
	}
	return userID, jti, true
}
