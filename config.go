package authbroker

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/pquerna/otp"

	"github.com/MrEthical07/authbroker/jwt"
	"github.com/MrEthical07/authbroker/mfa"
	"github.com/MrEthical07/authbroker/notify"
	"github.com/MrEthical07/authbroker/password"
)

// ConfigPathEnv names the environment variable holding the optional TOML file path.
const ConfigPathEnv = "AUTHBROKER_CONFIG"

// Config is the complete engine and service configuration.
//
// Values are layered: DefaultConfig, then an optional TOML file, then the
// environment. Signing secrets are only ever read from the environment.
type Config struct {
	Tokens    TokenConfig     `toml:"tokens"`
	Session   SessionConfig   `envPrefix:"SESSION_" toml:"session"`
	Lockout   LockoutConfig   `envPrefix:"LOCKOUT_" toml:"lockout"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_" toml:"rate_limit"`
	MFA       MFAConfig       `envPrefix:"MFA_" toml:"mfa"`
	Password  password.Config `envPrefix:"PASSWORD_" toml:"password"`
	Account   AccountConfig   `envPrefix:"ACCOUNT_" toml:"account"`
	Audit     AuditConfig     `envPrefix:"AUDIT_" toml:"audit"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_" toml:"metrics"`
	Notify    NotifyConfig    `envPrefix:"NOTIFY_" toml:"notify"`
	Redis     RedisConfig     `envPrefix:"REDIS_" toml:"redis"`
	Database  DatabaseConfig  `envPrefix:"DATABASE_" toml:"database"`
	HTTP      HTTPConfig      `envPrefix:"HTTP_" toml:"http"`
	Log       LogConfig       `envPrefix:"LOG_" toml:"log"`
}

// TokenConfig holds per-kind signing settings. Each kind has its own secret
// and audience so a token minted for one purpose is rejected everywhere else.
type TokenConfig struct {
	AccessSecret    string        `env:"ACCESS_SECRET" toml:"-"`
	RefreshSecret   string        `env:"REFRESH_SECRET" toml:"-"`
	TempSecret      string        `env:"TEMP_SECRET" toml:"-"`
	Issuer          string        `env:"TOKEN_ISSUER" toml:"issuer"`
	AccessAudience  string        `env:"ACCESS_AUDIENCE" toml:"access_audience"`
	RefreshAudience string        `env:"REFRESH_AUDIENCE" toml:"refresh_audience"`
	TempAudience    string        `env:"TEMP_AUDIENCE" toml:"temp_audience"`
	AccessTTL       time.Duration `env:"ACCESS_TTL" toml:"access_ttl"`
	RefreshTTL      time.Duration `env:"REFRESH_TTL" toml:"refresh_ttl"`
	TempTTL         time.Duration `env:"TEMP_TTL" toml:"temp_ttl"`
	Leeway          time.Duration `env:"TOKEN_LEEWAY" toml:"leeway"`
}

type SessionConfig struct {
	MaxActiveSessions int           `env:"MAX_ACTIVE" toml:"max_active"`
	KnownDeviceTTL    time.Duration `env:"KNOWN_DEVICE_TTL" toml:"known_device_ttl"`
}

type LockoutConfig struct {
	Window    time.Duration `env:"WINDOW" toml:"window"`
	Threshold int           `env:"THRESHOLD" toml:"threshold"`
	Retention time.Duration `env:"RETENTION" toml:"retention"`
}

// RateRule is a fixed-window policy: at most Limit requests per Window.
type RateRule struct {
	Limit  int           `env:"LIMIT" toml:"limit"`
	Window time.Duration `env:"WINDOW" toml:"window"`
}

type RateLimitConfig struct {
	Login                RateRule `envPrefix:"LOGIN_" toml:"login"`
	Refresh              RateRule `envPrefix:"REFRESH_" toml:"refresh"`
	ForgotPassword       RateRule `envPrefix:"FORGOT_PASSWORD_" toml:"forgot_password"`
	ResetPasswordConfirm RateRule `envPrefix:"RESET_PASSWORD_CONFIRM_" toml:"reset_password_confirm"`
	MFAVerify            RateRule `envPrefix:"MFA_VERIFY_" toml:"mfa_verify"`
}

// MFAConfig holds TOTP parameters. Algorithm is one of SHA1, SHA256, SHA512.
type MFAConfig struct {
	Issuer    string `env:"ISSUER" toml:"issuer"`
	Period    uint   `env:"PERIOD" toml:"period"`
	Skew      uint   `env:"SKEW" toml:"skew"`
	Digits    int    `env:"DIGITS" toml:"digits"`
	Algorithm string `env:"ALGORITHM" toml:"algorithm"`
	QRSize    int    `env:"QR_SIZE" toml:"qr_size"`
}

type AccountConfig struct {
	VerifyEmailTTL   time.Duration `env:"VERIFY_EMAIL_TTL" toml:"verify_email_ttl"`
	ResetPasswordTTL time.Duration `env:"RESET_PASSWORD_TTL" toml:"reset_password_ttl"`
}

type AuditConfig struct {
	Enabled    bool `env:"ENABLED" toml:"enabled"`
	BufferSize int  `env:"BUFFER_SIZE" toml:"buffer_size"`
	DropIfFull bool `env:"DROP_IF_FULL" toml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED" toml:"enabled"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS" toml:"latency_histograms"`
}

// NotifyConfig selects and tunes the outbound message path. Sender is "log"
// or "webhook".
type NotifyConfig struct {
	Sender     string               `env:"SENDER" toml:"sender"`
	Dispatcher notify.Config        `toml:"dispatcher"`
	Webhook    notify.WebhookConfig `envPrefix:"WEBHOOK_" toml:"webhook"`
}

type RedisConfig struct {
	Addr         string        `env:"ADDR" toml:"addr"`
	Password     string        `env:"PASSWORD" toml:"-"`
	DB           int           `env:"DB" toml:"db"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" toml:"dial_timeout"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" toml:"read_timeout"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" toml:"write_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `env:"DSN" toml:"-"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" toml:"max_open_conns"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" toml:"conn_max_lifetime"`
}

// HTTPConfig configures the bundled HTTP adapter. SecureCookies should be set
// in production.
type HTTPConfig struct {
	Addr              string        `env:"ADDR" toml:"addr"`
	SecureCookies     bool          `env:"SECURE_COOKIES" toml:"secure_cookies"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" toml:"read_header_timeout"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" toml:"read_timeout"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" toml:"write_timeout"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" toml:"shutdown_timeout"`
	// TrustedProxies lists the addresses or CIDR ranges whose X-Forwarded-For
	// header is believed. Empty means the header is ignored.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," toml:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (c HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type LogConfig struct {
	Level string `env:"LEVEL" toml:"level"`
}

// DefaultConfig returns every default except the signing secrets.
func DefaultConfig() Config {
	fiveInTenMinutes := RateRule{Limit: 5, Window: 600 * time.Second}
	defaultMFA := mfa.DefaultConfig()

	return Config{
		Tokens: TokenConfig{
			Issuer:          "authentication-service",
			AccessAudience:  "api-access",
			RefreshAudience: "refresh-token",
			TempAudience:    "mfa-verification",
			AccessTTL:       7 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			TempTTL:         10 * time.Minute,
		},
		Session: SessionConfig{
			MaxActiveSessions: 5,
			KnownDeviceTTL:    180 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Window:    15 * time.Minute,
			Threshold: 5,
			Retention: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Login:                fiveInTenMinutes,
			Refresh:              fiveInTenMinutes,
			ForgotPassword:       fiveInTenMinutes,
			ResetPasswordConfirm: fiveInTenMinutes,
			MFAVerify:            fiveInTenMinutes,
		},
		MFA: MFAConfig{
			Issuer:    defaultMFA.Issuer,
			Period:    defaultMFA.Period,
			Skew:      defaultMFA.Skew,
			Digits:    defaultMFA.Digits.Length(),
			Algorithm: "SHA1",
			QRSize:    defaultMFA.QRSize,
		},
		Password: password.DefaultConfig(),
		Account: AccountConfig{
			VerifyEmailTTL:   24 * time.Hour,
			ResetPasswordTTL: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Notify: NotifyConfig{
			Sender:     "log",
			Dispatcher: notify.DefaultConfig(),
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads the layered configuration and validates it.
func LoadConfig(path string) (Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ReadConfig layers DefaultConfig, the TOML file at path and the environment
// without validating the result. An empty path falls back to
// $AUTHBROKER_CONFIG; no file is read when both are empty.
func ReadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		var fileCfg Config
		if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return Config{}, fmt.Errorf("merge config file: %w", err)
		}
	}

	// Only non-zero env values override, so a boolean set in the file cannot
	// be switched back off from the environment.
	var envCfg Config
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := mergo.Merge(&cfg, envCfg, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("merge environment: %w", err)
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	t := c.Tokens
	secrets := map[string]string{"access": t.AccessSecret, "refresh": t.RefreshSecret, "temporary": t.TempSecret}
	for _, kind := range []string{"access", "refresh", "temporary"} {
		if strings.TrimSpace(secrets[kind]) == "" {
			add("%s token secret is required", kind)
		}
	}
	if t.AccessSecret != "" && (t.AccessSecret == t.RefreshSecret || t.AccessSecret == t.TempSecret) ||
		t.RefreshSecret != "" && t.RefreshSecret == t.TempSecret {
		add("token secrets must differ per kind")
	}
	if t.AccessAudience == t.RefreshAudience || t.AccessAudience == t.TempAudience || t.RefreshAudience == t.TempAudience {
		add("token audiences must differ per kind")
	}
	if strings.TrimSpace(t.Issuer) == "" {
		add("token issuer is required")
	}
	if t.AccessTTL <= 0 || t.RefreshTTL <= 0 || t.TempTTL <= 0 {
		add("token ttls must be positive")
	}

	if c.Session.MaxActiveSessions <= 0 {
		add("session max active must be positive")
	}
	if c.Session.KnownDeviceTTL <= 0 {
		add("known device ttl must be positive")
	}
	if c.Lockout.Window <= 0 || c.Lockout.Threshold <= 0 {
		add("lockout window and threshold must be positive")
	}

	rules := map[string]RateRule{
		"login":                  c.RateLimit.Login,
		"refresh":                c.RateLimit.Refresh,
		"forgot_password":        c.RateLimit.ForgotPassword,
		"reset_password_confirm": c.RateLimit.ResetPasswordConfirm,
		"mfa_verify":             c.RateLimit.MFAVerify,
	}
	for name, r := range rules {
		if r.Limit <= 0 || r.Window <= 0 {
			add("rate limit %s must have positive limit and window", name)
		}
	}

	if _, err := c.MFA.toEngineConfig(); err != nil {
		errs = append(errs, err)
	}
	if c.Account.VerifyEmailTTL <= 0 || c.Account.ResetPasswordTTL <= 0 {
		add("account token ttls must be positive")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		add("audit buffer size must be positive")
	}

	if _, err := c.HTTP.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}

	switch c.Notify.Sender {
	case "", "log":
	case "webhook":
		if c.Notify.Webhook.URL == "" {
			add("notify webhook url is required for the webhook sender")
		}
	default:
		add("unknown notify sender %q", c.Notify.Sender)
	}

	return errors.Join(errs...)
}

func (c TokenConfig) minterConfig() jwt.Config {
	return jwt.Config{
		Access: jwt.KeyConfig{
			Secret:   []byte(c.AccessSecret),
			Issuer:   c.Issuer,
			Audience: c.AccessAudience,
			TTL:      c.AccessTTL,
		},
		Refresh: jwt.KeyConfig{
			Secret:   []byte(c.RefreshSecret),
			Issuer:   c.Issuer,
			Audience: c.RefreshAudience,
			TTL:      c.RefreshTTL,
		},
		Temporary: jwt.KeyConfig{
			Secret:   []byte(c.TempSecret),
			Issuer:   c.Issuer,
			Audience: c.TempAudience,
			TTL:      c.TempTTL,
		},
		Leeway: c.Leeway,
	}
}

func (c MFAConfig) toEngineConfig() (mfa.Config, error) {
	out := mfa.Config{
		Issuer: c.Issuer,
		Period: c.Period,
		Skew:   c.Skew,
		QRSize: c.QRSize,
	}
	switch c.Digits {
	case 6:
		out.Digits = otp.DigitsSix
	case 8:
		out.Digits = otp.DigitsEight
	default:
		return mfa.Config{}, fmt.Errorf("mfa digits must be 6 or 8, got %d", c.Digits)
	}
	switch strings.ToUpper(c.Algorithm) {
	case "", "SHA1":
		out.Algorithm = otp.AlgorithmSHA1
	case "SHA256":
		out.Algorithm = otp.AlgorithmSHA256
	case "SHA512":
		out.Algorithm = otp.AlgorithmSHA512
	default:
		return mfa.Config{}, fmt.Errorf("unknown mfa algorithm %q", c.Algorithm)
	}
	if c.Issuer == "" || c.Period == 0 {
		return mfa.Config{}, errors.New("mfa issuer and period are required")
	}
	return out, nil
}
