package limiters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds the lockout policy.
type LockoutConfig struct {
	Window    time.Duration
	Threshold int
	Retention time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// Attempt is one login attempt as stored in the log.
type Attempt struct {
	ID      string    `json:"id"`
	UserID  string    `json:"userId,omitempty"`
	Email   string    `json:"email,omitempty"`
	IP      string    `json:"ip,omitempty"`
	Success bool      `json:"success"`
	At      time.Time `json:"ts"`
}

// LockStatus is the result of [LockoutTracker.CheckLock].
type LockStatus struct {
	Locked           bool
	MinutesRemaining int
}

// LockoutTracker derives account locks from recorded login attempts.
type LockoutTracker struct {
	redis  redis.UniversalClient
	config LockoutConfig
	now    func() time.Time
}

// NewLockoutTracker creates a tracker. Zero config fields fall back to a 15 minute
// window, a threshold of 5 and 24 hours of retention.
func NewLockoutTracker(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutTracker {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Retention < cfg.Window {
		cfg.Retention = 24 * time.Hour
	}
	return &LockoutTracker{redis: redisClient, config: cfg, now: time.Now}
}

// WithClock replaces the time source.
func (l *LockoutTracker) WithClock(now func() time.Time) *LockoutTracker {
	if now != nil {
		l.now = now
	}
	return l
}

func emailKey(email string) string {
	return "loginattempts:email:" + email
}

func ipKey(ip string) string {
	return "loginattempts:ip:" + ip
}

// CheckLock gathers failures for the email or the ip inside the trailing window.
// At or above the threshold the account is locked; the remaining time counts from
// the most recent failure and is reported in whole minutes, never below 1.
func (l *LockoutTracker) CheckLock(ctx context.Context, email, ip string) (LockStatus, error) {
	now := l.now()
	from := strconv.FormatInt(now.Add(-l.config.Window).UnixMilli(), 10)

	keys := make([]string, 0, 2)
	if email != "" {
		keys = append(keys, emailKey(email))
	}
	if ip != "" {
		keys = append(keys, ipKey(ip))
	}
	if len(keys) == 0 {
		return LockStatus{}, nil
	}

	pipe := l.redis.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: from, Max: "+inf"})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return LockStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	seen := make(map[string]struct{})
	failures := 0
	var latest time.Time
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			var a Attempt
			if err := json.Unmarshal([]byte(raw), &a); err != nil {
				continue
			}
			if _, dup := seen[a.ID]; dup {
				continue
			}
			seen[a.ID] = struct{}{}
			if a.Success {
				continue
			}
			failures++
			if a.At.After(latest) {
				latest = a.At
			}
		}
	}

	if failures < l.config.Threshold {
		return LockStatus{}, nil
	}

	remaining := l.config.Window - now.Sub(latest)
	minutes := int(math.Ceil(float64(remaining.Milliseconds()) / 60000))
	if minutes < 1 {
		minutes = 1
	}
	return LockStatus{Locked: true, MinutesRemaining: minutes}, nil
}

// RecordAttempt appends one attempt to both indexes and trims entries older than
// the retention period.
func (l *LockoutTracker) RecordAttempt(ctx context.Context, userID, ip, email string, success bool) error {
	now := l.now()
	a := Attempt{
		ID:      uuid.NewString(),
		UserID:  userID,
		Email:   email,
		IP:      ip,
		Success: success,
		At:      now.UTC(),
	}
	member, err := json.Marshal(a)
	if err != nil {
		return err
	}

	score := float64(now.UnixMilli())
	cutoff := "(" + strconv.FormatInt(now.Add(-l.config.Retention).UnixMilli(), 10)

	keys := make([]string, 0, 2)
	if email != "" {
		keys = append(keys, emailKey(email))
	}
	if ip != "" {
		keys = append(keys, ipKey(ip))
	}
	if len(keys) == 0 {
		return nil
	}

	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
			pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
			pipe.Expire(ctx, key, l.config.Retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
