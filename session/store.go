package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidTokenFormat is returned when a refresh token carries no jti or subject.
	ErrInvalidTokenFormat = errors.New("invalid refresh token format")
	// ErrSessionNotFound is returned when no live record backs the presented token.
	// Rotated, revoked, expired and never-issued tokens are indistinguishable.
	ErrSessionNotFound = errors.New("refresh token expired or invalid")
	// ErrTokenMismatch is returned when a record exists but its stored hash does not
	// match the presented raw token.
	ErrTokenMismatch = errors.New("invalid refresh token")
	// ErrRedisUnavailable wraps every store failure other than a key miss.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config controls session lifetimes and the concurrency cap.
type Config struct {
	TTL               time.Duration
	KnownDeviceTTL    time.Duration
	MaxActiveSessions int
}

// Store is the refresh-token registry. All state lives in Redis; the Store
// itself is immutable after construction and safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	config Config
	decode Decoder
	now    func() time.Time
}

// NewStore creates a session [Store]. decode is used to pull userId/jti out of
// raw tokens before any lookup.
//
//	Docs: session/doc.go
func NewStore(client redis.UniversalClient, cfg Config, decode Decoder) *Store {
	if cfg.MaxActiveSessions <= 0 {
		cfg.MaxActiveSessions = 5
	}
	if cfg.KnownDeviceTTL <= 0 {
		cfg.KnownDeviceTTL = 180 * 24 * time.Hour
	}
	return &Store{
		redis:  client,
		config: cfg,
		decode: decode,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for record timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func recordKey(userID, jti string) string {
	return "refresh:" + userID + ":" + jti
}

func sessionsKey(userID string) string {
	return "user:sessions:" + userID
}

func knownDevicesKey(userID string) string {
	return "known_devices:" + userID
}

// HashToken returns the hex SHA-256 of a raw refresh token, the only form in
// which a token is ever persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Save records a freshly minted refresh token.
//
// The record, its membership in the user's session set and the device fingerprint
// are written in one MULTI/EXEC batch, so a concurrent reader sees either all of
// them or none.
//
//	Performance: 1 round-trip (MULTI SET ZADD PEXPIRE [SADD EXPIRE] EXEC).
func (s *Store) Save(ctx context.Context, userID, refreshToken, ip, device, fingerprint string) (*Record, error) {
	tokenUser, jti, ok := s.decode(refreshToken)
	if !ok || jti == "" || tokenUser == "" || tokenUser != userID {
		return nil, ErrInvalidTokenFormat
	}

	now := s.now().UTC()
	rec := &Record{
		JTI:         jti,
		UserID:      userID,
		HashedToken: HashToken(refreshToken),
		IP:          ip,
		Device:      device,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	setKey := sessionsKey(userID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(userID, jti), data, s.config.TTL)
		pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(now.UnixMilli()), Member: jti})
		pipe.PExpire(ctx, setKey, s.config.TTL)
		if fingerprint != "" {
			devKey := knownDevicesKey(userID)
			pipe.SAdd(ctx, devKey, fingerprint)
			pipe.Expire(ctx, devKey, s.config.KnownDeviceTTL)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return rec, nil
}

// ManageActiveSessions makes room for one more session. Stale ids are pruned
// first, then the oldest sessions (by creation time) are evicted until the live
// count is below the cap. It returns the live count after eviction and the
// number of sessions evicted.
//
// This is read-then-evict, not compare-and-swap: two racing logins at the cap may
// leave the user one over until the next call converges.
func (s *Store) ManageActiveSessions(ctx context.Context, userID string) (live int, evicted int, err error) {
	ids, err := s.liveIDs(ctx, userID)
	if err != nil {
		return 0, 0, err
	}

	for len(ids) >= s.config.MaxActiveSessions {
		if _, err := s.DeleteToken(ctx, userID, ids[0]); err != nil {
			return len(ids), evicted, err
		}
		ids = ids[1:]
		evicted++
	}

	return len(ids), evicted, nil
}

// IsNewDevice reports whether fingerprint is absent from the user's known-device
// set. An empty fingerprint is always new.
func (s *Store) IsNewDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return true, nil
	}
	known, err := s.redis.SIsMember(ctx, knownDevicesKey(userID), fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return !known, nil
}

// ValidateRefreshToken resolves a raw refresh token to its owner. It does not
// verify the JWT signature and does not delete the record; rotation callers
// delete explicitly once the replacement is saved.
func (s *Store) ValidateRefreshToken(ctx context.Context, rawToken string) (Identity, error) {
	userID, jti, ok := s.decode(rawToken)
	if !ok || userID == "" || jti == "" {
		return Identity{}, ErrInvalidTokenFormat
	}

	rec, err := s.get(ctx, userID, jti)
	if err != nil {
		return Identity{}, err
	}

	presented := HashToken(rawToken)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(rec.HashedToken)) != 1 {
		return Identity{}, ErrTokenMismatch
	}

	return Identity{UserID: userID, JTI: jti}, nil
}

// DeleteToken removes one session record and its set membership. It is
// idempotent and returns the number of records deleted (0 or 1).
func (s *Store) DeleteToken(ctx context.Context, userID, jti string) (int, error) {
	var del *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, recordKey(userID, jti))
		pipe.ZRem(ctx, sessionsKey(userID), jti)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(del.Val()), nil
}

// RevokeSession removes one session on behalf of the user or a security action.
// Unlike [Store.DeleteToken] it reports ErrSessionNotFound when nothing was removed.
func (s *Store) RevokeSession(ctx context.Context, userID, jti string) (int, error) {
	n, err := s.DeleteToken(ctx, userID, jti)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrSessionNotFound
	}
	return n, nil
}

// RevokeAllSessions deletes every session of a user and returns how many live
// records were removed. Known devices are kept; device trust is not a session.
//
// A session saved between the read and the delete is not captured; it will be
// caught by a subsequent call or expire on its own.
func (s *Store) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	setKey := sessionsKey(userID)
	ids, err := s.redis.ZRange(ctx, setKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids))
	for _, jti := range ids {
		keys = append(keys, recordKey(userID, jti))
	}

	var del *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			del = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, setKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if del == nil {
		return 0, nil
	}
	return int(del.Val()), nil
}

// GetActiveSessions returns the user's live sessions, oldest first. Tracked ids
// whose record has expired are removed from the set as a side effect.
func (s *Store) GetActiveSessions(ctx context.Context, userID string) ([]Record, error) {
	setKey := sessionsKey(userID)
	ids, err := s.redis.ZRange(ctx, setKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, jti := range ids {
		cmds[i] = pipe.Get(ctx, recordKey(userID, jti))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]Record, 0, len(ids))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		records = append(records, rec)
	}

	if len(stale) > 0 {
		if err := s.redis.ZRem(ctx, setKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return records, nil
}

// Ping checks Redis availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, userID, jti string) (*Record, error) {
	data, err := s.redis.Get(ctx, recordKey(userID, jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrSessionNotFound
	}
	return &rec, nil
}

// liveIDs returns tracked ids oldest first, dropping those without a record.
func (s *Store) liveIDs(ctx context.Context, userID string) ([]string, error) {
	setKey := sessionsKey(userID)
	ids, err := s.redis.ZRange(ctx, setKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	pipe := s.redis.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, jti := range ids {
		exists[i] = pipe.Exists(ctx, recordKey(userID, jti))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	live := make([]string, 0, len(ids))
	stale := make([]interface{}, 0)
	for i, cmd := range exists {
		if cmd.Val() == 1 {
			live = append(live, ids[i])
		} else {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) > 0 {
		if err := s.redis.ZRem(ctx, setKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return live, nil
}
