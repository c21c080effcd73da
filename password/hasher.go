package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const phcPrefix = "$argon2id$"

// DefaultMaxLength bounds the work a single hash call can be asked to do.
const DefaultMaxLength = 1024

var (
	// ErrTooShort is returned when a password is below the configured minimum.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned when a password exceeds the configured maximum.
	ErrTooLong = errors.New("password too long")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config controls argon2id cost parameters and the accepted password length range.
type Config struct {
	Memory      uint32 `env:"MEMORY_KB" toml:"memory_kb"`
	Iterations  uint32 `env:"ITERATIONS" toml:"iterations"`
	Parallelism uint8  `env:"PARALLELISM" toml:"parallelism"`
	SaltLength  uint32 `env:"SALT_LENGTH" toml:"salt_length"`
	KeyLength   uint32 `env:"KEY_LENGTH" toml:"key_length"`
	MinLength   int    `env:"MIN_LENGTH" toml:"min_length"`
	MaxLength   int    `env:"MAX_LENGTH" toml:"max_length"`
}

// DefaultConfig returns the production cost parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   8,
		MaxLength:   DefaultMaxLength,
	}
}

// Hasher produces argon2id hashes and verifies both argon2id and legacy bcrypt hashes.
// It is safe for concurrent use.
type Hasher struct {
	cfg Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	switch {
	case cfg.Memory < 8*1024:
		return nil, errors.New("password memory must be >= 8192 KB")
	case cfg.Iterations < 1:
		return nil, errors.New("password iterations must be >= 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < 16:
		return nil, errors.New("password salt length must be >= 16")
	case cfg.KeyLength < 16:
		return nil, errors.New("password key length must be >= 16")
	case cfg.MinLength < 0 || cfg.MinLength > cfg.MaxLength:
		return nil, errors.New("password length bounds are inconsistent")
	}
	return &Hasher{cfg: cfg}, nil
}

// Hash returns a PHC-encoded argon2id hash of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) < h.cfg.MinLength {
		return "", ErrTooShort
	}
	if len(plain) > h.cfg.MaxLength {
		return "", ErrTooLong
	}

	salt := make([]byte, h.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plain), salt, h.cfg.Iterations, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version,
		h.cfg.Memory, h.cfg.Iterations, h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plain matches encoded. A mismatch is (false, nil); an
// unparseable hash is an error.
func (h *Hasher) Verify(plain, encoded string) (bool, error) {
	if len(plain) > h.cfg.MaxLength {
		return false, ErrTooLong
	}
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
	}

	p, err := decode(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(plain), p.salt, p.iterations, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced by bcrypt or with weaker argon2id
// parameters than the current configuration.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	p, err := decode(encoded)
	if err != nil {
		return true
	}
	return p.memory < h.cfg.Memory ||
		p.iterations < h.cfg.Iterations ||
		p.parallelism < h.cfg.Parallelism ||
		uint32(len(p.key)) != h.cfg.KeyLength
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

type params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func decode(encoded string) (*params, error) {
	if !strings.HasPrefix(encoded, phcPrefix) {
		return nil, ErrMalformedHash
	}
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version", ErrMalformedHash)
	}

	var p params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if p.memory == 0 || p.iterations == 0 || p.parallelism == 0 {
		return nil, ErrMalformedHash
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) == 0 {
		return nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 {
		return nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return &p, nil
}
