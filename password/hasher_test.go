package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Memory = 8 * 1024
	cfg.Iterations = 1
	cfg.Parallelism = 1
	return cfg
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	ok, err := h.Verify("correct horse battery", encoded)
	if err != nil || !ok {
		t.Fatalf("expected match: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong horse battery", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch: ok=%v err=%v", ok, err)
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := newTestHasher(t)
	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Fatal("expected distinct salts per hash")
	}
}

func TestLengthBounds(t *testing.T) {
	h := newTestHasher(t)

	if _, err := h.Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("x", DefaultMaxLength+1)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if _, err := h.Verify(strings.Repeat("x", DefaultMaxLength+1), "$argon2id$"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong from Verify, got %v", err)
	}
}

func TestLegacyBcryptVerifiesAndNeedsRehash(t *testing.T) {
	h := newTestHasher(t)

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := h.Verify("legacy-password", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy match: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("nope-nope-nope", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected legacy mismatch: ok=%v err=%v", ok, err)
	}
	if !h.NeedsRehash(string(legacy)) {
		t.Fatal("bcrypt hashes must be flagged for rehash")
	}
}

func TestNeedsRehashOnWeakerParameters(t *testing.T) {
	weak := newTestHasher(t)
	encoded, err := weak.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := testConfig()
	stronger.Iterations = 2
	strong, err := NewHasher(stronger)
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	if !strong.NeedsRehash(encoded) {
		t.Fatal("expected rehash for weaker iterations")
	}
	if weak.NeedsRehash(encoded) {
		t.Fatal("expected no rehash for current parameters")
	}
	ok, err := strong.Verify("upgrade-me-please", encoded)
	if err != nil || !ok {
		t.Fatalf("old parameters must still verify: ok=%v err=%v", ok, err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	h := newTestHasher(t)
	encoded, _ := h.Hash("version-test-pass")

	cases := []string{
		"not-a-hash",
		strings.Replace(encoded, "$v=19$", "$v=18$", 1),
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5",
	}
	for _, c := range cases {
		if _, err := h.Verify("version-test-pass", c); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("expected ErrMalformedHash for %q, got %v", c, err)
		}
	}
}

func TestNewHasherRejectsWeakConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	if _, err := NewHasher(cfg); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	cfg = testConfig()
	cfg.SaltLength = 8
	if _, err := NewHasher(cfg); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}
