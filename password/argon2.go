package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// DefaultMinPasswordBytes applies when Config.MinPasswordBytes is zero.
	DefaultMinPasswordBytes = 10
	// DefaultMaxPasswordBytes applies when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024

	phcPrefix = "$argon2id$"
	floorMem  = 8 * 1024
	floorSalt = 16
	floorKey  = 16
)

var (
	// ErrPasswordTooShort is returned by Hash for passwords under the minimum length.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned by Hash and Verify for passwords over the maximum length.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrMalformedHash wraps every failure to decode a stored hash.
	ErrMalformedHash = errors.New("malformed password hash")
)

var b64 = base64.RawStdEncoding

// Config holds the Argon2id cost parameters and the accepted password length
// range in bytes. Passwords are hashed as given, without Unicode normalization.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinPasswordBytes int
	MaxPasswordBytes int
}

// DefaultConfig returns the parameters used by the in-memory identity provider.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < floorMem:
		return fmt.Errorf("password: memory %d KiB below %d", c.Memory, floorMem)
	case c.Time == 0:
		return errors.New("password: time cost must be positive")
	case c.Parallelism == 0:
		return errors.New("password: parallelism must be positive")
	case c.SaltLength < floorSalt:
		return fmt.Errorf("password: salt length %d below %d", c.SaltLength, floorSalt)
	case c.KeyLength < floorKey:
		return fmt.Errorf("password: key length %d below %d", c.KeyLength, floorKey)
	case c.MinPasswordBytes < 1, c.MaxPasswordBytes < c.MinPasswordBytes:
		return fmt.Errorf("password: length bounds [%d,%d] invalid", c.MinPasswordBytes, c.MaxPasswordBytes)
	}
	return nil
}

// Argon2 hashes and verifies account passwords for the memory identity provider.
type Argon2 struct {
	cfg Config
}

// NewArgon2 fills the length defaults and validates cfg.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MinPasswordBytes == 0 {
		cfg.MinPasswordBytes = DefaultMinPasswordBytes
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash returns the PHC encoding of password under a fresh random salt.
func (a *Argon2) Hash(password string) (string, error) {
	switch {
	case len(password) < a.cfg.MinPasswordBytes:
		return "", ErrPasswordTooShort
	case len(password) > a.cfg.MaxPasswordBytes:
		return "", ErrPasswordTooLong
	}

	d := digest{
		memory:  a.cfg.Memory,
		time:    a.cfg.Time,
		threads: a.cfg.Parallelism,
		salt:    make([]byte, a.cfg.SaltLength),
	}
	if _, err := rand.Read(d.salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}
	d.key = d.derive(password, a.cfg.KeyLength)
	return d.String(), nil
}

// Verify reports whether password matches encoded. Oversized input is rejected
// before any key derivation runs.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	if len(password) > a.cfg.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}
	got := d.derive(password, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(got, d.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}
	weaker := d.memory < a.cfg.Memory ||
		d.time < a.cfg.Time ||
		d.threads < a.cfg.Parallelism ||
		uint32(len(d.key)) != a.cfg.KeyLength
	return weaker, nil
}

// digest is one decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type digest struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (d digest) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), d.salt, d.time, d.memory, d.threads, keyLen)
}

func (d digest) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version, d.memory, d.time, d.threads,
		b64.EncodeToString(d.salt), b64.EncodeToString(d.key))
}

func parseDigest(encoded string) (digest, error) {
	var d digest
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return d, fmt.Errorf("%w: not argon2id", ErrMalformedHash)
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return d, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedHash, len(fields))
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil || version != argon2.Version {
		return d, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[0])
	}
	var memory, time, threads uint64
	n, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &memory, &time, &threads)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", memory, time, threads) != fields[1] {
		return d, fmt.Errorf("%w: parameters %q", ErrMalformedHash, fields[1])
	}
	if memory < floorMem || memory > 1<<32-1 || time == 0 || time > 1<<32-1 || threads == 0 || threads > 255 {
		return d, fmt.Errorf("%w: parameters out of range", ErrMalformedHash)
	}
	d.memory, d.time, d.threads = uint32(memory), uint32(time), uint8(threads)

	// Hashes written with padded base64 still decode.
	if d.salt, err = b64.DecodeString(strings.TrimRight(fields[2], "=")); err != nil || len(d.salt) < floorSalt {
		return d, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if d.key, err = b64.DecodeString(strings.TrimRight(fields[3], "=")); err != nil || len(d.key) == 0 {
		return d, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return d, nil
}
