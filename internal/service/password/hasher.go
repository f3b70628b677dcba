// Package password hashes new passwords with argon2id and verifies argon2 and legacy pbkdf2 and bcrypt hashes.
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

var (
	ErrMalformedHash   = errors.New("malformed password hash")
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

const (
	argon2idMarker = "$argon2id$"
	argon2iMarker  = "$argon2i$"
	pbkdf2Marker   = "pbkdf2:"
)

// Upper bounds for cost read from stored hashes. Anything above is malformed
const (
	maxMemory    = 1 << 20 // 1 GiB
	maxTime      = 64
	maxKeyLength = 1024
)

// Argon2 cost parameters. Memory is in KiB
type Params struct {
	Time        uint32
	Memory      uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultParams = Params{
	Time:        2,
	Memory:      64 * 1024,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type Hasher struct {
	params Params
}

func New(params Params) (*Hasher, error) {
	switch {
	case params.Time == 0:
		return nil, errors.New("argon2 time cost must be positive")
	case params.Time > maxTime:
		return nil, fmt.Errorf("argon2 time cost must not exceed %d", maxTime)
	case params.Memory > maxMemory:
		return nil, fmt.Errorf("argon2 memory must not exceed %d KiB", maxMemory)
	case params.Memory < 8*uint32(params.Parallelism):
		return nil, errors.New("argon2 memory must be at least 8 KiB per lane")
	case params.Parallelism == 0:
		return nil, errors.New("argon2 parallelism must be positive")
	case params.SaltLength < 8:
		return nil, errors.New("salt must be at least 8 bytes")
	case params.KeyLength < 16:
		return nil, errors.New("key must be at least 16 bytes")
	}

	return &Hasher{params: params}, nil
}

// Hash returns PHC string: $argon2id$v=19$m=<memory>,t=<time>,p=<parallelism>$<salt>$<key>
// Every call uses a fresh random salt
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("error while generating salt. Err: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded hash
// Mismatch is (false, nil). Error is returned only for broken argon2 hashes
// Legacy and unknown formats never return error
func (h *Hasher) Verify(password string, encoded string) (bool, error) {
	rec, err := parseRecord(encoded)
	if err != nil {
		return false, err
	}

	return rec.verify(password), nil
}

// NeedsRehash reports whether encoded hash should be replaced with a fresh one
func (h *Hasher) NeedsRehash(encoded string) bool {
	rec, err := parseRecord(encoded)
	if err != nil {
		return true
	}

	a, ok := rec.(argon2Record)
	if !ok || a.variant != argon2idMarker {
		return true
	}

	return a.params.Time != h.params.Time ||
		a.params.Memory != h.params.Memory ||
		a.params.Parallelism != h.params.Parallelism ||
		len(a.salt) != int(h.params.SaltLength) ||
		len(a.key) != int(h.params.KeyLength)
}

type record interface {
	verify(password string) bool
}

// Scheme is chosen by marker the hash string starts with
func parseRecord(encoded string) (record, error) {
	switch {
	case strings.HasPrefix(encoded, argon2idMarker):
		return parseArgon2(encoded, argon2idMarker)
	case strings.HasPrefix(encoded, argon2iMarker):
		return parseArgon2(encoded, argon2iMarker)
	case strings.HasPrefix(encoded, "$argon2"):
		return nil, fmt.Errorf("%w: argon2 variant", ErrUnsupportedHash)
	case strings.HasPrefix(encoded, pbkdf2Marker):
		return parsePBKDF2(encoded), nil
	case isBcrypt(encoded):
		return bcryptRecord{hash: []byte(encoded)}, nil
	default:
		return rejectRecord{}, nil
	}
}

// Matches nothing
type rejectRecord struct{}

func (rejectRecord) verify(string) bool { return false }

type argon2Record struct {
	variant string
	params  Params
	salt    []byte
	key     []byte
}

func parseArgon2(encoded string, variant string) (argon2Record, error) {
	rec := argon2Record{variant: variant}

	// "", variant, version, params, salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return rec, fmt.Errorf("%w: expected 6 parts, got %d", ErrMalformedHash, len(parts))
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return rec, fmt.Errorf("%w: version. Err: %v", ErrMalformedHash, err)
	}
	if version != argon2.Version {
		return rec, fmt.Errorf("%w: argon2 version %d", ErrUnsupportedHash, version)
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return rec, fmt.Errorf("%w: parameters. Err: %v", ErrMalformedHash, err)
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return rec, fmt.Errorf("%w: zero parameter", ErrMalformedHash)
	}
	if p.Memory > maxMemory || p.Time > maxTime {
		return rec, fmt.Errorf("%w: cost out of bounds m=%d,t=%d", ErrMalformedHash, p.Memory, p.Time)
	}

	salt, err := decodeBase64(base64.RawStdEncoding, parts[4])
	if err != nil || len(salt) == 0 {
		return rec, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	key, err := decodeBase64(base64.RawStdEncoding, parts[5])
	if err != nil || len(key) == 0 || len(key) > maxKeyLength {
		return rec, fmt.Errorf("%w: key", ErrMalformedHash)
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	rec.params, rec.salt, rec.key = p, salt, key

	return rec, nil
}

func (r argon2Record) verify(password string) bool {
	var derived []byte
	switch r.variant {
	case argon2idMarker:
		derived = argon2.IDKey([]byte(password), r.salt, r.params.Time, r.params.Memory, r.params.Parallelism, r.params.KeyLength)
	default:
		derived = argon2.Key([]byte(password), r.salt, r.params.Time, r.params.Memory, r.params.Parallelism, r.params.KeyLength)
	}

	return subtle.ConstantTimeCompare(derived, r.key) == 1
}

// Padding is tolerated
func decodeBase64(enc *base64.Encoding, s string) ([]byte, error) {
	return enc.DecodeString(strings.TrimRight(s, "="))
}
