package password

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

var legacyDigests = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// Bounds for stored pbkdf2 cost. Derived length multiplies the work too
const (
	maxPBKDF2Iterations = 5_000_000
	maxPBKDF2KeyLength  = 128
)

// Legacy hash: pbkdf2:<digest>:<iterations>$<salt>$<expected>
// Salt and expected digest are base64url without padding
type pbkdf2Record struct {
	digest     func() hash.Hash
	iterations int
	salt       []byte
	expected   []byte
}

// Anything unparsable is a record that matches nothing
func parsePBKDF2(encoded string) record {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 {
		return rejectRecord{}
	}

	scheme := strings.Split(parts[0], ":")
	if len(scheme) != 3 {
		return rejectRecord{}
	}

	digest, ok := legacyDigests[strings.ToLower(scheme[1])]
	if !ok {
		return rejectRecord{}
	}

	iterations, err := strconv.Atoi(scheme[2])
	if err != nil || iterations <= 0 || iterations > maxPBKDF2Iterations {
		return rejectRecord{}
	}

	salt, err := decodeBase64(base64.RawURLEncoding, parts[1])
	if err != nil {
		return rejectRecord{}
	}
	expected, err := decodeBase64(base64.RawURLEncoding, parts[2])
	if err != nil || len(expected) == 0 || len(expected) > maxPBKDF2KeyLength {
		return rejectRecord{}
	}

	return pbkdf2Record{digest: digest, iterations: iterations, salt: salt, expected: expected}
}

func (r pbkdf2Record) verify(password string) bool {
	derived := pbkdf2.Key([]byte(password), r.salt, r.iterations, len(r.expected), r.digest)
	return subtle.ConstantTimeCompare(derived, r.expected) == 1
}
