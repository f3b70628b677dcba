package password

import (
	"crypto/sha256"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var bcryptMarkers = []string{"$2a$", "$2b$", "$2y$"}

func isBcrypt(encoded string) bool {
	for _, m := range bcryptMarkers {
		if strings.HasPrefix(encoded, m) {
			return true
		}
	}
	return false
}

// bcrypt of sha256(password) as stored by the previous user service
// Prehash lifts bcrypt 72 byte input limit
type bcryptRecord struct {
	hash []byte
}

// Malformed hash never matches
func (r bcryptRecord) verify(password string) bool {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword(r.hash, sum[:]) == nil
}
