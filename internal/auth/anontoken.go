package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// TokenHasher produces the one-way digest stored for anonymous session
// tokens. The salt keys the hash so a leaked table cannot be brute-forced
// without the server secret.
type TokenHasher struct {
	key []byte
}

func NewTokenHasher(salt string) *TokenHasher {
	k := blake2b.Sum256([]byte(salt))
	return &TokenHasher{key: k[:]}
}

func (h *TokenHasher) Hash(raw string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(err)
	}
	_, _ = mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewRawToken mints a 256-bit URL-safe secret for clients that do not
// bring their own anonymous token.
func NewRawToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
