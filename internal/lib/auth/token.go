package auth

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BcryptVerifier accepts tokens matching a bcrypt hash.
type BcryptVerifier struct {
	hash []byte
}

// NewBcryptVerifier returns nil for an empty hash; a nil verifier rejects everything.
func NewBcryptVerifier(hash string) *BcryptVerifier {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil
	}
	return &BcryptVerifier{hash: []byte(hash)}
}

func (v *BcryptVerifier) Verify(token string) bool {
	if v == nil || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(token)) == nil
}

// HashToken produces the value expected in AUTH_TOKEN_HASH.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// TokenFromRequest reads a bearer token from the Authorization header or the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
