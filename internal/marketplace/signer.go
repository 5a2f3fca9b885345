package marketplace

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer produces DPoP proof-of-possession headers for signed API requests.
// It holds one P-256 key pair for the process lifetime and mints a fresh
// proof per call: each signature embeds the method, URL, issue time and a
// single-use UUID nonce, so no two headers are ever identical.
type Signer struct {
	key *ecdsa.PrivateKey
	jwk map[string]string
}

// NewSigner generates the process key pair. Failure here is a fatal
// configuration error, not a retryable condition.
func NewSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return newSignerWithKey(key), nil
}

func newSignerWithKey(key *ecdsa.PrivateKey) *Signer {
	coord := func(b []byte) string {
		return base64.RawURLEncoding.EncodeToString(b)
	}
	return &Signer{
		key: key,
		jwk: map[string]string{
			"crv": "P-256",
			"kty": "EC",
			"x":   coord(key.PublicKey.X.FillBytes(make([]byte, 32))),
			"y":   coord(key.PublicKey.Y.FillBytes(make([]byte, 32))),
		},
	}
}

// Sign returns the DPoP header value for one request. The htu claim is the
// bare endpoint URL without query parameters, matching what the API verifies.
func (s *Signer) Sign(method, rawURL string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iat": time.Now().Unix(),
		"jti": uuid.NewString(),
		"htu": stripQuery(rawURL),
		"htm": strings.ToUpper(method),
	})
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = s.jwk

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign request proof: %w", err)
	}
	return signed, nil
}

// PublicKey exposes the verification half of the key pair for tests
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

func stripQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
