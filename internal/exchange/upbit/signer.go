package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer produces the bearer token for private endpoints: an HS256 JWT over the
// access key, a fresh nonce and the SHA-512 digest of the query string.
type Signer struct {
	accessKey string
	secretKey []byte
	nonce     func() string
}

func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: []byte(secretKey),
		nonce:     uuid.NewString,
	}
}

// Token signs query, the canonical unescaped parameter string. The hash claims
// are omitted when query is empty.
func (s *Signer) Token(query string) (string, error) {
	if s.accessKey == "" || len(s.secretKey) == 0 {
		return "", errors.New("upbit: access key and secret key are required")
	}

	claims := jwt.MapClaims{
		"access_key": s.accessKey,
		"nonce":      s.nonce(),
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// canonicalQuery joins params as k=v pairs sorted by key, without escaping.
func canonicalQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}
