// Package urlsign implements opaque token URLs: the query parameters of a
// proxy URL are sealed into a single AES-GCM token so intermediaries cannot
// read or alter the upstream destination, keys, or credentials they carry.
package urlsign

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
)

// TokenParam is the query parameter carrying the sealed token.
const TokenParam = "token"

// TokenSigner seals and opens query parameter maps using a key derived from
// a shared secret.
type TokenSigner struct {
	aead cipher.AEAD
}

// New creates a TokenSigner from the configured secret.
func New(secret string) (*TokenSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating aead: %w", err)
	}

	return &TokenSigner{aead: aead}, nil
}

// Sign seals params into a token and returns baseURL?token=<token>.
func (s *TokenSigner) Sign(baseURL string, params url.Values) (string, error) {
	plaintext, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding params: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	token := base64.RawURLEncoding.EncodeToString(sealed)

	q := url.Values{TokenParam: []string{token}}
	return baseURL + "?" + q.Encode(), nil
}

// Open decodes a token back into the query parameters it sealed.
func (s *TokenSigner) Open(token string) (url.Values, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	if len(sealed) < s.aead.NonceSize() {
		return nil, fmt.Errorf("token too short")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening token: %w", err)
	}

	var params url.Values
	if err := json.Unmarshal(plaintext, &params); err != nil {
		return nil, fmt.Errorf("decoding params: %w", err)
	}
	return params, nil
}
