// Package secrets encrypts integration credentials at rest.
//
// Ciphertexts are "enc:v1:" followed by base64(nonce || sealed) using XChaCha20-Poly1305.
// Values without the prefix are treated as plaintext so rows written before encryption
// was enabled still load.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"syncgate/internal/errs"
)

const Prefix = "enc:v1:"

// Secrets encrypts and decrypts credential maps.
type Secrets interface {
	Encrypt(values map[string]string) (map[string]string, error)
	Decrypt(values map[string]string) (map[string]string, error)
}

// Box is a Secrets backed by one 32-byte key.
type Box struct {
	key []byte
}

// NewBox takes a raw 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errs.Configuration("secrets key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Box{key: append([]byte(nil), key...)}, nil
}

// KeyFromString accepts a base64-encoded 32-byte key, or derives one from a passphrase
// with SHA-256.
func KeyFromString(s string) []byte {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == chacha20poly1305.KeySize {
		return b
	}
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// GenerateKey returns a random key, base64 encoded.
func GenerateKey() (string, error) {
	b := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func (b *Box) EncryptString(plain string) (string, error) {
	if strings.HasPrefix(plain, Prefix) {
		return plain, nil
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", errs.Wrap(err, errs.KindInternal, "init cipher")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errs.Wrap(err, errs.KindInternal, "read nonce")
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) DecryptString(value string) (string, error) {
	if !strings.HasPrefix(value, Prefix) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", errs.Configuration("credential ciphertext is not base64")
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", errs.Wrap(err, errs.KindInternal, "init cipher")
	}
	if len(raw) < aead.NonceSize() {
		return "", errs.Configuration("credential ciphertext too short")
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", errs.Configuration("credential cannot be decrypted with the configured key")
	}
	return string(plain), nil
}

func (b *Box) Encrypt(values map[string]string) (map[string]string, error) {
	return apply(values, b.EncryptString)
}

func (b *Box) Decrypt(values map[string]string) (map[string]string, error) {
	return apply(values, b.DecryptString)
}

func apply(values map[string]string, fn func(string) (string, error)) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		s, err := fn(v)
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				e.WithDetail("field", k)
			}
			return nil, err
		}
		out[k] = s
	}
	return out, nil
}

// Plain passes values through unchanged.
type Plain struct{}

func (Plain) Encrypt(v map[string]string) (map[string]string, error) { return copyMap(v), nil }
func (Plain) Decrypt(v map[string]string) (map[string]string, error) { return copyMap(v), nil }

func copyMap(v map[string]string) map[string]string {
	if v == nil {
		return nil
	}
	out := make(map[string]string, len(v))
	for k, s := range v {
		out[k] = s
	}
	return out
}
