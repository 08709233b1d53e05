package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Canonical encodes a payload as compact JSON with object keys sorted, the form signatures
// are computed over. Numbers keep their literal digits and HTML characters are not escaped,
// so the bytes match what a standard sorted-key encoder produces on the sender's side.
func Canonical(payload any) ([]byte, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	v, err := DecodeJSON(raw)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DecodeJSON decodes b keeping numbers as json.Number.
func DecodeJSON(b []byte) (any, error) {
	var v any
	if err := UnmarshalNumbers(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// UnmarshalNumbers is json.Unmarshal with json.Number for untyped numbers.
func UnmarshalNumbers(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// Sign returns lowercase hex of HMAC-SHA256 over the canonical payload.
func Sign(payload any, secret string) (string, error) {
	body, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return SignHMAC(secret, body), nil
}

// Verify checks a signature in constant time. A "sha256=" prefix on the signature is
// accepted.
func Verify(payload any, signature, secret string) bool {
	body, err := Canonical(payload)
	if err != nil {
		return false
	}
	return VerifyHMAC(secret, body, strings.TrimPrefix(signature, "sha256="))
}

// VerifyHMAC checks an HMAC-SHA256 signature over the raw body using the shared secret.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, b)
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for use in headers.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("%x", mac.Sum(nil))
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
