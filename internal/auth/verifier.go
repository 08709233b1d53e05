// Package auth verifies bearer tokens for the admin API.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ModeDev  = "dev"
	ModeHMAC = "hmac"
	ModeJWKS = "jwks"
)

// Roles, in increasing privilege.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingClaim = errors.New("missing subject claim")
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	HMACSecret string        `mapstructure:"hmac_secret"`
	JWKSURL    string        `mapstructure:"jwks_url"`
	Issuer     string        `mapstructure:"issuer"`
	RoleClaim  string        `mapstructure:"role_claim"`
	CacheTTL   time.Duration `mapstructure:"jwks_cache_ttl"`
}

// Verifier validates JWTs and extracts the caller's role.
// dev accepts "subject:role" tokens unverified, hmac checks HS256, jwks checks RS256 against
// keys fetched from JWKSURL.
type Verifier struct {
	cfg       Config
	http      *http.Client
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

type Principal struct {
	Subject string
	Role    string
}

// Allows reports whether p holds at least role.
func (p Principal) Allows(role string) bool {
	return rank(p.Role) >= rank(role)
}

func rank(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

func NewVerifier(cfg Config) (*Verifier, error) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeDev
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	switch cfg.Mode {
	case ModeDev:
	case ModeHMAC:
		if cfg.HMACSecret == "" {
			return nil, errors.New("auth: hmac mode requires a secret")
		}
	case ModeJWKS:
		if cfg.JWKSURL == "" {
			return nil, errors.New("auth: jwks mode requires a jwks url")
		}
	default:
		return nil, fmt.Errorf("auth: unsupported mode %q", cfg.Mode)
	}
	return &Verifier{cfg: cfg, http: &http.Client{Timeout: 5 * time.Second}}, nil
}

func (v *Verifier) Mode() string { return v.cfg.Mode }

func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	if v.cfg.Mode == ModeDev {
		sub, role, ok := strings.Cut(token, ":")
		if !ok || sub == "" {
			return Principal{}, errors.New("invalid dev token; expected subject:role")
		}
		return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	mc := jwt.MapClaims{}
	var keyFunc jwt.Keyfunc
	if v.cfg.Mode == ModeHMAC {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		keyFunc = func(*jwt.Token) (any, error) { return []byte(v.cfg.HMACSecret), nil }
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
		keyFunc = func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return v.publicKey(ctx, kid)
		}
	}
	if _, err := jwt.ParseWithClaims(token, mc, keyFunc, opts...); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, ErrMissingClaim
	}
	role, _ := mc[v.cfg.RoleClaim].(string)
	if role == "" {
		role = RoleViewer
	}
	return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
}

// Issue signs an HS256 token for subject, for operators and tests in hmac mode.
func (v *Verifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	if v.cfg.Mode != ModeHMAC {
		return "", fmt.Errorf("auth: cannot issue tokens in %s mode", v.cfg.Mode)
	}
	now := time.Now()
	c := jwt.MapClaims{
		"jti": uuid.NewString(),
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	c[v.cfg.RoleClaim] = role
	if v.cfg.Issuer != "" {
		c["iss"] = v.cfg.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(v.cfg.HMACSecret))
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Verifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cfg.CacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}
	if err := v.fetchJWKS(ctx); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, errors.New("kid not found in JWKS")
}

func (v *Verifier) fetchJWKS(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: status %d", resp.StatusCode)
	}
	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return err
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return err
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
