package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// Argon2Params defines parameters for Argon2id password hashing
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params are used by cmd/keyhash.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

const argon2Prefix = "argon2id$"

// HashPassword creates an Argon2id hash of the password
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)

	// Format: argon2id$iterations$memory$parallelism$salt$hash (base64 encoded)
	encoded := fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// VerifyPassword verifies a password against its Argon2id hash
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par64, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expectedHash) == 0 {
		return false
	}

	// Clamp parallelism to uint8 range to avoid overflow
	par := uint8(min(par64, math.MaxUint8))
	actualHash := argon2.IDKey([]byte(password), salt, iters, mem, par, uint32(len(expectedHash))) //nolint:gosec // hash length is small
	return subtle.ConstantTimeCompare(actualHash, expectedHash) == 1
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// APIKey is one configured key. Secret is either the key itself or an Argon2id hash of it.
type APIKey struct {
	Secret string
	Role   string
}

// ParseAPIKeys parses the comma separated "key:role" list; the role defaults to user.
func ParseAPIKeys(raw string) []APIKey {
	var out []APIKey
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, role, _ := strings.Cut(pair, ":")
		role = strings.TrimSpace(role)
		if role == "" {
			role = domain.RoleUser
		}
		out = append(out, APIKey{Secret: strings.TrimSpace(k), Role: role})
	}
	return out
}

// Principal is the authenticated caller.
type Principal struct {
	// Subject identifies the caller without exposing the token: a key
	// fingerprint, or the JWT subject.
	Subject string
	Role    string
	Token   string
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by the Auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Fingerprint is a stable, non-reversible id for a token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// Authenticator resolves request credentials to a Principal.
type Authenticator struct {
	Keys      []APIKey
	JWTSecret string

	// verified caches argon2 results by token fingerprint.
	verified sync.Map
}

// NewAuthenticator builds an Authenticator from the API_KEYS list and the JWT secret.
func NewAuthenticator(apiKeys, jwtSecret string) *Authenticator {
	return &Authenticator{Keys: ParseAPIKeys(apiKeys), JWTSecret: jwtSecret}
}

// Open reports whether no credential source is configured, in which case any token is accepted with role user.
func (a *Authenticator) Open() bool { return len(a.Keys) == 0 && a.JWTSecret == "" }

// Authenticate checks X-API-Key (or api_key/token on GET), then a Bearer JWT.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	token := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if token == "" && r.Method == http.MethodGet {
		q := r.URL.Query()
		token = q.Get("api_key")
		if token == "" {
			token = q.Get("token")
		}
	}
	if token != "" {
		if role, ok := a.matchKey(token); ok {
			return Principal{Subject: "key:" + Fingerprint(token), Role: role, Token: token}, nil
		}
		if a.JWTSecret != "" {
			if p, err := a.parseJWT(token); err == nil {
				return p, nil
			}
		}
		if a.Open() {
			return Principal{Subject: "key:" + Fingerprint(token), Role: domain.RoleUser, Token: token}, nil
		}
		return Principal{}, fmt.Errorf("%w: unknown api key", domain.ErrUnauthorized)
	}

	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	bearer = strings.TrimSpace(bearer)
	if !ok || bearer == "" {
		return Principal{}, fmt.Errorf("%w: missing credentials", domain.ErrUnauthorized)
	}
	if a.JWTSecret == "" {
		return Principal{}, fmt.Errorf("%w: bearer tokens are not accepted", domain.ErrUnauthorized)
	}
	return a.parseJWT(bearer)
}

func (a *Authenticator) matchKey(token string) (string, bool) {
	fp := Fingerprint(token)
	if role, ok := a.verified.Load(fp); ok {
		return role.(string), true
	}
	for _, k := range a.Keys {
		if strings.HasPrefix(k.Secret, argon2Prefix) {
			if VerifyPassword(token, k.Secret) {
				a.verified.Store(fp, k.Role)
				return k.Role, true
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(k.Secret)) == 1 {
			return k.Role, true
		}
	}
	return "", false
}

type supabaseClaims struct {
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
	jwt.RegisteredClaims
}

func (a *Authenticator) parseJWT(raw string) (Principal, error) {
	var claims supabaseClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(a.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	role := metadataRole(claims.UserMetadata)
	if role == "" {
		role = metadataRole(claims.AppMetadata)
	}
	if role == "" {
		role = domain.RoleUser
	}
	sub := claims.Subject
	if sub == "" {
		sub = Fingerprint(raw)
	}
	return Principal{Subject: "jwt:" + sub, Role: role, Token: raw}, nil
}

func metadataRole(m map[string]any) string {
	r, _ := m["role"].(string)
	return strings.TrimSpace(r)
}

// Auth rejects unauthenticated requests with a flat 401 and stores the Principal otherwise.
func Auth(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				LoggerFrom(r).Debug("auth rejected", "error", err)
				writeFlatError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func principal(r *http.Request) Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}
