package httpserver_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/zeroatsteel/zero-agent/internal/adapter/httpserver"
	"github.com/zeroatsteel/zero-agent/internal/domain"
)

var fastArgon2 = httpserver.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLen: 8, KeyLen: 16}

func signJWT(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestHashPassword_RoundTrip(t *testing.T) {
	h, err := httpserver.HashPassword("s3cret", fastArgon2)
	require.NoError(t, err)
	assert.Contains(t, h, "argon2id$")
	assert.True(t, httpserver.VerifyPassword("s3cret", h))
	assert.False(t, httpserver.VerifyPassword("other", h))
	assert.False(t, httpserver.VerifyPassword("s3cret", "argon2id$broken"))
}

func TestParseAPIKeys(t *testing.T) {
	keys := httpserver.ParseAPIKeys(" a:admin , b ,, c:engineer,d: ")
	assert.Equal(t, []httpserver.APIKey{
		{Secret: "a", Role: "admin"},
		{Secret: "b", Role: "user"},
		{Secret: "c", Role: "engineer"},
		{Secret: "d", Role: "user"},
	}, keys)
	assert.Empty(t, httpserver.ParseAPIKeys(""))
}

func TestAuthenticate(t *testing.T) {
	hashed, err := httpserver.HashPassword("hashed-key", fastArgon2)
	require.NoError(t, err)
	a := httpserver.NewAuthenticator("plain:engineer,"+hashed+":admin", jwtSecret)

	req := func(method, target string, header ...string) *http.Request {
		r := httptest.NewRequest(method, target, nil)
		for i := 0; i+1 < len(header); i += 2 {
			r.Header.Set(header[i], header[i+1])
		}
		return r
	}

	cases := []struct {
		name    string
		r       *http.Request
		role    string
		subject string
		wantErr bool
	}{
		{name: "plain key", r: req(http.MethodPost, "/", "X-API-Key", "plain"), role: "engineer", subject: "key:" + httpserver.Fingerprint("plain")},
		{name: "hashed key", r: req(http.MethodPost, "/", "X-API-Key", "hashed-key"), role: "admin"},
		{name: "query key on GET", r: req(http.MethodGet, "/?api_key=plain"), role: "engineer"},
		{name: "token query on GET", r: req(http.MethodGet, "/?token=plain"), role: "engineer"},
		{name: "query key ignored on POST", r: req(http.MethodPost, "/?api_key=plain"), wantErr: true},
		{name: "unknown key", r: req(http.MethodPost, "/", "X-API-Key", "nope"), wantErr: true},
		{name: "missing", r: req(http.MethodGet, "/"), wantErr: true},
		{
			name:    "bearer user_metadata",
			r:       req(http.MethodPost, "/", "Authorization", "Bearer "+signJWT(t, jwtSecret, jwt.MapClaims{"sub": "u1", "user_metadata": map[string]any{"role": "engineer"}, "exp": time.Now().Add(time.Hour).Unix()})),
			role:    "engineer",
			subject: "jwt:u1",
		},
		{
			name: "bearer app_metadata",
			r:    req(http.MethodPost, "/", "Authorization", "Bearer "+signJWT(t, jwtSecret, jwt.MapClaims{"sub": "u2", "app_metadata": map[string]any{"role": "admin"}})),
			role: "admin",
		},
		{
			name: "jwt in api key header",
			r:    req(http.MethodPost, "/", "X-API-Key", signJWT(t, jwtSecret, jwt.MapClaims{"sub": "u3"})),
			role: "user",
		},
		{name: "bearer bad signature", r: req(http.MethodPost, "/", "Authorization", "Bearer "+signJWT(t, "wrong", jwt.MapClaims{"sub": "x"})), wantErr: true},
		{name: "bearer expired", r: req(http.MethodPost, "/", "Authorization", "Bearer "+signJWT(t, jwtSecret, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()})), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := a.Authenticate(tc.r)
			if tc.wantErr {
				require.ErrorIs(t, err, domain.ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.role, p.Role)
			if tc.subject != "" {
				assert.Equal(t, tc.subject, p.Subject)
			}
		})
	}
}

func TestAuthenticate_BearerWithoutSecret(t *testing.T) {
	a := httpserver.NewAuthenticator("k", "")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signJWT(t, "anything", jwt.MapClaims{"sub": "x"}))
	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthenticate_OpenMode(t *testing.T) {
	a := httpserver.NewAuthenticator("", "")
	require.True(t, a.Open())
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "whatever")
	p, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, p.Role)
	assert.NotContains(t, p.Subject, "whatever")

	_, err = a.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthMiddleware(t *testing.T) {
	a := httpserver.NewAuthenticator("k:admin", "")
	var got httpserver.Principal
	h := httpserver.Auth(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = httpserver.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "k")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "admin", got.Role)
}
