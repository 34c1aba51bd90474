package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthedRouter(rl *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(Authenticate(testSecret))
	if rl != nil {
		r.Use(rl.RateLimit())
	}
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, GetViewer(c))
	})
	return r
}

func get(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("viewer-42", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "viewer-42", claims.UserID)
	assert.Equal(t, "viewer-42", claims.Subject)
}

func TestParseTokenRejects(t *testing.T) {
	// GenerateToken never issues expired tokens, so sign one directly.
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "v",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	good, err := GenerateToken("v", testSecret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"expired", expired, testSecret},
		{"wrong secret", good, "other-secret"},
		{"missing user id", noUser, testSecret},
		{"garbage", "not.a.token", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			assert.Error(t, err)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	r := newAuthedRouter(nil)
	token, err := GenerateToken("alice", testSecret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.header)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestRateLimitPerViewer(t *testing.T) {
	rl := NewRateLimiter(2)
	defer rl.Stop()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	r := newAuthedRouter(rl)

	alice, err := GenerateToken("alice", testSecret, time.Hour)
	require.NoError(t, err)
	bob, err := GenerateToken("bob", testSecret, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(r, "Bearer "+alice).Code)
	w := get(r, "Bearer "+alice)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = get(r, "Bearer "+alice)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

	assert.Equal(t, http.StatusOK, get(r, "Bearer "+bob).Code, "buckets are per viewer")

	// Half an hour refills one token at 2 per hour.
	now = now.Add(30 * time.Minute)
	assert.Equal(t, http.StatusOK, get(r, "Bearer "+alice).Code)
}

func TestRateLimitDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	defer rl.Stop()
	r := newAuthedRouter(rl)
	token, err := GenerateToken("alice", testSecret, time.Hour)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(r, "Bearer "+token).Code)
	}
}
