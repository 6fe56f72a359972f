package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/gamewatch/internal/config"
)

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	h, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	a, err := New(config.AuthConfig{Enabled: true, Username: "admin", PasswordHash: h})
	require.NoError(t, err)
	return a
}

func TestNew(t *testing.T) {
	a, err := New(config.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = New(config.AuthConfig{Enabled: true, PasswordHash: "x"})
	assert.ErrorContains(t, err, "username")

	_, err = New(config.AuthConfig{Enabled: true, Username: "admin", PasswordHash: "plain"})
	assert.ErrorContains(t, err, "bcrypt")

	_, err = HashPassword("", 0)
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	a := newAuth(t)
	assert.NoError(t, a.Check("admin", "s3cret"))
	assert.ErrorIs(t, a.Check("admin", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, a.Check("root", "s3cret"), ErrInvalidCredentials)
}

func TestGinAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newAuth(t)

	g := gin.New()
	g.GET("/x", a.GinAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserKey))
	})

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, realm, rec.Header().Get("WWW-Authenticate"))
	assert.Contains(t, rec.Body.String(), "Authentication required")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.SetBasicAuth("admin", "nope")
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid credentials")

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Body.String())
}

func TestNilAuthenticatorPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var a *Authenticator
	g := gin.New()
	g.GET("/x", a.GinAuth(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
