// Package auth protects the dashboard API with HTTP Basic credentials checked
// against a bcrypt hash from the configuration.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/gamewatch/internal/config"
)

// UserKey is the gin context key holding the authenticated user name.
const UserKey = "auth_user"

const realm = `Basic realm="gamewatch"`

var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator checks one configured operator account.
type Authenticator struct {
	username string
	hash     []byte
}

// New returns nil when auth is disabled; a nil Authenticator lets every
// request through.
func New(c config.AuthConfig) (*Authenticator, error) {
	if !c.Enabled {
		return nil, nil
	}
	if c.Username == "" {
		return nil, errors.New("auth username is required")
	}
	if _, err := bcrypt.Cost([]byte(c.PasswordHash)); err != nil {
		return nil, fmt.Errorf("auth password_hash is not a bcrypt hash: %w", err)
	}
	return &Authenticator{username: c.Username, hash: []byte(c.PasswordHash)}, nil
}

// HashPassword produces a value for password_hash.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Check verifies a username and password pair.
func (a *Authenticator) Check(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	// Always run bcrypt so unknown users cost the same as wrong passwords.
	pwErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !userOK || pwErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// GinAuth rejects requests without valid Basic credentials.
func (a *Authenticator) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.Next()
			return
		}
		user, pass, ok := c.Request.BasicAuth()
		if !ok {
			unauthorized(c, "Authentication required")
			return
		}
		if err := a.Check(user, pass); err != nil {
			unauthorized(c, "Invalid credentials")
			return
		}
		c.Set(UserKey, user)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", realm)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "authentication_failed",
		"message": msg,
	})
}
