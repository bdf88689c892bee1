package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey    = "user_id"
	userIDHeader = "X-User-ID"
	issuer       = "tsuswap"
)

// Authenticator resolves the caller's user id. With a secret it accepts
// HS256 bearer tokens whose subject is the user id. Without one it trusts
// the X-User-ID header set by the fronting proxy.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an Authenticator for secret, which may be empty.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Required rejects requests without a caller identity.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.identify(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "unauthenticated"})
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

func (a *Authenticator) identify(r *http.Request) (string, error) {
	if len(a.secret) == 0 {
		id := strings.TrimSpace(r.Header.Get(userIDHeader))
		if id == "" {
			return "", errors.New("missing " + userIDHeader + " header")
		}
		return id, nil
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing token")
	}
	parts := strings.Fields(auth)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid token format")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(parts[1], &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.New("invalid or expired token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs a token for userID valid for ttl from now.
func (a *Authenticator) IssueToken(userID string, now time.Time, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
