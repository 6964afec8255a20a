// Package auth verifies bearer tokens issued by the external identity
// provider. The service never issues tokens itself; it only checks the
// signature and extracts the caller identity.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/redfoxsec/audit-core/pkg/types"
)

// identityKey is the gin context key the middleware stores the caller under.
const identityKey = "identity"

// ErrInvalidToken is returned when a bearer token fails verification.
var ErrInvalidToken = errors.New("invalid bearer token")

// Verifier validates HS256 bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret cannot be empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Parse verifies the token and extracts the caller identity from the
// sub and email claims.
func (v *Verifier) Parse(tokenString string) (types.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return types.Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)     //nolint:errcheck
	email, _ := claims["email"].(string) //nolint:errcheck
	if sub == "" {
		return types.Identity{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return types.Identity{UserID: sub, Email: email}, nil
}

// Middleware authenticates requests with an Authorization bearer header.
// Absence of a session means no operations are permitted.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		ident, err := v.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// IdentityFrom returns the authenticated caller stored by the middleware.
func IdentityFrom(c *gin.Context) (types.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return types.Identity{}, false
	}
	ident, ok := value.(types.Identity)
	return ident, ok
}
