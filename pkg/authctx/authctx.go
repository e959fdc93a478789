// Package authctx decodes the bearer JWT that every request carries and
// injects the authenticated caller's claims into the gin context. It does
// not issue tokens or store credentials; that lives outside this engine.
package authctx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the authenticated caller: the driver (or dispatcher)
// username, their role, and the tenant they belong to.
type Claims struct {
	Subject   string `json:"sub"`
	Role      string `json:"role"`
	CompanyID string `json:"company_id"`
}

type claimsKey struct{}

var (
	// ErrMissingToken is returned when no Authorization header is present.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned when the token fails signature or claim validation.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Verifier validates bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier for the given HMAC signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse validates the raw bearer token and returns its claims.
func (v *Verifier) Parse(raw string) (*Claims, error) {
	claims := &registeredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.CompanyID == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{
		Subject:   claims.Subject,
		Role:      claims.Role,
		CompanyID: claims.CompanyID,
	}, nil
}

type registeredClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	CompanyID string `json:"company_id"`
}

// Middleware extracts and validates the bearer token on every request,
// storing the resulting Claims in both the gin context and the request
// context so downstream service-layer code can read them with FromContext.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": ErrMissingToken.Error(),
			})
			return
		}

		claims, err := v.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": err.Error(),
			})
			return
		}

		c.Set("auth.subject", claims.Subject)
		c.Set("auth.role", claims.Role)
		c.Set("auth.company_id", claims.CompanyID)
		c.Request = c.Request.WithContext(withClaims(c.Request.Context(), claims))
		c.Next()
	}
}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext retrieves the authenticated caller's claims, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}
