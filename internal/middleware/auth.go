package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"marketplace-messaging/internal/models"
)

const (
	ViewerKey = "viewer"
	UserIDKey = "userID"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the bearer token payload. The subject is the user id.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 tokens signed with the shared secret.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses token and returns the caller it identifies.
func (v *TokenVerifier) Verify(token string) (models.Viewer, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return models.Viewer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return models.Viewer{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	role := claims.Role
	if role != models.RoleAdmin {
		role = models.RoleApplicant
	}
	return models.Viewer{ID: claims.Subject, Role: role}, nil
}

// Issue signs a token for viewer. Used by the debug routes and tests.
func (v *TokenVerifier) Issue(viewer models.Viewer, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: viewer.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   viewer.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}

// AuthMiddleware identifies the caller from the Authorization header. Browsers
// cannot set headers on a websocket handshake, so a token query parameter is
// accepted as well.
func AuthMiddleware(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		viewer, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ViewerKey, viewer)
		c.Set(UserIDKey, viewer.ID)
		c.Next()
	}
}

// ViewerFromContext returns the caller stored by AuthMiddleware.
func ViewerFromContext(c *gin.Context) (models.Viewer, bool) {
	val, ok := c.Get(ViewerKey)
	if !ok {
		return models.Viewer{}, false
	}
	viewer, ok := val.(models.Viewer)
	return viewer, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		token := c.Query("token")
		return token, token != ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
