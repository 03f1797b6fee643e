package webserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stake-plus/nexvote/src/types"
)

const identityKey = "identity"

// Claims is the token payload issued by the auth service.
type Claims struct {
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	RegionCode string `json:"regionCode"`
	jwt.RegisteredClaims
}

func JWTMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid authorization header."})
			return
		}
		var claims Claims
		tok, err := jwt.ParseWithClaims(h[7:], &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !tok.Valid || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token."})
			return
		}
		c.Set(identityKey, types.Identity{
			UserID:     claims.UserID,
			Email:      claims.Email,
			Role:       claims.Role,
			RegionCode: claims.RegionCode,
		})
		c.Next()
	}
}

// RequireAdmin must run after JWTMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identity(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions."})
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) types.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(types.Identity)
	return id
}

// IssueJWT signs a token for id; used by the CLI and tests.
func IssueJWT(id types.Identity, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:     id.UserID,
		Email:      id.Email,
		Role:       id.Role,
		RegionCode: id.RegionCode,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(secret)
}
