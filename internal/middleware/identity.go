package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
)

// Identity extracts the caller identity from a bearer token when one is
// present. Requests without a token proceed anonymously; the analyzers
// treat an empty user as part of the request fingerprint.
func Identity(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		claims, err := parseToken(tokenString, jwtSecret)
		if err != nil {
			// Forged tokens stay anonymous rather than being rejected
			// here; the threat analyzers see the raw request either way.
			c.Next()
			return
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Set("user_id", sub)
		}
		if role, ok := claims["role"].(string); ok {
			c.Set("user_role", role)
		}
		c.Next()
	}
}

// RequireAuth guards the admin surface. It rejects requests without a
// valid bearer token.
func RequireAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			appErr := errors.NewUnauthorizedError("missing authorization header")
			c.JSON(http.StatusUnauthorized, appErr.ToResponse())
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		claims, err := parseToken(tokenString, jwtSecret)
		if err != nil {
			appErr := errors.NewUnauthorizedError("invalid token").WithDetails(err.Error())
			c.JSON(http.StatusUnauthorized, appErr.ToResponse())
			c.Abort()
			return
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Set("user_id", sub)
		}
		if role, ok := claims["role"].(string); ok {
			c.Set("user_role", role)
		}
		c.Next()
	}
}

func parseToken(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
