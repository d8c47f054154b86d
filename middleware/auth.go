package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/linhnguyen0702/contractledger/config"
	"github.com/linhnguyen0702/contractledger/pkg/logger"
)

// Claims represents the JWT claims
type Claims struct {
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	Role          string `json:"role"`
	WalletAddress string `json:"wallet_address,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken generates a new JWT token for a user
func GenerateToken(user *config.User, cfg *config.AuthConfig) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := Claims{
		Username:      user.Username,
		FullName:      user.FullName,
		Role:          user.Role,
		WalletAddress: user.WalletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// AuthMiddleware validates JWT token and extracts user info
func AuthMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := parts[1]

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		// Store user info in context
		c.Set("username", claims.Username)
		c.Set("full_name", claims.FullName)
		c.Set("role", claims.Role)
		c.Set("wallet_address", claims.WalletAddress)

		// Propagate the actor into the request context so downstream
		// service logs carry username and role
		ctx := context.WithValue(c.Request.Context(), logger.UsernameKey, claims.Username)
		ctx = context.WithValue(ctx, logger.RoleKey, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireManager rejects requests from users without manager or admin role.
func RequireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role != "manager" && role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Manager role required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUsername gets the username from context
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get("username"); exists {
		return username.(string)
	}
	return ""
}

// GetFullName gets the user's display name from context
func GetFullName(c *gin.Context) string {
	if name, exists := c.Get("full_name"); exists {
		return name.(string)
	}
	return ""
}

// GetRole gets the user role from context
func GetRole(c *gin.Context) string {
	if role, exists := c.Get("role"); exists {
		return role.(string)
	}
	return ""
}

// GetWalletAddress gets the user's wallet address from context
func GetWalletAddress(c *gin.Context) string {
	if addr, exists := c.Get("wallet_address"); exists {
		return addr.(string)
	}
	return ""
}
