package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	adminSubject      = "admin"
	DefaultTokenTTL   = 12 * time.Hour
	adminContextKey   = "admin"
	bearerTokenPrefix = "Bearer"
)

// Authenticator issues and verifies HS256 admin tokens. With an empty
// secret the admin surface is left open.
type Authenticator struct {
	secret   []byte
	password string
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthenticator(secret, password string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{
		secret:   []byte(secret),
		password: password,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

func SetupRoutes(r *gin.Engine, a *Authenticator) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", loginHandler(a))
	}
}

func loginHandler(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Mật khẩu là bắt buộc"})
			return
		}
		if !a.Enabled() || a.password == "" {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Admin login is disabled"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(req.Password), []byte(a.password)) != 1 {
			log.Warn().Str("ip", c.ClientIP()).Msg("Failed admin login")
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Sai mật khẩu"})
			return
		}
		token, expiresAt, err := a.IssueToken()
		if err != nil {
			log.Error().Err(err).Msg("Failed to sign admin token")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Lỗi máy chủ nội bộ"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "expiresAt": expiresAt})
	}
}

func (a *Authenticator) IssueToken() (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Subject:   adminSubject,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	})
	signed, err := token.SignedString(a.secret)
	return signed, expiresAt, err
}

// AuthMiddleware guards the admin routes. WebSocket upgrades carry the
// token in the "token" query parameter.
func (a *Authenticator) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		var token string
		if websocket.IsWebSocketUpgrade(c.Request) {
			token = c.Query("token")
		} else {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authorization header is required"})
				return
			}
			bearerToken := strings.Split(authHeader, " ")
			if len(bearerToken) != 2 || bearerToken[0] != bearerTokenPrefix {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid authorization header"})
				return
			}
			token = bearerToken[1]
		}

		claims, err := a.verifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.Set(adminContextKey, claims.Subject)
		c.Next()
	}
}

func (a *Authenticator) verifyToken(tokenString string) (*jwt.StandardClaims, error) {
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject != adminSubject {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
