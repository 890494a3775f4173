// Package middleware 提供HTTP中间件
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/authz"
)

const actorKey = "actor"

// ErrTokenInvalid 操作者令牌无效或已过期
var ErrTokenInvalid = errors.New("invalid access token")

// AuthConfig 操作者认证配置
type AuthConfig struct {
	Enabled bool
	Secret  string
}

// ActorClaims 操作者 JWT 声明，sub 为用户 ID
type ActorClaims struct {
	jwt.RegisteredClaims
	Staff bool `json:"staff"`
}

// SignActorToken 签发 HS256 操作者令牌
func SignActorToken(secret, userID string, staff bool, ttl time.Duration, now time.Time) (string, error) {
	if userID == "" {
		return "", errors.New("user id required")
	}
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Staff: staff,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseActorToken 校验签名与有效期并返回操作者
func ParseActorToken(tokenString, secret string) (authz.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActorClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return authz.Actor{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return authz.Actor{}, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return authz.Actor{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return authz.Actor{UserID: claims.Subject, Staff: claims.Staff}, nil
}

// ActorAuth 解析 Authorization: Bearer <jwt>。
// 未携带令牌视为匿名，由具体操作决定是否需要登录；令牌无效直接 401。
// 认证关闭时所有请求视为管理员 dev（仅用于开发环境）。
func ActorAuth(cfg AuthConfig, logger *zap.Logger) gin.HandlerFunc {
	if !cfg.Enabled {
		logger.Warn("actor authentication disabled - every request runs as staff user dev")
		return func(c *gin.Context) {
			c.Set(actorKey, authz.Actor{UserID: "dev", Staff: true})
			c.Next()
		}
	}

	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.Next()
			return
		}

		actor, err := ParseActorToken(strings.TrimPrefix(auth, "Bearer "), cfg.Secret)
		if err != nil {
			logger.Warn("actor auth: invalid token",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.String("remote_addr", c.ClientIP()),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid or expired access token",
			})
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom 取出当前请求的操作者，匿名时为零值
func ActorFrom(c *gin.Context) authz.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(authz.Actor); ok {
			return a
		}
	}
	return authz.Actor{}
}
