package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/planerr"
)

const (
	ctxRequestID = "request_id"
	ctxUserID    = "user_id"
)

// RequestIDMiddleware ensures every request has a correlation/request ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(ctxRequestID, reqID)
		c.Writer.Header().Set("X-Request-ID", reqID)
		c.Next()
	}
}

// RequestLogger logs one line per request once the handler has finished.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"request_id", c.GetString(ctxRequestID),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// AuthMiddleware verifies HS256 session tokens. The token subject is the user id.
type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(secret string, log *logger.Logger) *AuthMiddleware {
	mw := &AuthMiddleware{log: log.With("middleware", "auth"), secret: []byte(secret)}
	if secret == "" {
		mw.log.Warn("SESSION_SECRET is empty, every authenticated request will be rejected")
	}
	return mw
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := am.authenticate(c.GetHeader("Authorization"))
		if err != nil {
			am.log.Debug("rejected session", "request_id", c.GetString(ctxRequestID), "error", err)
			abortWithError(c, planerr.New(planerr.KindUnauthenticated, "unauthenticated"))
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func (am *AuthMiddleware) authenticate(header string) (string, error) {
	if len(am.secret) == 0 {
		return "", errors.New("no session secret configured")
	}
	if len(header) <= 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", errors.New("missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(header[7:]), claims,
		func(*jwt.Token) (any, error) { return am.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs a session token for userID valid for ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
