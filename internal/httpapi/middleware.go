package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/superset_xblock/pkg/embed"
)

const (
	csrfTokenByteLength    = 32
	csrfCookieMaxAge       = 365 * 24 * 60 * 60
	csrfErrorForbidden     = "csrf_token_invalid"
	logEventCSRFRejected   = "csrf_rejected"
	logEventCSRFGeneration = "csrf_generation_failed"
)

func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		logger.Info("http",
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		)
	}
}

// CSRFProtection issues the csrftoken cookie and requires unsafe requests to echo
// it in the X-CSRFToken header.
func CSRFProtection(logger *zap.Logger, secureCookie bool) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(context *gin.Context) {
		cookieToken, cookieErr := context.Cookie(embed.CSRFCookieName)
		if cookieErr != nil || cookieToken == "" {
			generatedToken, generateErr := newCSRFToken()
			if generateErr != nil {
				logger.Error(logEventCSRFGeneration, zap.Error(generateErr))
				context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: csrfErrorForbidden})
				return
			}
			cookieToken = ""
			context.SetSameSite(http.SameSiteLaxMode)
			context.SetCookie(embed.CSRFCookieName, generatedToken, csrfCookieMaxAge, "/", "", secureCookie, false)
		}

		if isSafeMethod(context.Request.Method) {
			context.Next()
			return
		}

		headerToken := context.GetHeader(embed.CSRFHeaderName)
		if cookieToken == "" || headerToken == "" || subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
			logger.Warn(logEventCSRFRejected,
				zap.String("method", context.Request.Method),
				zap.String("path", context.Request.URL.Path),
				zap.Bool("cookie_present", cookieToken != ""),
				zap.Bool("header_present", headerToken != ""),
			)
			context.AbortWithStatusJSON(http.StatusForbidden, gin.H{jsonKeyError: csrfErrorForbidden})
			return
		}
		context.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

func newCSRFToken() (string, error) {
	buffer := make([]byte, csrfTokenByteLength)
	if _, readErr := rand.Read(buffer); readErr != nil {
		return "", readErr
	}
	return hex.EncodeToString(buffer), nil
}
