package httpapi

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/dashboard"
)

const (
	jsonKeyError      = "error"
	jsonKeyGuestToken = "guestToken"
	htmlContentType   = "text/html; charset=utf-8"

	errorCodeInvalidCourseID       = "invalid_course_id"
	errorCodeGuestTokenUnavailable = "guest_token_unavailable"
	errorCodeRenderFailed          = "render_failed"

	// DefaultEmbeddedSDKURL is the published Superset embedded SDK bundle.
	DefaultEmbeddedSDKURL = "https://cdn.jsdelivr.net/npm/@superset-ui/embedded-sdk@0.1.0-alpha.10/bundle/index.min.js"
)

// GuestTokenIssuer mints course scoped guest tokens; implemented by *dashboard.TokenService.
type GuestTokenIssuer interface {
	IssueGuestToken(ctx context.Context, params dashboard.GuestTokenParams) (string, error)
}

// EmbedSettings describes the Superset deployment the pages embed from.
type EmbedSettings struct {
	SupersetURL string
	SDKURL      string
}

func (settings EmbedSettings) sdkURL() string {
	if strings.TrimSpace(settings.SDKURL) == "" {
		return DefaultEmbeddedSDKURL
	}
	return settings.SDKURL
}

func parseCourseParam(context *gin.Context) (dashboard.CourseKey, bool) {
	courseKey, parseErr := dashboard.ParseCourseKey(context.Param("course_id"))
	if parseErr != nil {
		context.AbortWithStatusJSON(http.StatusNotFound, gin.H{jsonKeyError: errorCodeInvalidCourseID})
		return dashboard.CourseKey{}, false
	}
	return courseKey, true
}

func renderHTML(context *gin.Context, logger *zap.Logger, compiledTemplate *template.Template, data any) {
	var buffer bytes.Buffer
	if executeErr := compiledTemplate.Execute(&buffer, data); executeErr != nil {
		logger.Error("render_template", zap.String("template", compiledTemplate.Name()), zap.Error(executeErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorCodeRenderFailed})
		return
	}
	context.Data(http.StatusOK, htmlContentType, buffer.Bytes())
}

func respondGuestToken(context *gin.Context, logger *zap.Logger, issuer GuestTokenIssuer, params dashboard.GuestTokenParams) {
	token, issueErr := issuer.IssueGuestToken(context.Request.Context(), params)
	if issueErr != nil {
		logger.Error("issue_guest_token",
			zap.String("course_id", params.Course.String()),
			zap.String("username", params.Username),
			zap.Error(issueErr),
		)
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorCodeGuestTokenUnavailable})
		return
	}
	context.JSON(http.StatusOK, gin.H{jsonKeyGuestToken: token})
}
