package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// EmbedDashboardScriptPath serves the shared embedding script.
	EmbedDashboardScriptPath = "/static/js/embed_dashboard.js"
	// XBlockScriptPath serves the student view initializer.
	XBlockScriptPath = "/static/js/superset.js"
	// XBlockEditScriptPath serves the studio view initializer.
	XBlockEditScriptPath = "/static/js/superset_edit.js"
	// StylesheetPath serves the block and instructor page styles.
	StylesheetPath = "/static/css/superset.css"

	javaScriptContentType = "application/javascript; charset=utf-8"
	stylesheetContentType = "text/css; charset=utf-8"
)

type PublicJavaScriptHandlers struct{}

func NewPublicJavaScriptHandlers() *PublicJavaScriptHandlers {
	return &PublicJavaScriptHandlers{}
}

func (handlers *PublicJavaScriptHandlers) EmbedDashboardJS(context *gin.Context) {
	context.Data(http.StatusOK, javaScriptContentType, embedDashboardJavaScriptSource)
}

func (handlers *PublicJavaScriptHandlers) XBlockJS(context *gin.Context) {
	context.Data(http.StatusOK, javaScriptContentType, xblockJavaScriptSource)
}

func (handlers *PublicJavaScriptHandlers) XBlockEditJS(context *gin.Context) {
	context.Data(http.StatusOK, javaScriptContentType, xblockEditJavaScriptSource)
}

func (handlers *PublicJavaScriptHandlers) StylesheetCSS(context *gin.Context) {
	context.Data(http.StatusOK, stylesheetContentType, xblockStylesheetSource)
}
