package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/httpapi"
	"github.com/MarkoPoloResearchLab/superset_xblock/pkg/embed"
)

const (
	corsHeaderContentType = "Content-Type"
	corsHeaderAccept      = "Accept"
	corsMaxAge            = 12 * time.Hour
)

var (
	corsAllowedMethods = []string{"GET", "POST", "OPTIONS"}
	corsAllowedHeaders = []string{corsHeaderContentType, corsHeaderAccept, embed.CSRFHeaderName}
	corsExposedHeaders = []string{corsHeaderContentType}
)

func registerFrontendRoutes(
	router *gin.Engine,
	authManager *httpapi.AuthManager,
	xblockHandlers *httpapi.XBlockHandlers,
	instructorHandlers *httpapi.InstructorHandlers,
	publicJavaScriptHandlers *httpapi.PublicJavaScriptHandlers,
) {
	router.GET(httpapi.EmbedDashboardScriptPath, publicJavaScriptHandlers.EmbedDashboardJS)
	router.GET(httpapi.XBlockScriptPath, publicJavaScriptHandlers.XBlockJS)
	router.GET(httpapi.XBlockEditScriptPath, publicJavaScriptHandlers.XBlockEditJS)
	router.GET(httpapi.StylesheetPath, publicJavaScriptHandlers.StylesheetCSS)

	router.GET(httpapi.XBlockStudentViewRoute, xblockHandlers.StudentView)
	router.GET(httpapi.XBlockStudioViewRoute, authManager.RequireCourseStaffJSON(), xblockHandlers.StudioView)
	router.GET(httpapi.InstructorDashboardsRoute, authManager.RequireCourseStaffJSON(), instructorHandlers.RenderDashboards)
}

func registerBackendRoutes(
	router *gin.Engine,
	authManager *httpapi.AuthManager,
	xblockHandlers *httpapi.XBlockHandlers,
	instructorHandlers *httpapi.InstructorHandlers,
	allowedOrigins []string,
) {
	backendGroup := router.Group("/")
	if len(allowedOrigins) > 0 {
		credentialedCORS := cors.New(cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     corsAllowedMethods,
			AllowHeaders:     corsAllowedHeaders,
			ExposeHeaders:    corsExposedHeaders,
			AllowCredentials: true,
			MaxAge:           corsMaxAge,
		})
		router.OPTIONS(httpapi.XBlockHandlerRoute, credentialedCORS)
		router.OPTIONS(httpapi.InstructorGuestTokenRoute, credentialedCORS)
		backendGroup.Use(credentialedCORS)
	}
	backendGroup.Use(authManager.RequireCourseStaffJSON())

	backendGroup.POST(httpapi.XBlockHandlerRoute, xblockHandlers.Handle)
	backendGroup.GET(httpapi.InstructorGuestTokenRoute, instructorHandlers.GuestToken)
}
