package httpapi

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/dashboard"
	"github.com/MarkoPoloResearchLab/superset_xblock/internal/model"
	"github.com/MarkoPoloResearchLab/superset_xblock/internal/storage"
	"github.com/MarkoPoloResearchLab/superset_xblock/pkg/embed"
)

const (
	// HandlerStudioSubmit saves the edit form.
	HandlerStudioSubmit = "studio_submit"
	// HandlerGuestToken returns a guest token for the block dashboard.
	HandlerGuestToken = "get_superset_guest_token"

	xblockTemplateName        = "xblock"
	xblockStudentTemplateName = "xblock_student"
	xblockStudioTemplateName  = "xblock_studio"

	errorCodeInvalidBlockID          = "invalid_block_id"
	errorCodeUnknownHandler          = "unknown_handler"
	errorCodeInvalidJSON             = "invalid_json"
	errorCodeDashboardNotConfigured  = "dashboard_not_configured"
	errorCodeBlockCourseMismatch     = "block_course_mismatch"
	errorCodeBlockLoadFailed         = "block_load_failed"
	errorCodeBlockSaveFailed         = "block_save_failed"
	logEventLoadBlock                = "load_block"
	logEventSaveBlock                = "save_block"
	logEventBlockSaved               = "block_saved"
	jsonKeyResult                    = "result"
	studioSubmitResultSuccess        = "success"
	maximumStudioSubmitBodySizeBytes = 16 * 1024
)

type xblockTemplateData struct {
	DisplayName      string
	XBlockID         string
	MountPointID     string
	HandlerPrefix    string
	SDKURL           string
	StylesheetPath   string
	EmbedScriptPath  string
	XBlockScriptPath string
	HasDashboard     bool
	Config           embed.Config
}

type xblockStudioTemplateData struct {
	DisplayName     string
	DashboardUUID   string
	Filters         string
	XBlockID        string
	HandlerPrefix   string
	EmbedScriptPath string
	EditScriptPath  string
}

type studioSubmitRequest struct {
	DisplayName   string `json:"display_name"`
	DashboardUUID string `json:"dashboard_uuid"`
	Filters       string `json:"filters"`
}

// XBlockHandlers renders the block views and serves its handlers.
type XBlockHandlers struct {
	database        *gorm.DB
	logger          *zap.Logger
	authManager     *AuthManager
	issuer          GuestTokenIssuer
	settings        EmbedSettings
	studentTemplate *template.Template
	staffTemplate   *template.Template
	studioTemplate  *template.Template
}

func NewXBlockHandlers(database *gorm.DB, logger *zap.Logger, authManager *AuthManager, issuer GuestTokenIssuer, settings EmbedSettings) *XBlockHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XBlockHandlers{
		database:        database,
		logger:          logger,
		authManager:     authManager,
		issuer:          issuer,
		settings:        settings,
		studentTemplate: template.Must(template.New(xblockStudentTemplateName).Parse(xblockStudentTemplateHTML)),
		staffTemplate:   template.Must(template.New(xblockTemplateName).Parse(xblockTemplateHTML)),
		studioTemplate:  template.Must(template.New(xblockStudioTemplateName).Parse(xblockStudioTemplateHTML)),
	}
}

// StudentView renders the block. Learners and anonymous visitors get a placeholder
// without any embedding configuration.
func (handlers *XBlockHandlers) StudentView(context *gin.Context) {
	block, _, ok := handlers.loadBlock(context)
	if !ok {
		return
	}

	currentUser, authenticated := handlers.authManager.CurrentUser(context)
	if !authenticated || !currentUser.CanViewDashboards() {
		renderHTML(context, handlers.logger, handlers.studentTemplate, xblockTemplateData{
			DisplayName: block.DisplayName,
			XBlockID:    block.ID,
		})
		return
	}

	descriptors := make([]embed.DashboardDescriptor, 0, 1)
	for _, blockDashboard := range block.Dashboards() {
		descriptors = append(descriptors, embed.DashboardDescriptor{UUID: blockDashboard.UUID, Name: blockDashboard.Name})
	}
	mountPointID := embed.MountPointID(embed.DefaultMountPointPrefix, block.ID, block.DashboardUUID)

	renderHTML(context, handlers.logger, handlers.staffTemplate, xblockTemplateData{
		DisplayName:      block.DisplayName,
		XBlockID:         block.ID,
		MountPointID:     mountPointID,
		HandlerPrefix:    blockHandlerPrefix(block),
		SDKURL:           handlers.settings.sdkURL(),
		StylesheetPath:   StylesheetPath,
		EmbedScriptPath:  EmbedDashboardScriptPath,
		XBlockScriptPath: XBlockScriptPath,
		HasDashboard:     len(descriptors) > 0,
		Config: embed.Config{
			Dashboards:  descriptors,
			SupersetURL: handlers.settings.SupersetURL,
			FromXBlock:  true,
			XBlockID:    block.ID,
		},
	})
}

// StudioView renders the edit form.
func (handlers *XBlockHandlers) StudioView(context *gin.Context) {
	block, _, ok := handlers.loadBlock(context)
	if !ok {
		return
	}
	renderHTML(context, handlers.logger, handlers.studioTemplate, xblockStudioTemplateData{
		DisplayName:     block.DisplayName,
		DashboardUUID:   block.DashboardUUID,
		Filters:         block.Filters,
		XBlockID:        block.ID,
		HandlerPrefix:   blockHandlerPrefix(block),
		EmbedScriptPath: EmbedDashboardScriptPath,
		EditScriptPath:  XBlockEditScriptPath,
	})
}

// Handle dispatches XBlock handler calls by name.
func (handlers *XBlockHandlers) Handle(context *gin.Context) {
	switch context.Param("handler") {
	case HandlerStudioSubmit:
		handlers.studioSubmit(context)
	case HandlerGuestToken:
		handlers.guestToken(context)
	default:
		context.AbortWithStatusJSON(http.StatusNotFound, gin.H{jsonKeyError: errorCodeUnknownHandler})
	}
}

func (handlers *XBlockHandlers) studioSubmit(context *gin.Context) {
	block, _, ok := handlers.loadBlock(context)
	if !ok {
		return
	}

	context.Request.Body = http.MaxBytesReader(context.Writer, context.Request.Body, maximumStudioSubmitBodySizeBytes)
	var request studioSubmitRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.AbortWithStatusJSON(http.StatusBadRequest, gin.H{jsonKeyError: errorCodeInvalidJSON})
		return
	}

	if applyErr := block.Apply(model.BlockSettings{
		DisplayName:   request.DisplayName,
		DashboardUUID: request.DashboardUUID,
		Filters:       request.Filters,
	}); applyErr != nil {
		context.AbortWithStatusJSON(http.StatusBadRequest, gin.H{jsonKeyError: applyErr.Error()})
		return
	}

	if saveErr := storage.SaveBlock(handlers.database.WithContext(context.Request.Context()), &block); saveErr != nil {
		handlers.logger.Error(logEventSaveBlock, zap.String("block_id", block.ID), zap.Error(saveErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorCodeBlockSaveFailed})
		return
	}

	handlers.logger.Info(logEventBlockSaved,
		zap.String("block_id", block.ID),
		zap.String("course_id", block.CourseID),
		zap.String("dashboard_uuid", block.DashboardUUID),
	)
	context.JSON(http.StatusOK, gin.H{jsonKeyResult: studioSubmitResultSuccess})
}

func (handlers *XBlockHandlers) guestToken(context *gin.Context) {
	block, courseKey, ok := handlers.loadBlock(context)
	if !ok {
		return
	}
	currentUser, authenticated := handlers.authManager.CurrentUser(context)
	if !authenticated {
		context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}

	blockDashboards := block.Dashboards()
	if len(blockDashboards) == 0 {
		context.AbortWithStatusJSON(http.StatusNotFound, gin.H{jsonKeyError: errorCodeDashboardNotConfigured})
		return
	}
	dashboards := make([]dashboard.Dashboard, 0, len(blockDashboards))
	for _, blockDashboard := range blockDashboards {
		dashboards = append(dashboards, dashboard.Dashboard{Name: blockDashboard.Name, UUID: blockDashboard.UUID})
	}

	filterFormats := append(append([]string{}, dashboard.DefaultFilterFormats...), block.FilterList()...)
	respondGuestToken(context, handlers.logger, handlers.issuer, dashboard.GuestTokenParams{
		Username:      currentUser.Username,
		Course:        courseKey,
		Dashboards:    dashboards,
		FilterFormats: filterFormats,
	})
}

func (handlers *XBlockHandlers) loadBlock(context *gin.Context) (model.Block, dashboard.CourseKey, bool) {
	courseKey, ok := parseCourseParam(context)
	if !ok {
		return model.Block{}, dashboard.CourseKey{}, false
	}

	block, loadErr := storage.LoadOrCreateBlock(handlers.database.WithContext(context.Request.Context()), context.Param("block_id"), courseKey.String())
	switch {
	case loadErr == nil:
		return block, courseKey, true
	case errors.Is(loadErr, model.ErrInvalidBlockID):
		context.AbortWithStatusJSON(http.StatusNotFound, gin.H{jsonKeyError: errorCodeInvalidBlockID})
	case errors.Is(loadErr, storage.ErrBlockCourseMismatch):
		context.AbortWithStatusJSON(http.StatusNotFound, gin.H{jsonKeyError: errorCodeBlockCourseMismatch})
	default:
		handlers.logger.Error(logEventLoadBlock, zap.String("block_id", context.Param("block_id")), zap.Error(loadErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorCodeBlockLoadFailed})
	}
	return model.Block{}, dashboard.CourseKey{}, false
}

func blockHandlerPrefix(block model.Block) string {
	return "/courses/" + url.PathEscape(block.CourseID) + "/xblock/" + url.PathEscape(block.ID) + "/handler/"
}
