package httpapi

import (
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/dashboard"
	"github.com/MarkoPoloResearchLab/superset_xblock/pkg/embed"
)

const (
	instructorTemplateName  = "instructor_dashboards"
	instructorLanguageParam = "lang"
	// InstructorGuestTokenPathPrefix prefixes the course guest token endpoint.
	InstructorGuestTokenPathPrefix = "/superset_guest_token/"
	logEventLocalizeDashboards     = "localize_dashboards"
)

type instructorTab struct {
	Index        int
	ControlID    string
	Name         string
	MountPointID string
	Checked      bool
}

type instructorTemplateData struct {
	CourseID        string
	Language        string
	Tabs            []instructorTab
	Dashboards      []embed.DashboardDescriptor
	SupersetURL     string
	GuestTokenURL   string
	SDKURL          string
	StylesheetPath  string
	EmbedScriptPath string
}

// InstructorHandlers serve the course level dashboards shown to instructors.
type InstructorHandlers struct {
	logger   *zap.Logger
	catalog  dashboard.Catalog
	issuer   GuestTokenIssuer
	settings EmbedSettings
	template *template.Template
}

func NewInstructorHandlers(logger *zap.Logger, catalog dashboard.Catalog, issuer GuestTokenIssuer, settings EmbedSettings) *InstructorHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstructorHandlers{
		logger:   logger,
		catalog:  catalog,
		issuer:   issuer,
		settings: settings,
		template: template.Must(template.New(instructorTemplateName).Parse(instructorDashboardsTemplateHTML)),
	}
}

// RenderDashboards renders one tab per instructor dashboard. The first tab embeds on
// load; the remaining ones embed the first time their tab is selected.
func (handlers *InstructorHandlers) RenderDashboards(context *gin.Context) {
	courseKey, ok := parseCourseParam(context)
	if !ok {
		return
	}

	language := handlers.supportedLanguage(context.Query(instructorLanguageParam))
	dashboards, localizeErr := dashboard.Localize(handlers.catalog.InstructorDashboards, language)
	if localizeErr != nil {
		handlers.logger.Warn(logEventLocalizeDashboards, zap.String("language", language), zap.Error(localizeErr))
		dashboards = handlers.catalog.InstructorDashboards
		language = ""
	}

	descriptors := make([]embed.DashboardDescriptor, 0, len(dashboards))
	tabs := make([]instructorTab, 0, len(dashboards))
	for index, entry := range dashboards {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = tabLabel(index)
		}
		descriptors = append(descriptors, embed.DashboardDescriptor{UUID: entry.UUID, Name: name})
		tabs = append(tabs, instructorTab{
			Index:        index + 1,
			ControlID:    embed.TabControlID(embed.DefaultTabControlPrefix, index),
			Name:         name,
			MountPointID: embed.MountPointID(embed.DefaultMountPointPrefix, "", entry.UUID),
			Checked:      index == 0,
		})
	}

	pageLanguage := language
	if pageLanguage == "" {
		pageLanguage = dashboard.DefaultLocale
	}

	renderHTML(context, handlers.logger, handlers.template, instructorTemplateData{
		CourseID:        courseKey.String(),
		Language:        pageLanguage,
		Tabs:            tabs,
		Dashboards:      descriptors,
		SupersetURL:     handlers.settings.SupersetURL,
		GuestTokenURL:   InstructorGuestTokenURL(courseKey),
		SDKURL:          handlers.settings.sdkURL(),
		StylesheetPath:  StylesheetPath,
		EmbedScriptPath: EmbedDashboardScriptPath,
	})
}

// GuestToken returns a guest token granting the instructor dashboards of a course.
func (handlers *InstructorHandlers) GuestToken(context *gin.Context) {
	courseKey, ok := parseCourseParam(context)
	if !ok {
		return
	}
	currentUser, authenticated := CurrentUserFromContext(context)
	if !authenticated {
		context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}

	filterFormats := append(append([]string{}, dashboard.DefaultFilterFormats...), handlers.catalog.ExtraFilters...)
	respondGuestToken(context, handlers.logger, handlers.issuer, dashboard.GuestTokenParams{
		Username:      currentUser.Username,
		Course:        courseKey,
		Dashboards:    handlers.catalog.InstructorDashboards,
		FilterFormats: filterFormats,
	})
}

// supportedLanguage returns language when the catalog grants its translations.
func (handlers *InstructorHandlers) supportedLanguage(language string) string {
	trimmed := strings.TrimSpace(language)
	if trimmed == "" {
		return ""
	}
	for _, locale := range handlers.catalog.Locales {
		if strings.EqualFold(strings.ReplaceAll(locale, "_", "-"), strings.ReplaceAll(trimmed, "_", "-")) {
			return locale
		}
	}
	return ""
}

// InstructorGuestTokenURL is the guest token endpoint of a course.
func InstructorGuestTokenURL(courseKey dashboard.CourseKey) string {
	return InstructorGuestTokenPathPrefix + url.PathEscape(courseKey.String())
}

func tabLabel(index int) string {
	return "Dashboard " + strconv.Itoa(index+1)
}
