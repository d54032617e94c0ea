package httpapi_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/net/html"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/dashboard"
	"github.com/MarkoPoloResearchLab/superset_xblock/internal/httpapi"
	"github.com/MarkoPoloResearchLab/superset_xblock/internal/testutil"
	"github.com/MarkoPoloResearchLab/superset_xblock/pkg/embed"
)

const (
	testSessionSecret     = "test-session-secret-value"
	testSupersetURL       = "http://superset.local:8088/"
	testCourseID          = "course-v1:edX+DemoX+Demo_Course"
	testBlockID           = "d5e1c4a0f3"
	testDashboardUUID     = "c0e64194-33d1-4d5a-8c10-4f51530c5ee9"
	testCSRFToken         = "csrf-test-token"
	testMintedGuestToken  = "minted-guest-token"
	testStaffUsername     = "course_staff"
	testStudentUsername   = "learner"
	testSDKURL            = "/test/embedded-sdk.js"
	errorResponseTemplate = `{"error":"%s"}`
)

var errIssuerUnavailable = errors.New("superset unavailable")

type recordingIssuer struct {
	mutex  sync.Mutex
	params []dashboard.GuestTokenParams
	err    error
}

func (issuer *recordingIssuer) IssueGuestToken(_ context.Context, params dashboard.GuestTokenParams) (string, error) {
	issuer.mutex.Lock()
	defer issuer.mutex.Unlock()
	issuer.params = append(issuer.params, params)
	if issuer.err != nil {
		return "", issuer.err
	}
	return testMintedGuestToken, nil
}

func (issuer *recordingIssuer) calls() []dashboard.GuestTokenParams {
	issuer.mutex.Lock()
	defer issuer.mutex.Unlock()
	return append([]dashboard.GuestTokenParams(nil), issuer.params...)
}

type xblockHarness struct {
	router      *gin.Engine
	database    *gorm.DB
	authManager *httpapi.AuthManager
	issuer      *recordingIssuer
	catalog     dashboard.Catalog
	logs        *observer.ObservedLogs
}

func buildXBlockHarness(testingT *testing.T) *xblockHarness {
	testingT.Helper()
	gin.SetMode(gin.TestMode)

	database := testutil.NewSQLiteTestDatabase(testingT).OpenMigratedDatabase(testingT)
	observedCore, logs := observer.New(zap.DebugLevel)
	logger := zap.New(observedCore)

	authManager, authErr := httpapi.NewAuthManager(logger, testSessionSecret, false)
	require.NoError(testingT, authErr)

	catalog := dashboard.DefaultCatalog()
	catalog.ExtraFilters = dashboard.StringList{"enrollment_mode = 'verified'"}
	catalog.Locales = dashboard.StringList{"en", "es"}

	issuer := &recordingIssuer{}
	settings := httpapi.EmbedSettings{SupersetURL: testSupersetURL, SDKURL: testSDKURL}
	xblockHandlers := httpapi.NewXBlockHandlers(database, logger, authManager, issuer, settings)
	instructorHandlers := httpapi.NewInstructorHandlers(logger, catalog, issuer, settings)
	scriptHandlers := httpapi.NewPublicJavaScriptHandlers()

	router := gin.New()
	router.UseRawPath = true
	router.Use(httpapi.CSRFProtection(logger, false))
	router.GET(httpapi.HealthRoute, httpapi.NewHealthHandler(nil))
	router.GET(httpapi.EmbedDashboardScriptPath, scriptHandlers.EmbedDashboardJS)
	router.GET(httpapi.XBlockScriptPath, scriptHandlers.XBlockJS)
	router.GET(httpapi.XBlockEditScriptPath, scriptHandlers.XBlockEditJS)
	router.GET(httpapi.StylesheetPath, scriptHandlers.StylesheetCSS)
	router.GET(httpapi.XBlockStudentViewRoute, xblockHandlers.StudentView)
	router.GET(httpapi.XBlockStudioViewRoute, authManager.RequireCourseStaffJSON(), xblockHandlers.StudioView)
	router.POST(httpapi.XBlockHandlerRoute, authManager.RequireCourseStaffJSON(), xblockHandlers.Handle)
	router.GET(httpapi.InstructorDashboardsRoute, authManager.RequireCourseStaffJSON(), instructorHandlers.RenderDashboards)
	router.GET(httpapi.InstructorGuestTokenRoute, authManager.RequireCourseStaffJSON(), instructorHandlers.GuestToken)

	return &xblockHarness{
		router:      router,
		database:    database,
		authManager: authManager,
		issuer:      issuer,
		catalog:     catalog,
		logs:        logs,
	}
}

func (harness *xblockHarness) sessionCookies(testingT *testing.T, user httpapi.CurrentUser) []*http.Cookie {
	testingT.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(testingT, harness.authManager.SaveUser(recorder, request, user))
	cookies := recorder.Result().Cookies()
	require.NotEmpty(testingT, cookies)
	return cookies
}

func (harness *xblockHarness) staffCookies(testingT *testing.T) []*http.Cookie {
	return harness.sessionCookies(testingT, httpapi.CurrentUser{Username: testStaffUsername, Role: httpapi.RoleStaff})
}

func (harness *xblockHarness) studentCookies(testingT *testing.T) []*http.Cookie {
	return harness.sessionCookies(testingT, httpapi.CurrentUser{Username: testStudentUsername, Role: httpapi.RoleStudent})
}

type requestOptions struct {
	cookies   []*http.Cookie
	csrfToken string
	body      string
}

func (harness *xblockHarness) perform(method string, target string, options requestOptions) *httptest.ResponseRecorder {
	var body io.Reader
	if options.body != "" {
		body = strings.NewReader(options.body)
	}
	request := httptest.NewRequest(method, target, body)
	if options.body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range options.cookies {
		request.AddCookie(cookie)
	}
	if options.csrfToken != "" {
		request.AddCookie(&http.Cookie{Name: embed.CSRFCookieName, Value: options.csrfToken})
		request.Header.Set(embed.CSRFHeaderName, options.csrfToken)
	}
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func blockPath(courseID string, blockID string) string {
	return "/courses/" + courseID + "/xblock/" + blockID
}

func parseHTMLDocument(testingT *testing.T, body []byte) *html.Node {
	testingT.Helper()
	document, parseErr := html.Parse(bytes.NewReader(body))
	require.NoError(testingT, parseErr)
	return document
}

func findElementByID(node *html.Node, identifier string) *html.Node {
	if node.Type == html.ElementNode && attributeValue(node, "id") == identifier {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findElementByID(child, identifier); found != nil {
			return found
		}
	}
	return nil
}

func collectElements(node *html.Node, tagName string, collected []*html.Node) []*html.Node {
	if node.Type == html.ElementNode && node.Data == tagName {
		collected = append(collected, node)
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collected = collectElements(child, tagName, collected)
	}
	return collected
}

func scriptSources(document *html.Node) []string {
	var sources []string
	for _, script := range collectElements(document, "script", nil) {
		if source := attributeValue(script, "src"); source != "" {
			sources = append(sources, source)
		}
	}
	return sources
}

func inlineScripts(document *html.Node) string {
	var builder strings.Builder
	for _, script := range collectElements(document, "script", nil) {
		for child := script.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.TextNode {
				builder.WriteString(child.Data)
			}
		}
	}
	return builder.String()
}

func attributeValue(node *html.Node, name string) string {
	for _, attribute := range node.Attr {
		if attribute.Key == name {
			return attribute.Val
		}
	}
	return ""
}
