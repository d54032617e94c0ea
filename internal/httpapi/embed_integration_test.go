package httpapi_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/httpapi"
	"github.com/MarkoPoloResearchLab/superset_xblock/pkg/embed"
)

const (
	integrationTestTimeout               = 20 * time.Second
	integrationPollTimeout               = 5 * time.Second
	headlessBrowserSkipReason            = "chromedp headless browser not available"
	headlessBrowserLocateErrorMessage    = "locate headless browser executable"
	headlessBrowserEnvironmentChromedp   = "CHROMEDP_BROWSER"
	headlessBrowserEnvironmentChromePath = "CHROME_PATH"
	integrationLoginRoute                = "/test/login"
	recordingEmbeddedSDKSource           = `window.embedCalls = [];
window.fetchedTokens = [];
window.supersetEmbeddedSdk = {
  embedDashboard: function (options) {
    window.embedCalls.push({
      id: options.id,
      mountPoint: options.mountPoint ? options.mountPoint.id : null,
      hideTitle: options.dashboardUiConfig.hideTitle
    });
    return options.fetchGuestToken().then(function (token) {
      window.fetchedTokens.push(token);
      return {};
    });
  }
};`
)

var headlessBrowserExecutableNames = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
	"headless-shell",
}

var errHeadlessBrowserNotFound = errors.New("headless browser executable not found")

type recordedEmbedCall struct {
	ID         string `json:"id"`
	MountPoint string `json:"mountPoint"`
	HideTitle  bool   `json:"hideTitle"`
}

// recordedHandlerRequest captures one browser call to an XBlock handler.
type recordedHandlerRequest struct {
	Method     string
	Path       string
	CSRFHeader string
	CSRFCookie string
	Status     int
}

type handlerRequestLog struct {
	mutex    sync.Mutex
	requests []recordedHandlerRequest
}

func (log *handlerRequestLog) add(request recordedHandlerRequest) {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	log.requests = append(log.requests, request)
}

func (log *handlerRequestLog) snapshot() []recordedHandlerRequest {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	return append([]recordedHandlerRequest(nil), log.requests...)
}

type statusRecordingWriter struct {
	http.ResponseWriter
	status int
}

func (writer *statusRecordingWriter) WriteHeader(status int) {
	writer.status = status
	writer.ResponseWriter.WriteHeader(status)
}

// startEmbedPageServer serves the harness router with the recording SDK and a
// login shortcut that stores the given user and redirects to ?next.
func startEmbedPageServer(testingT *testing.T, harness *xblockHarness, user httpapi.CurrentUser) (*httptest.Server, *handlerRequestLog) {
	testingT.Helper()

	harness.router.GET(testSDKURL, func(ginContext *gin.Context) {
		ginContext.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(recordingEmbeddedSDKSource))
	})
	harness.router.GET(integrationLoginRoute, func(ginContext *gin.Context) {
		saveErr := harness.authManager.SaveUser(ginContext.Writer, ginContext.Request, user)
		if saveErr != nil {
			ginContext.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		ginContext.Redirect(http.StatusFound, ginContext.Query("next"))
	})

	handlerLog := &handlerRequestLog{}
	recordingHandler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if !strings.Contains(request.URL.Path, "/handler/") {
			harness.router.ServeHTTP(writer, request)
			return
		}
		statusWriter := &statusRecordingWriter{ResponseWriter: writer, status: http.StatusOK}
		harness.router.ServeHTTP(statusWriter, request)
		csrfCookieValue := ""
		if csrfCookie, cookieErr := request.Cookie(embed.CSRFCookieName); cookieErr == nil {
			csrfCookieValue = csrfCookie.Value
		}
		handlerLog.add(recordedHandlerRequest{
			Method:     request.Method,
			Path:       request.URL.Path,
			CSRFHeader: request.Header.Get(embed.CSRFHeaderName),
			CSRFCookie: csrfCookieValue,
			Status:     statusWriter.status,
		})
	})

	return startLoopbackServer(testingT, recordingHandler), handlerLog
}

func TestInstructorDashboardsEmbedLazilyPerTab(t *testing.T) {
	browserContext := buildHeadlessBrowserContext(t)
	harness := buildXBlockHarness(t)

	server, _ := startEmbedPageServer(t, harness, httpapi.CurrentUser{Username: testStaffUsername, Role: httpapi.RoleInstructor})

	loginURL := fmt.Sprintf("%s%s?next=%s", server.URL, integrationLoginRoute, url.QueryEscape(instructorPath(testCourseID)))
	dashboards := harness.catalog.InstructorDashboards

	var firstTokenFetched bool
	var initialCalls []recordedEmbedCall
	runErr := chromedp.Run(browserContext,
		chromedp.Navigate(loginURL),
		chromedp.Poll(`window.fetchedTokens !== undefined && window.fetchedTokens.length === 1`, &firstTokenFetched, chromedp.WithPollingTimeout(integrationPollTimeout)),
		chromedp.Evaluate(`window.embedCalls`, &initialCalls),
	)
	require.NoError(t, runErr)
	require.True(t, firstTokenFetched)
	require.Equal(t, []recordedEmbedCall{{ID: dashboards[0].UUID, MountPoint: "superset-embedded-container-" + dashboards[0].UUID, HideTitle: true}}, initialCalls)

	var secondTokenFetched bool
	var fetchedTokens []string
	var repeatedCalls []recordedEmbedCall
	runErr = chromedp.Run(browserContext,
		chromedp.Click(`label[for="tab-2"]`, chromedp.ByQuery),
		chromedp.Poll(`window.fetchedTokens.length === 2`, &secondTokenFetched, chromedp.WithPollingTimeout(integrationPollTimeout)),
		chromedp.Click(`label[for="tab-1"]`, chromedp.ByQuery),
		chromedp.Click(`label[for="tab-2"]`, chromedp.ByQuery),
		chromedp.Sleep(200*time.Millisecond),
		chromedp.Evaluate(`window.embedCalls`, &repeatedCalls),
		chromedp.Evaluate(`window.fetchedTokens`, &fetchedTokens),
	)
	require.NoError(t, runErr)
	require.True(t, secondTokenFetched)
	require.Len(t, repeatedCalls, 2)
	require.Equal(t, dashboards[1].UUID, repeatedCalls[1].ID)
	require.Equal(t, []string{testMintedGuestToken, testMintedGuestToken}, fetchedTokens)
	require.Len(t, harness.issuer.calls(), 2)
}

func TestXBlockStudentViewFetchesTokenThroughBlockHandler(t *testing.T) {
	testCases := []struct {
		name           string
		issuerErr      error
		expectedStatus int
		expectedTokens []any
	}{
		{
			name:           "issuer mints token",
			expectedStatus: http.StatusOK,
			expectedTokens: []any{testMintedGuestToken},
		},
		{
			name:           "issuer failure yields null token",
			issuerErr:      errIssuerUnavailable,
			expectedStatus: http.StatusInternalServerError,
			expectedTokens: []any{nil},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			browserContext := buildHeadlessBrowserContext(t)
			harness := buildXBlockHarness(t)
			configureBlock(t, harness)
			harness.issuer.err = testCase.issuerErr

			server, handlerLog := startEmbedPageServer(t, harness, httpapi.CurrentUser{Username: testStaffUsername, Role: httpapi.RoleStaff})
			loginURL := fmt.Sprintf("%s%s?next=%s", server.URL, integrationLoginRoute, url.QueryEscape(blockPath(testCourseID, testBlockID)))

			var tokenFetched bool
			var embedCalls []recordedEmbedCall
			var fetchedTokens []any
			runErr := chromedp.Run(browserContext,
				chromedp.Navigate(loginURL),
				chromedp.Poll(`window.fetchedTokens !== undefined && window.fetchedTokens.length === 1`, &tokenFetched, chromedp.WithPollingTimeout(integrationPollTimeout)),
				chromedp.Sleep(200*time.Millisecond),
				chromedp.Evaluate(`window.embedCalls`, &embedCalls),
				chromedp.Evaluate(`window.fetchedTokens`, &fetchedTokens),
			)
			require.NoError(t, runErr)
			require.True(t, tokenFetched)
			require.Equal(t, []recordedEmbedCall{{ID: testDashboardUUID, MountPoint: "superset-embedded-container-" + testBlockID, HideTitle: true}}, embedCalls)
			require.Equal(t, testCase.expectedTokens, fetchedTokens)

			handlerRequests := handlerLog.snapshot()
			require.Len(t, handlerRequests, 1)
			require.Equal(t, http.MethodPost, handlerRequests[0].Method)
			require.Equal(t, blockPath(testCourseID, testBlockID)+"/handler/"+httpapi.HandlerGuestToken, handlerRequests[0].Path)
			require.NotEmpty(t, handlerRequests[0].CSRFHeader)
			require.Equal(t, handlerRequests[0].CSRFCookie, handlerRequests[0].CSRFHeader)
			require.Equal(t, testCase.expectedStatus, handlerRequests[0].Status)
			require.Len(t, harness.issuer.calls(), 1)
		})
	}
}

func buildHeadlessBrowserContext(testingT *testing.T) context.Context {
	testingT.Helper()

	browserExecutablePath, locateBrowserErr := locateHeadlessBrowserExecutable()
	if locateBrowserErr != nil {
		testingT.Skipf("%s: %v", headlessBrowserSkipReason, locateBrowserErr)
	}

	headlessAllocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(browserExecutablePath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocatorContext, allocatorCancel := chromedp.NewExecAllocator(context.Background(), headlessAllocatorOptions...)
	testingT.Cleanup(allocatorCancel)

	browserContext, browserCancel := chromedp.NewContext(allocatorContext)
	testingT.Cleanup(browserCancel)

	contextWithTimeout, timeoutCancel := context.WithTimeout(browserContext, integrationTestTimeout)
	testingT.Cleanup(timeoutCancel)

	return contextWithTimeout
}

func locateHeadlessBrowserExecutable() (string, error) {
	environmentVariableNames := []string{
		headlessBrowserEnvironmentChromedp,
		headlessBrowserEnvironmentChromePath,
	}

	for _, environmentVariableName := range environmentVariableNames {
		environmentValue := strings.TrimSpace(os.Getenv(environmentVariableName))
		if environmentValue == "" {
			continue
		}
		return environmentValue, nil
	}

	for _, executableName := range headlessBrowserExecutableNames {
		executablePath, lookupErr := exec.LookPath(executableName)
		if lookupErr == nil {
			return executablePath, nil
		}
	}

	return "", fmt.Errorf("%s: %w", headlessBrowserLocateErrorMessage, errHeadlessBrowserNotFound)
}
