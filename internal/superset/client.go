// Package superset talks to the Superset security API to mint guest tokens.
package superset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	loginPath      = "api/v1/security/login"
	csrfTokenPath  = "api/v1/security/csrf_token/"
	guestTokenPath = "api/v1/security/guest_token/"

	loginProviderDatabase   = "db"
	resourceTypeDashboard   = "dashboard"
	defaultRequestTimeout   = 10 * time.Second
	maxResponseBodyBytes    = 256 * 1024
	headerAuthorization     = "Authorization"
	headerCSRFToken         = "X-CSRFToken"
	headerContentType       = "Content-Type"
	contentTypeJSON         = "application/json"
	bearerPrefix            = "Bearer "
	logEventSupersetRequest = "superset_request_failed"

	errorMessageMissingServiceURL = "superset: missing service url"
	errorMessageMissingCredential = "superset: missing username or password"
	errorMessageLogin             = "superset: login"
	errorMessageCSRFToken         = "superset: csrf token"
	errorMessageGuestTokenRequest = "superset: guest token request"
	errorMessageUnexpectedStatus  = "superset: unexpected status"
	errorMessageEmptyResponse     = "superset: empty response field"
)

var (
	// ErrMissingServiceURL indicates no Superset host was configured.
	ErrMissingServiceURL = errors.New(errorMessageMissingServiceURL)
	// ErrMissingCredentials indicates the service account is incomplete.
	ErrMissingCredentials = errors.New(errorMessageMissingCredential)
	// ErrUnexpectedStatus indicates Superset answered with a non-success status.
	ErrUnexpectedStatus = errors.New(errorMessageUnexpectedStatus)
	// ErrEmptyResponse indicates Superset answered without the expected field.
	ErrEmptyResponse = errors.New(errorMessageEmptyResponse)
	// ErrGuestTokenRequest wraps every failure to obtain a guest token.
	ErrGuestTokenRequest = errors.New(errorMessageGuestTokenRequest)
)

// Config holds the Superset connection details.
type Config struct {
	ServiceURL         string
	InternalServiceURL string
	Username           string
	Password           string
}

// FixServiceURL appends the trailing slash Superset API paths are joined onto.
func FixServiceURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed != "" && !strings.HasSuffix(trimmed, "/") {
		trimmed += "/"
	}
	return trimmed
}

// PublicURL is the browser-facing Superset host.
func (configuration Config) PublicURL() string {
	return FixServiceURL(configuration.ServiceURL)
}

// APIURL is the host used for server-to-server calls, falling back to the public one.
func (configuration Config) APIURL() string {
	if internalURL := FixServiceURL(configuration.InternalServiceURL); internalURL != "" {
		return internalURL
	}
	return configuration.PublicURL()
}

// LoginRequest is the body of the security login call.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Provider string `json:"provider"`
	Refresh  bool   `json:"refresh"`
}

// GuestTokenRequest is the body of the guest token call.
type GuestTokenRequest struct {
	User      GuestUser  `json:"user"`
	Resources []Resource `json:"resources"`
	RLS       []RLSRule  `json:"rls"`
}

// GuestUser describes the viewer the guest token is minted for.
type GuestUser struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Resource grants access to one Superset object.
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// DashboardResource grants access to a dashboard.
func DashboardResource(dashboardUUID string) Resource {
	return Resource{Type: resourceTypeDashboard, ID: dashboardUUID}
}

// RLSRule is a row level security clause applied to every dataset.
type RLSRule struct {
	Clause  string `json:"clause"`
	Dataset int    `json:"dataset,omitempty"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type csrfTokenResponse struct {
	Result string `json:"result"`
}

type guestTokenResponse struct {
	Token string `json:"token"`
}

// Client issues authenticated calls against the Superset API.
type Client struct {
	configuration Config
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewClient validates the configuration. A nil httpClient gets a client with a timeout.
func NewClient(configuration Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if configuration.APIURL() == "" {
		return nil, ErrMissingServiceURL
	}
	if strings.TrimSpace(configuration.Username) == "" || configuration.Password == "" {
		return nil, ErrMissingCredentials
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{configuration: configuration, httpClient: httpClient, logger: logger}, nil
}

// Config returns the client configuration.
func (client *Client) Config() Config {
	return client.configuration
}

// session shares one cookie jar across the calls of a single token exchange;
// Superset ties the CSRF token to the session cookie set at login.
func (client *Client) session() *http.Client {
	sessionClient := *client.httpClient
	jar, jarErr := cookiejar.New(nil)
	if jarErr == nil {
		sessionClient.Jar = jar
	}
	return &sessionClient
}

// Login exchanges the service account credentials for an access token.
func (client *Client) Login(ctx context.Context) (string, error) {
	return client.login(ctx, client.session())
}

func (client *Client) login(ctx context.Context, session *http.Client) (string, error) {
	var response loginResponse
	requestBody := LoginRequest{
		Username: strings.TrimSpace(client.configuration.Username),
		Password: client.configuration.Password,
		Provider: loginProviderDatabase,
		Refresh:  true,
	}
	if callErr := client.call(ctx, session, http.MethodPost, loginPath, requestBody, nil, &response); callErr != nil {
		return "", fmt.Errorf("%s: %w", errorMessageLogin, callErr)
	}
	if response.AccessToken == "" {
		return "", fmt.Errorf("%s: %w", errorMessageLogin, ErrEmptyResponse)
	}
	return response.AccessToken, nil
}

func (client *Client) csrfToken(ctx context.Context, session *http.Client, accessToken string) (string, error) {
	var response csrfTokenResponse
	headers := map[string]string{headerAuthorization: bearerPrefix + accessToken}
	if callErr := client.call(ctx, session, http.MethodGet, csrfTokenPath, nil, headers, &response); callErr != nil {
		return "", fmt.Errorf("%s: %w", errorMessageCSRFToken, callErr)
	}
	if response.Result == "" {
		return "", fmt.Errorf("%s: %w", errorMessageCSRFToken, ErrEmptyResponse)
	}
	return response.Result, nil
}

// GuestToken logs in and mints a guest token for the request.
func (client *Client) GuestToken(ctx context.Context, request GuestTokenRequest) (string, error) {
	session := client.session()
	accessToken, loginErr := client.login(ctx, session)
	if loginErr != nil {
		return "", fmt.Errorf("%w: %w", ErrGuestTokenRequest, loginErr)
	}
	csrfToken, csrfErr := client.csrfToken(ctx, session, accessToken)
	if csrfErr != nil {
		return "", fmt.Errorf("%w: %w", ErrGuestTokenRequest, csrfErr)
	}

	if request.Resources == nil {
		request.Resources = []Resource{}
	}
	if request.RLS == nil {
		request.RLS = []RLSRule{}
	}

	var response guestTokenResponse
	headers := map[string]string{
		headerAuthorization: bearerPrefix + accessToken,
		headerCSRFToken:     csrfToken,
	}
	if callErr := client.call(ctx, session, http.MethodPost, guestTokenPath, request, headers, &response); callErr != nil {
		return "", fmt.Errorf("%w: %w", ErrGuestTokenRequest, callErr)
	}
	if response.Token == "" {
		return "", fmt.Errorf("%w: %w", ErrGuestTokenRequest, ErrEmptyResponse)
	}
	return response.Token, nil
}

func (client *Client) call(ctx context.Context, session *http.Client, method string, path string, requestBody any, headers map[string]string, responseBody any) error {
	endpoint := client.configuration.APIURL() + path

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, encodeErr := json.Marshal(requestBody)
		if encodeErr != nil {
			return encodeErr
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, requestErr := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if requestErr != nil {
		return requestErr
	}
	if requestBody != nil {
		request.Header.Set(headerContentType, contentTypeJSON)
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}

	response, responseErr := session.Do(request)
	if responseErr != nil {
		return responseErr
	}
	defer func() {
		_ = response.Body.Close()
	}()

	payload, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if readErr != nil {
		return readErr
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		client.logger.Error(logEventSupersetRequest,
			zap.String("method", method),
			zap.String("url", endpoint),
			zap.Int("status", response.StatusCode),
			zap.String("body", strings.TrimSpace(string(payload))),
		)
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}

	if decodeErr := json.Unmarshal(payload, responseBody); decodeErr != nil {
		return decodeErr
	}
	return nil
}
