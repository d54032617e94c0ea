package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTokenFetchTimeout   = 10 * time.Second
	maxTokenResponseBodyBytes  = 64 * 1024
	emptyJSONRequestBody       = "{}"
	contentTypeJSON            = "application/json"
	logEventGuestTokenRejected = "guest_token_rejected"
	logEventGuestTokenMissing  = "guest_token_missing"

	errorMessageMissingGuestTokenURL  = "embed: missing guest token url"
	errorMessageGuestTokenUnavailable = "embed: guest token unavailable"
	errorMessageBuildTokenRequest     = "embed: build guest token request"
	errorMessageTokenRequestFailed    = "embed: guest token request failed"
)

var (
	// ErrMissingGuestTokenURL indicates the fetcher was built without an endpoint.
	ErrMissingGuestTokenURL = errors.New(errorMessageMissingGuestTokenURL)
	// ErrGuestTokenUnavailable indicates the token endpoint answered without a usable token.
	ErrGuestTokenUnavailable = errors.New(errorMessageGuestTokenUnavailable)
)

// TokenSource supplies guest tokens to the embedding SDK.
type TokenSource interface {
	FetchGuestToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// FetchGuestToken calls the underlying function.
func (function TokenSourceFunc) FetchGuestToken(ctx context.Context) (string, error) {
	return function(ctx)
}

// TokenFetcherConfig describes the guest token endpoint and how to reach it.
type TokenFetcherConfig struct {
	GuestTokenURL string
	// FromXBlock selects the handler-style endpoint: POST with an empty JSON body.
	// Otherwise a plain GET is issued.
	FromXBlock bool
	Cookies    CookieSource
	HTTPClient *http.Client
}

// HTTPTokenFetcher retrieves guest tokens from the backend token provider.
type HTTPTokenFetcher struct {
	guestTokenURL string
	fromXBlock    bool
	cookies       CookieSource
	httpClient    *http.Client
	logger        *zap.Logger
}

type guestTokenResponse struct {
	GuestToken string `json:"guestToken"`
}

// NewHTTPTokenFetcher validates the configuration and builds a fetcher.
func NewHTTPTokenFetcher(configuration TokenFetcherConfig, logger *zap.Logger) (*HTTPTokenFetcher, error) {
	guestTokenURL := strings.TrimSpace(configuration.GuestTokenURL)
	if guestTokenURL == "" {
		return nil, ErrMissingGuestTokenURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cookies := configuration.Cookies
	if cookies == nil {
		cookies = StaticCookies("")
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTokenFetchTimeout}
	}
	return &HTTPTokenFetcher{
		guestTokenURL: guestTokenURL,
		fromXBlock:    configuration.FromXBlock,
		cookies:       cookies,
		httpClient:    httpClient,
		logger:        logger,
	}, nil
}

// FetchGuestToken requests a guest token. A non-success response is logged and
// reported as ErrGuestTokenUnavailable; the request is never retried.
func (fetcher *HTTPTokenFetcher) FetchGuestToken(ctx context.Context) (string, error) {
	request, requestErr := fetcher.buildRequest(ctx)
	if requestErr != nil {
		return "", fmt.Errorf("%s: %w", errorMessageBuildTokenRequest, requestErr)
	}

	response, responseErr := fetcher.httpClient.Do(request)
	if responseErr != nil {
		return "", fmt.Errorf("%s: %w", errorMessageTokenRequestFailed, responseErr)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes))
	if readErr != nil {
		return "", fmt.Errorf("%s: %w", errorMessageTokenRequestFailed, readErr)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		fetcher.logger.Error(logEventGuestTokenRejected,
			zap.Int("status", response.StatusCode),
			zap.Any("body", parseErrorBody(body)),
			zap.String("url", fetcher.guestTokenURL),
		)
		return "", fmt.Errorf("%w: status %d", ErrGuestTokenUnavailable, response.StatusCode)
	}

	var payload guestTokenResponse
	if decodeErr := json.Unmarshal(body, &payload); decodeErr != nil {
		return "", fmt.Errorf("%w: %v", ErrGuestTokenUnavailable, decodeErr)
	}
	if payload.GuestToken == "" {
		fetcher.logger.Error(logEventGuestTokenMissing, zap.String("url", fetcher.guestTokenURL))
		return "", ErrGuestTokenUnavailable
	}
	return payload.GuestToken, nil
}

func (fetcher *HTTPTokenFetcher) buildRequest(ctx context.Context) (*http.Request, error) {
	method := http.MethodGet
	var body io.Reader
	if fetcher.fromXBlock {
		method = http.MethodPost
		body = bytes.NewBufferString(emptyJSONRequestBody)
	}

	request, requestErr := http.NewRequestWithContext(ctx, method, fetcher.guestTokenURL, body)
	if requestErr != nil {
		return nil, requestErr
	}
	if fetcher.fromXBlock {
		request.Header.Set("Content-Type", contentTypeJSON)
	}
	request.Header.Set("Accept", contentTypeJSON)

	cookieHeader := fetcher.cookies()
	csrfToken, _ := CookieValue(cookieHeader, CSRFCookieName)
	request.Header.Set(CSRFHeaderName, csrfToken)
	if cookieHeader != "" {
		request.Header.Set("Cookie", cookieHeader)
	}
	return request, nil
}

func parseErrorBody(body []byte) any {
	var parsed any
	if json.Unmarshal(body, &parsed) == nil {
		return parsed
	}
	return strings.TrimSpace(string(body))
}
