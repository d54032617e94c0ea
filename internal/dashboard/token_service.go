package dashboard

import (
	"context"
	"errors"
	"strings"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/superset"
)

// ErrNoDashboards indicates a guest token was requested without any dashboard to grant.
var ErrNoDashboards = errors.New("dashboard: no dashboards to grant")

// GuestTokenMinter mints guest tokens; implemented by *superset.Client.
type GuestTokenMinter interface {
	GuestToken(ctx context.Context, request superset.GuestTokenRequest) (string, error)
}

// GuestTokenParams describes who wants to view which dashboards of which course.
type GuestTokenParams struct {
	Username      string
	Course        CourseKey
	Dashboards    []Dashboard
	FilterFormats []string
}

// TokenService builds guest token requests scoped to a course.
type TokenService struct {
	minter  GuestTokenMinter
	locales []string
}

// NewTokenService builds a TokenService. locales lists the translations granted
// alongside translatable dashboards.
func NewTokenService(minter GuestTokenMinter, locales []string) *TokenService {
	normalizedLocales := make([]string, 0, len(locales))
	for _, locale := range locales {
		if trimmed := strings.TrimSpace(locale); trimmed != "" {
			normalizedLocales = append(normalizedLocales, trimmed)
		}
	}
	return &TokenService{minter: minter, locales: normalizedLocales}
}

// BuildRequest assembles the Superset guest token request for params.
func (service *TokenService) BuildRequest(params GuestTokenParams) (superset.GuestTokenRequest, error) {
	if len(params.Dashboards) == 0 {
		return superset.GuestTokenRequest{}, ErrNoDashboards
	}
	resources, resourcesErr := Resources(params.Dashboards, service.locales)
	if resourcesErr != nil {
		return superset.GuestTokenRequest{}, resourcesErr
	}
	clauses := FormatFilters(params.FilterFormats, params.Course, params.Username)
	return superset.GuestTokenRequest{
		User:      superset.GuestUser{Username: params.Username},
		Resources: resources,
		RLS:       RLSRules(clauses),
	}, nil
}

// IssueGuestToken mints a guest token for params.
func (service *TokenService) IssueGuestToken(ctx context.Context, params GuestTokenParams) (string, error) {
	request, requestErr := service.BuildRequest(params)
	if requestErr != nil {
		return "", requestErr
	}
	return service.minter.GuestToken(ctx, request)
}
