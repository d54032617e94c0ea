package embed

import (
	"errors"
	"strings"
)

const (
	// DefaultMountPointPrefix prefixes the id of the element receiving the dashboard iframe.
	DefaultMountPointPrefix = "superset-embedded-container-"
	// DefaultTabControlPrefix prefixes the id of the radio control selecting a dashboard tab.
	DefaultTabControlPrefix = "tab-"

	errorMessageMissingSupersetURL = "embed: missing superset url"
	errorMessageMissingDashboardID = "embed: dashboard descriptor without uuid"
)

var (
	// ErrMissingSupersetURL indicates the dashboard host was not configured.
	ErrMissingSupersetURL = errors.New(errorMessageMissingSupersetURL)
	// ErrMissingDashboardUUID indicates a configured dashboard carries no identifier.
	ErrMissingDashboardUUID = errors.New(errorMessageMissingDashboardID)
)

// DashboardDescriptor identifies one dashboard configured by the host page.
type DashboardDescriptor struct {
	UUID string `json:"uuid"`
	Name string `json:"name,omitempty"`
}

// FilterUIConfig controls the native filter bar of an embedded dashboard.
type FilterUIConfig struct {
	Visible  *bool `json:"visible,omitempty"`
	Expanded bool  `json:"expanded"`
}

// DashboardUIConfig holds the display flags handed to the embedding SDK.
type DashboardUIConfig struct {
	HideTitle         bool           `json:"hideTitle"`
	HideTab           bool           `json:"hideTab"`
	HideChartControls bool           `json:"hideChartControls"`
	HideFilters       bool           `json:"hideFilters"`
	Filters           FilterUIConfig `json:"filters"`
}

// DefaultDashboardUIConfig returns the flags used for course dashboards.
func DefaultDashboardUIConfig() DashboardUIConfig {
	return DashboardUIConfig{
		HideTitle:         true,
		HideTab:           true,
		HideChartControls: false,
		HideFilters:       true,
		Filters: FilterUIConfig{
			Expanded: false,
		},
	}
}

// Config replaces the values a host page used to inject as window globals.
type Config struct {
	Dashboards       []DashboardDescriptor `json:"superset_dashboards"`
	SupersetURL      string                `json:"superset_url"`
	GuestTokenURL    string                `json:"superset_guest_token_url"`
	FromXBlock       bool                  `json:"from_xblock"`
	XBlockID         string                `json:"xblock_id,omitempty"`
	MountPointPrefix string                `json:"-"`
	TabControlPrefix string                `json:"-"`
	UIConfig         *DashboardUIConfig    `json:"-"`
}

func (configuration Config) normalized() (Config, error) {
	normalizedConfig := configuration
	normalizedConfig.SupersetURL = strings.TrimSpace(configuration.SupersetURL)
	if normalizedConfig.SupersetURL == "" {
		return Config{}, ErrMissingSupersetURL
	}
	normalizedConfig.XBlockID = strings.TrimSpace(configuration.XBlockID)
	if normalizedConfig.MountPointPrefix == "" {
		normalizedConfig.MountPointPrefix = DefaultMountPointPrefix
	}
	if normalizedConfig.TabControlPrefix == "" {
		normalizedConfig.TabControlPrefix = DefaultTabControlPrefix
	}
	if normalizedConfig.UIConfig == nil {
		uiConfig := DefaultDashboardUIConfig()
		normalizedConfig.UIConfig = &uiConfig
	}
	dashboards := make([]DashboardDescriptor, 0, len(configuration.Dashboards))
	for _, descriptor := range configuration.Dashboards {
		uuidValue := strings.TrimSpace(descriptor.UUID)
		if uuidValue == "" {
			return Config{}, ErrMissingDashboardUUID
		}
		dashboards = append(dashboards, DashboardDescriptor{UUID: uuidValue, Name: strings.TrimSpace(descriptor.Name)})
	}
	normalizedConfig.Dashboards = dashboards
	return normalizedConfig, nil
}

// MountPointID returns the element id the dashboard iframe is mounted into.
func MountPointID(prefix string, xblockID string, dashboardUUID string) string {
	if prefix == "" {
		prefix = DefaultMountPointPrefix
	}
	if xblockID != "" {
		return prefix + xblockID
	}
	return prefix + dashboardUUID
}
