package embed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

const (
	logEventEmbedDashboardFailed = "embed_dashboard_failed"
	logEventDashboardEmbedded    = "dashboard_embedded"
	logEventActivationIgnored    = "dashboard_already_loaded"
	logFieldDashboardUUID        = "dashboard_uuid"
	logFieldMountPoint           = "mount_point"
	logFieldTabIndex             = "tab_index"

	errorMessageMissingEmbedder    = "embed: missing embedder"
	errorMessageMissingTabControls = "embed: missing tab controls"
	errorMessageUnknownTabIndex    = "embed: unknown tab index"
	errorMessageRegisterListener   = "embed: register tab listener"
)

var (
	// ErrMissingEmbedder indicates the orchestrator was built without an SDK.
	ErrMissingEmbedder = errors.New(errorMessageMissingEmbedder)
	// ErrMissingTabControls indicates deferred dashboards exist but no tab controls were supplied.
	ErrMissingTabControls = errors.New(errorMessageMissingTabControls)
	// ErrUnknownTabIndex indicates a tab index outside the configured dashboards.
	ErrUnknownTabIndex = errors.New(errorMessageUnknownTabIndex)
)

// LoadState tracks whether a dashboard has been handed to the SDK.
type LoadState int

const (
	// Unloaded dashboards have not been embedded yet.
	Unloaded LoadState = iota
	// Loaded dashboards were embedded once and never are again.
	Loaded
)

func (state LoadState) String() string {
	switch state {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// EmbedConfiguration is the argument handed to the embedding SDK for one dashboard.
type EmbedConfiguration struct {
	ID                string
	SupersetDomain    string
	MountPoint        string
	FetchGuestToken   TokenSource
	DashboardUIConfig DashboardUIConfig
}

// EmbeddedDashboard is the handle the SDK returns once the iframe is mounted.
type EmbeddedDashboard interface {
	DashboardID() string
}

// Embedder renders a dashboard iframe into a mount point.
type Embedder interface {
	EmbedDashboard(ctx context.Context, configuration EmbedConfiguration) (EmbeddedDashboard, error)
}

// TabControls registers listeners on the controls selecting dashboard tabs.
type TabControls interface {
	OnChange(controlID string, listener func()) error
}

// MountHook runs after the SDK mounted a dashboard.
type MountHook func(descriptor DashboardDescriptor, dashboard EmbeddedDashboard)

// Orchestrator embeds the first dashboard immediately and the others when their tab is selected.
type Orchestrator struct {
	configuration Config
	embedder      Embedder
	tabs          TabControls
	tokens        TokenSource
	logger        *zap.Logger
	mountHook     MountHook
	statesMutex   sync.Mutex
	states        []LoadState
}

// NewOrchestrator builds an orchestrator. When tokens is nil an HTTPTokenFetcher
// targeting configuration.GuestTokenURL is used.
func NewOrchestrator(configuration Config, embedder Embedder, tabs TabControls, tokens TokenSource, logger *zap.Logger) (*Orchestrator, error) {
	if embedder == nil {
		return nil, ErrMissingEmbedder
	}
	normalizedConfig, configErr := configuration.normalized()
	if configErr != nil {
		return nil, configErr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokens == nil {
		fetcher, fetcherErr := NewHTTPTokenFetcher(TokenFetcherConfig{
			GuestTokenURL: normalizedConfig.GuestTokenURL,
			FromXBlock:    normalizedConfig.FromXBlock,
		}, logger)
		if fetcherErr != nil {
			return nil, fetcherErr
		}
		tokens = fetcher
	}
	return &Orchestrator{
		configuration: normalizedConfig,
		embedder:      embedder,
		tabs:          tabs,
		tokens:        tokens,
		logger:        logger,
		mountHook:     func(DashboardDescriptor, EmbeddedDashboard) {},
		states:        make([]LoadState, len(normalizedConfig.Dashboards)),
	}, nil
}

// WithMountHook overrides the post-mount hook.
func (orchestrator *Orchestrator) WithMountHook(hook MountHook) *Orchestrator {
	if hook != nil {
		orchestrator.mountHook = hook
	}
	return orchestrator
}

// Start walks the configured dashboards in order. The first one is embedded
// before Start returns; the rest wait for their tab control to change.
func (orchestrator *Orchestrator) Start(ctx context.Context) error {
	for tabIndex := range orchestrator.configuration.Dashboards {
		if embedErr := orchestrator.EmbedDashboard(ctx, tabIndex); embedErr != nil {
			return embedErr
		}
	}
	return nil
}

// EmbedDashboard schedules the dashboard at tabIndex: immediately for the
// default tab, on tab activation otherwise. Deferred activations keep the
// values of ctx but not its cancellation, so a tab opened after Start's
// context ends still embeds.
func (orchestrator *Orchestrator) EmbedDashboard(ctx context.Context, tabIndex int) error {
	if tabIndex < 0 || tabIndex >= len(orchestrator.configuration.Dashboards) {
		return fmt.Errorf("%w: %d", ErrUnknownTabIndex, tabIndex)
	}
	if tabIndex == 0 {
		orchestrator.Activate(ctx, tabIndex)
		return nil
	}
	if orchestrator.tabs == nil {
		return ErrMissingTabControls
	}
	controlID := TabControlID(orchestrator.configuration.TabControlPrefix, tabIndex)
	activationContext := context.WithoutCancel(ctx)
	registerErr := orchestrator.tabs.OnChange(controlID, func() {
		orchestrator.Activate(activationContext, tabIndex)
	})
	if registerErr != nil {
		return fmt.Errorf("%s %s: %w", errorMessageRegisterListener, controlID, registerErr)
	}
	return nil
}

// Activate embeds the dashboard at tabIndex unless it is already loaded.
// It reports whether this call performed the embed.
func (orchestrator *Orchestrator) Activate(ctx context.Context, tabIndex int) bool {
	if !orchestrator.markLoaded(tabIndex) {
		orchestrator.logger.Debug(logEventActivationIgnored, zap.Int(logFieldTabIndex, tabIndex))
		return false
	}
	orchestrator.embed(ctx, orchestrator.configuration.Dashboards[tabIndex])
	return true
}

// State reports the load state of the first dashboard carrying dashboardUUID.
func (orchestrator *Orchestrator) State(dashboardUUID string) LoadState {
	orchestrator.statesMutex.Lock()
	defer orchestrator.statesMutex.Unlock()
	for tabIndex, descriptor := range orchestrator.configuration.Dashboards {
		if descriptor.UUID == dashboardUUID {
			return orchestrator.states[tabIndex]
		}
	}
	return Unloaded
}

func (orchestrator *Orchestrator) markLoaded(tabIndex int) bool {
	orchestrator.statesMutex.Lock()
	defer orchestrator.statesMutex.Unlock()
	if tabIndex < 0 || tabIndex >= len(orchestrator.states) {
		return false
	}
	if orchestrator.states[tabIndex] == Loaded {
		return false
	}
	orchestrator.states[tabIndex] = Loaded
	return true
}

func (orchestrator *Orchestrator) embed(ctx context.Context, descriptor DashboardDescriptor) {
	mountPoint := MountPointID(orchestrator.configuration.MountPointPrefix, orchestrator.configuration.XBlockID, descriptor.UUID)
	embedConfiguration := EmbedConfiguration{
		ID:                descriptor.UUID,
		SupersetDomain:    orchestrator.configuration.SupersetURL,
		MountPoint:        mountPoint,
		FetchGuestToken:   orchestrator.tokens,
		DashboardUIConfig: *orchestrator.configuration.UIConfig,
	}

	dashboard, embedErr := orchestrator.embedder.EmbedDashboard(ctx, embedConfiguration)
	if embedErr != nil {
		orchestrator.logger.Error(logEventEmbedDashboardFailed,
			zap.String(logFieldDashboardUUID, descriptor.UUID),
			zap.String(logFieldMountPoint, mountPoint),
			zap.Error(embedErr),
		)
		return
	}
	orchestrator.logger.Info(logEventDashboardEmbedded,
		zap.String(logFieldDashboardUUID, descriptor.UUID),
		zap.String(logFieldMountPoint, mountPoint),
	)
	orchestrator.mountHook(descriptor, dashboard)
}

// TabControlID returns the id of the control selecting the dashboard at tabIndex.
// Controls are numbered from one.
func TabControlID(prefix string, tabIndex int) string {
	if prefix == "" {
		prefix = DefaultTabControlPrefix
	}
	return prefix + strconv.Itoa(tabIndex+1)
}
