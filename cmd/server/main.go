package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/dashboard"
	"github.com/MarkoPoloResearchLab/superset_xblock/internal/httpapi"
	"github.com/MarkoPoloResearchLab/superset_xblock/internal/storage"
	"github.com/MarkoPoloResearchLab/superset_xblock/internal/superset"
	"github.com/MarkoPoloResearchLab/superset_xblock/internal/task"
)

const (
	commandUseName                   = "server"
	commandShortDescription          = "Run the Superset dashboard embedding server"
	commandLongDescription           = "Serve the Superset XBlock views, the instructor dashboards and the guest token endpoints"
	missingConfigurationMessage      = "missing required configuration"
	loggerCreationErrorMessage       = "logger"
	logEventListening                = "listening"
	logFieldAddress                  = "addr"
	logFieldServeMode                = "serve_mode"
	flagNameApplicationAddress       = "app-addr"
	flagNameDatabaseDriver           = "db-driver"
	flagNameDatabaseDataSourceName   = "db-dsn"
	flagNameSessionSecret            = "session-secret"
	flagNameSupersetURL              = "superset-url"
	flagNameSupersetInternalURL      = "superset-internal-url"
	flagNameSupersetUsername         = "superset-username"
	flagNameSupersetPassword         = "superset-password"
	flagNameDashboardsConfig         = "dashboards-config"
	flagNameEmbeddedSDKURL           = "embedded-sdk-url"
	flagNameAllowedOrigins           = "allowed-origins"
	flagNameServeMode                = "serve-mode"
	flagNameSecureCookies            = "secure-cookies"
	flagNameSupersetProbeInterval    = "superset-probe-interval"
	environmentKeyApplicationAddress = "APP_ADDR"
	environmentKeyDatabaseDriver     = "DB_DRIVER"
	environmentKeyDatabaseDataSource = "DB_DSN"
	environmentKeySessionSecret      = "SESSION_SECRET"
	environmentKeySupersetURL        = "SUPERSET_URL"
	environmentKeySupersetInternal   = "SUPERSET_INTERNAL_URL"
	environmentKeySupersetUsername   = "SUPERSET_USERNAME"
	environmentKeySupersetPassword   = "SUPERSET_PASSWORD"
	environmentKeyDashboardsConfig   = "DASHBOARDS_CONFIG"
	environmentKeyEmbeddedSDKURL     = "EMBEDDED_SDK_URL"
	environmentKeyAllowedOrigins     = "ALLOWED_ORIGINS"
	environmentKeyServeMode          = "SERVE_MODE"
	environmentKeySecureCookies      = "SECURE_COOKIES"
	environmentKeySupersetProbe      = "SUPERSET_PROBE_INTERVAL"
	defaultApplicationAddress        = ":8080"
	defaultSecureCookies             = "true"
	defaultSupersetProbeInterval     = "5m"
	loggerContextOpenDatabase        = "open_db"
	loggerContextAutoMigrate         = "migrate"
	loggerContextLoadCatalog         = "load_catalog"
	loggerContextSupersetClient      = "superset_client"
	loggerContextAuthManager         = "auth_manager"
	loggerContextServer              = "server"
	readHeaderTimeoutSeconds         = 5
	unexpectedArgumentsMessage       = "unexpected command arguments"
	commandInitializationFailure     = "failed to configure command"
	flagNotDefinedMessage            = "flag %s not defined"
	environmentConfigurationError    = "failed to apply environment configuration"
)

type commandFlag struct {
	name           string
	environmentKey string
	defaultValue   string
	usage          string
	required       bool
}

var serverFlags = []commandFlag{
	{name: flagNameApplicationAddress, environmentKey: environmentKeyApplicationAddress, defaultValue: defaultApplicationAddress, usage: "address for the HTTP server to listen on"},
	{name: flagNameDatabaseDriver, environmentKey: environmentKeyDatabaseDriver, defaultValue: storage.DriverNameSQLite, usage: "database driver (sqlite or postgres)"},
	{name: flagNameDatabaseDataSourceName, environmentKey: environmentKeyDatabaseDataSource, usage: "database connection string", required: true},
	{name: flagNameSessionSecret, environmentKey: environmentKeySessionSecret, usage: "secret shared with the LMS for signing session cookies", required: true},
	{name: flagNameSupersetURL, environmentKey: environmentKeySupersetURL, usage: "public Superset URL used by browsers", required: true},
	{name: flagNameSupersetInternalURL, environmentKey: environmentKeySupersetInternal, usage: "Superset URL used for server side API calls (defaults to the public URL)"},
	{name: flagNameSupersetUsername, environmentKey: environmentKeySupersetUsername, usage: "Superset service account username", required: true},
	{name: flagNameSupersetPassword, environmentKey: environmentKeySupersetPassword, usage: "Superset service account password", required: true},
	{name: flagNameDashboardsConfig, environmentKey: environmentKeyDashboardsConfig, usage: "YAML file listing the instructor dashboards (built-in catalog when empty)"},
	{name: flagNameEmbeddedSDKURL, environmentKey: environmentKeyEmbeddedSDKURL, defaultValue: httpapi.DefaultEmbeddedSDKURL, usage: "URL of the Superset embedded SDK bundle"},
	{name: flagNameAllowedOrigins, environmentKey: environmentKeyAllowedOrigins, usage: "comma separated origins allowed to call the guest token endpoints with credentials"},
	{name: flagNameServeMode, environmentKey: environmentKeyServeMode, defaultValue: string(ServeModeMonolith), usage: "which routes to serve: monolith, web or api"},
	{name: flagNameSecureCookies, environmentKey: environmentKeySecureCookies, defaultValue: defaultSecureCookies, usage: "mark session and CSRF cookies as Secure"},
	{name: flagNameSupersetProbeInterval, environmentKey: environmentKeySupersetProbe, defaultValue: defaultSupersetProbeInterval, usage: "how often to check the Superset login (0 disables the check)"},
}

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	DatabaseDriver         string
	DatabaseDataSourceName string
	SessionSecret          string
	Superset               superset.Config
	DashboardsConfigPath   string
	EmbeddedSDKURL         string
	AllowedOrigins         []string
	ServeMode              ServeMode
	SecureCookies          bool
	SupersetProbeInterval  time.Duration
}

// DatabaseOpener opens a database connection using the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	commandFlags := command.Flags()
	for _, definition := range serverFlags {
		application.configurationLoader.SetDefault(definition.environmentKey, definition.defaultValue)
		commandFlags.String(definition.name, definition.defaultValue, definition.usage)
	}
	application.configurationLoader.AutomaticEnv()

	for _, definition := range serverFlags {
		if bindErr := application.bindFlag(commandFlags, definition.environmentKey, definition.name); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, definition.environmentKey, definition.name); environmentErr != nil {
			return environmentErr
		}
		if !definition.required {
			continue
		}
		if markErr := command.MarkFlagRequired(definition.name); markErr != nil {
			return markErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadServerConfig() (ServerConfig, error) {
	loader := application.configurationLoader
	serveMode, serveModeErr := ParseServeMode(loader.GetString(environmentKeyServeMode))
	if serveModeErr != nil {
		return ServerConfig{}, serveModeErr
	}

	return ServerConfig{
		ApplicationAddress:     loader.GetString(environmentKeyApplicationAddress),
		DatabaseDriver:         strings.TrimSpace(loader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDataSourceName: strings.TrimSpace(loader.GetString(environmentKeyDatabaseDataSource)),
		SessionSecret:          strings.TrimSpace(loader.GetString(environmentKeySessionSecret)),
		Superset: superset.Config{
			ServiceURL:         strings.TrimSpace(loader.GetString(environmentKeySupersetURL)),
			InternalServiceURL: strings.TrimSpace(loader.GetString(environmentKeySupersetInternal)),
			Username:           strings.TrimSpace(loader.GetString(environmentKeySupersetUsername)),
			Password:           loader.GetString(environmentKeySupersetPassword),
		},
		DashboardsConfigPath:  strings.TrimSpace(loader.GetString(environmentKeyDashboardsConfig)),
		EmbeddedSDKURL:        strings.TrimSpace(loader.GetString(environmentKeyEmbeddedSDKURL)),
		AllowedOrigins:        splitList(loader.GetString(environmentKeyAllowedOrigins)),
		ServeMode:             serveMode,
		SecureCookies:         loader.GetBool(environmentKeySecureCookies),
		SupersetProbeInterval: loader.GetDuration(environmentKeySupersetProbe),
	}, nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configErr := application.loadServerConfig()
	if configErr != nil {
		return configErr
	}

	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	router, probeScheduler, routerErr := application.buildRouter(serverConfig, logger)
	if routerErr != nil {
		return routerErr
	}
	probeScheduler.Start(command.Context())
	defer probeScheduler.Stop()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	logger.Info(logEventListening,
		zap.String(logFieldAddress, serverConfig.ApplicationAddress),
		zap.String(logFieldServeMode, string(serverConfig.ServeMode)),
	)
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Fatal(loggerContextServer, zap.Error(serveErr))
	}

	return nil
}

// buildRouter wires the handlers. The returned scheduler drives the Superset
// probe and is nil when the probe is disabled; the caller starts it.
func (application *ServerApplication) buildRouter(serverConfig ServerConfig, logger *zap.Logger) (*gin.Engine, *task.Scheduler, error) {
	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriver,
		DataSourceName: serverConfig.DatabaseDataSourceName,
	})
	if databaseErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", loggerContextOpenDatabase, databaseErr)
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", loggerContextAutoMigrate, migrateErr)
	}

	catalog, catalogErr := dashboard.LoadCatalog(serverConfig.DashboardsConfigPath)
	if catalogErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", loggerContextLoadCatalog, catalogErr)
	}

	supersetClient, clientErr := superset.NewClient(serverConfig.Superset, nil, logger)
	if clientErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", loggerContextSupersetClient, clientErr)
	}

	authManager, authErr := httpapi.NewAuthManager(logger, serverConfig.SessionSecret, serverConfig.SecureCookies)
	if authErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", loggerContextAuthManager, authErr)
	}

	tokenService := dashboard.NewTokenService(supersetClient, catalog.Locales)
	embedSettings := httpapi.EmbedSettings{
		SupersetURL: serverConfig.Superset.PublicURL(),
		SDKURL:      serverConfig.EmbeddedSDKURL,
	}

	router := gin.New()
	router.UseRawPath = true
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	router.Use(httpapi.CSRFProtection(logger, serverConfig.SecureCookies))

	var probeScheduler *task.Scheduler
	var statusReporter httpapi.SupersetStatusReporter
	if serverConfig.SupersetProbeInterval > 0 {
		probe := task.NewSupersetProbe(supersetClient, logger)
		probeScheduler = task.NewScheduler(serverConfig.SupersetProbeInterval, probe.Run)
		statusReporter = probe
	}
	router.GET(httpapi.HealthRoute, httpapi.NewHealthHandler(statusReporter))

	xblockHandlers := httpapi.NewXBlockHandlers(database, logger, authManager, tokenService, embedSettings)
	instructorHandlers := httpapi.NewInstructorHandlers(logger, catalog, tokenService, embedSettings)

	if serverConfig.ServeMode.ServesWeb() {
		registerFrontendRoutes(router, authManager, xblockHandlers, instructorHandlers, httpapi.NewPublicJavaScriptHandlers())
	}
	if serverConfig.ServeMode.ServesAPI() {
		registerBackendRoutes(router, authManager, xblockHandlers, instructorHandlers, serverConfig.AllowedOrigins)
	}

	return router, probeScheduler, nil
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.DatabaseDataSourceName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDataSourceName)
	}

	if configuration.SessionSecret == "" {
		missingParameters = append(missingParameters, flagNameSessionSecret)
	}

	if configuration.Superset.ServiceURL == "" {
		missingParameters = append(missingParameters, flagNameSupersetURL)
	}

	if configuration.Superset.Username == "" {
		missingParameters = append(missingParameters, flagNameSupersetUsername)
	}

	if configuration.Superset.Password == "" {
		missingParameters = append(missingParameters, flagNameSupersetPassword)
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
