package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/adapters/filestore"
	apphttp "github.com/Sarayalth/nxapi/internal/adapters/http"
	"github.com/Sarayalth/nxapi/internal/adapters/logger"
	"github.com/Sarayalth/nxapi/internal/adapters/middleware"
	appnats "github.com/Sarayalth/nxapi/internal/adapters/nats"
	"github.com/Sarayalth/nxapi/internal/adapters/nintendo"
	appredis "github.com/Sarayalth/nxapi/internal/adapters/redis"
	"github.com/Sarayalth/nxapi/internal/adapters/securestore"
	appws "github.com/Sarayalth/nxapi/internal/adapters/websocket"
	"github.com/Sarayalth/nxapi/internal/application"
	"github.com/Sarayalth/nxapi/internal/domain"
)

// APIAuthMiddleware guards the /v1 API. A distinct type lets Wire tell it apart.
type APIAuthMiddleware func(http.Handler) http.Handler

// InitialZapLoggerProvider provides a basic *zap.Logger, used while configuration loads.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	log, err := zapCfg.Build()
	if err != nil {
		log = zap.NewExample()
		fmt.Fprintf(os.Stderr, "Failed to create initial zap logger, falling back to example logger: %v\n", err)
	}
	cleanup := func() {
		_ = log.Sync() //nolint:errcheck // stderr sync fails on some terminals
	}
	return log, cleanup, nil
}

// App holds every wired component. The CLI uses the services directly; Run serves the HTTP API.
type App struct {
	configProvider    config.Provider
	logger            domain.Logger
	httpServeMux      *http.ServeMux
	httpServer        *http.Server
	store             domain.KVStore
	publisher         domain.CredentialEventPublisher
	credentialService *application.CredentialService
	selector          *application.SessionSelector
	loginService      *application.LoginService
	handlers          *apphttp.CredentialHandlers
	eventHub          *appws.EventHub
	eventsHandler     *appws.Handler
	apiAuthMiddleware APIAuthMiddleware
}

// NewApp is the constructor for App, also for Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	store domain.KVStore,
	publisher domain.CredentialEventPublisher,
	credentialService *application.CredentialService,
	selector *application.SessionSelector,
	loginService *application.LoginService,
	handlers *apphttp.CredentialHandlers,
	eventHub *appws.EventHub,
	eventsHandler *appws.Handler,
	apiAuth APIAuthMiddleware,
) (*App, func(), error) {
	app := &App{
		configProvider:    cfgProvider,
		logger:            appLogger,
		httpServeMux:      mux,
		httpServer:        server,
		store:             store,
		publisher:         publisher,
		credentialService: credentialService,
		selector:          selector,
		loginService:      loginService,
		handlers:          handlers,
		eventHub:          eventHub,
		eventsHandler:     eventsHandler,
		apiAuthMiddleware: apiAuth,
	}
	cleanup := func() {
		// Let pending credential events go out before NATS drains.
		app.credentialService.Wait()
		if s, ok := app.logger.(interface{ Sync() error }); ok {
			_ = s.Sync() //nolint:errcheck
		}
	}
	return app, cleanup, nil
}

func (a *App) Config() *config.Config { return a.configProvider.Get() }
func (a *App) Logger() domain.Logger { return a.logger }
func (a *App) Credentials() *application.CredentialService { return a.credentialService }
func (a *App) Accounts() *application.SessionSelector { return a.selector }
func (a *App) Login() *application.LoginService { return a.loginService }

// ConfigProvider provides the application configuration.
func ConfigProvider(appCtx context.Context, log *zap.Logger, configFile config.ConfigFile) (config.Provider, error) {
	return config.NewViperProvider(appCtx, log, configFile)
}

// LoggerProvider provides the application logger.
func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	return logger.NewZapAdapter(cfgProvider, cfgProvider.Get().App.ServiceName)
}

// HTTPServeMuxProvider provides the main HTTP multiplexer.
func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides a new HTTP server configured for graceful shutdown.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	serverCfg := cfgProvider.Get().Server
	seconds := func(n, fallback int) time.Duration {
		if n <= 0 {
			n = fallback
		}
		return time.Duration(n) * time.Second
	}
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", serverCfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  seconds(serverCfg.ReadTimeoutSeconds, 10),
		WriteTimeout: seconds(serverCfg.WriteTimeoutSeconds, 30),
		IdleTimeout:  seconds(serverCfg.IdleTimeoutSeconds, 60),
	}
}

// RedisClientProvider connects to Redis when the store backend or the exchange
// lock needs it. Otherwise it returns a nil client.
func RedisClientProvider(cfgProvider config.Provider, appLogger domain.Logger) (redis.UniversalClient, func(), error) {
	appCfg := cfgProvider.Get()
	if appCfg.Store.Backend != "redis" && !appCfg.App.SerializeRefresh {
		return nil, func() {}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{appCfg.Redis.Address},
		Password: appCfg.Redis.Password,
		DB:       appCfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		appLogger.Error(context.Background(), "Failed to connect to Redis", "error", err.Error(), "address", appCfg.Redis.Address)
		_ = client.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", appCfg.Redis.Address, err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			appLogger.Warn(context.Background(), "Error closing Redis connection", "error", err.Error())
			return
		}
		appLogger.Debug(context.Background(), "Redis connection closed")
	}
	appLogger.Info(context.Background(), "Successfully connected to Redis", "address", appCfg.Redis.Address)
	return client, cleanup, nil
}

// KVStoreProvider selects the persistent store and wraps it with encryption when a key is configured.
func KVStoreProvider(cfgProvider config.Provider, redisClient redis.UniversalClient, appLogger domain.Logger) (domain.KVStore, error) {
	storeCfg := cfgProvider.Get().Store

	var store domain.KVStore
	switch storeCfg.Backend {
	case "redis":
		store = appredis.NewKVStoreAdapter(redisClient, storeCfg.KeyPrefix, appLogger)
	case "file", "":
		fs, err := filestore.New(storeCfg.Dir, appLogger)
		if err != nil {
			return nil, err
		}
		store = fs
	default:
		return nil, fmt.Errorf("unknown store backend %q", storeCfg.Backend)
	}

	if storeCfg.EncryptionKey == "" {
		return store, nil
	}
	encrypted, err := securestore.New(store, storeCfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("store encryption: %w", err)
	}
	return encrypted, nil
}

// ExchangeLockProvider returns the cross-process exchange lock, or nil when
// app.serialize_refresh is off.
func ExchangeLockProvider(cfgProvider config.Provider, redisClient redis.UniversalClient, appLogger domain.Logger) domain.ExchangeLockManager {
	appCfg := cfgProvider.Get()
	if !appCfg.App.SerializeRefresh || redisClient == nil {
		return nil
	}
	return appredis.NewExchangeLockAdapter(redisClient, appCfg.Store.KeyPrefix, appLogger)
}

// ClientOptionsProvider builds the Nintendo client options, discovering the current
// app version from the store listing when nintendo.discover_version is set.
func ClientOptionsProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) nintendo.ClientOptions {
	cfg := cfgProvider.Get()
	opts := nintendo.NewClientOptions(cfg)
	if !cfg.Nintendo.DiscoverVersion {
		return opts
	}
	version, err := nintendo.NewVersionResolver(cfg.Nintendo.PlayStoreURL, opts).Resolve(ctx)
	if err != nil {
		appLogger.Warn(ctx, "Failed to discover app version; using configured version", "version", opts.ZncaVersion, "error", err.Error())
		return opts
	}
	appLogger.Debug(ctx, "Discovered app version", "version", version)
	return opts.WithZncaVersion(version)
}

// AttestationTransportProvider selects the attestation transport once, from attestation.proxy_url.
func AttestationTransportProvider(cfgProvider config.Provider, opts nintendo.ClientOptions) domain.AttestationTransport {
	return nintendo.NewAttestationTransport(cfgProvider.Get().Attestation.ProxyURL, opts)
}

// NsoAuthenticatorProvider provides the unauthenticated znc client used for Login.
func NsoAuthenticatorProvider(opts nintendo.ClientOptions, attester nintendo.Attester) domain.NsoAuthenticator {
	return nintendo.NewZncClient(opts, "", attester)
}

// EventPublisherProvider publishes to NATS when nats.url is set. Otherwise the
// local event hub is the publisher and only this process's streams see events.
func EventPublisherProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger, hub *appws.EventHub) (domain.CredentialEventPublisher, func(), error) {
	if cfgProvider.Get().NATS.URL == "" {
		return hub, func() {}, nil
	}
	return appnats.NewEventPublisher(ctx, cfgProvider, appLogger)
}

// APIAuthMiddlewareProvider provides the API key middleware for /v1.
func APIAuthMiddlewareProvider(cfgProvider config.Provider, appLogger domain.Logger) APIAuthMiddleware {
	return middleware.APIKeyAuthMiddleware(cfgProvider, appLogger)
}

// ProviderSet is the Wire provider set for the entire application.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,

	// Storage
	RedisClientProvider,
	KVStoreProvider,
	ExchangeLockProvider,

	// Nintendo clients
	ClientOptionsProvider,
	nintendo.NewAccountClient,
	wire.Bind(new(domain.AccountProvider), new(*nintendo.AccountClient)),
	AttestationTransportProvider,
	NsoAuthenticatorProvider,
	nintendo.NewFactory,

	// Events
	appws.NewEventHub,
	EventPublisherProvider,
	appws.NewHandler,

	// Application services
	application.NewAttestationClient,
	wire.Bind(new(application.Attester), new(*application.AttestationClient)),
	wire.Bind(new(nintendo.Attester), new(*application.AttestationClient)),
	application.NewExchanger,
	application.NewSessionSelector,
	application.NewCredentialService,
	application.NewLoginService,

	// HTTP API
	apphttp.NewCredentialHandlers,
	wire.Bind(new(apphttp.CredentialProvider), new(*application.CredentialService)),
	wire.Bind(new(apphttp.AccountDirectory), new(*application.SessionSelector)),
	APIAuthMiddlewareProvider,

	NewApp,
)
