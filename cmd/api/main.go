package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nilemarket/storefront/internal/di"
	"github.com/nilemarket/storefront/internal/handlers"
	"github.com/nilemarket/storefront/internal/payments"
	"github.com/nilemarket/storefront/internal/platform/auth"
	"github.com/nilemarket/storefront/internal/platform/cache"
	"github.com/nilemarket/storefront/internal/platform/config"
	pfirestore "github.com/nilemarket/storefront/internal/platform/firestore"
	"github.com/nilemarket/storefront/internal/platform/idempotency"
	"github.com/nilemarket/storefront/internal/platform/jobs"
	"github.com/nilemarket/storefront/internal/platform/observability"
	"github.com/nilemarket/storefront/internal/platform/secrets"
	"github.com/nilemarket/storefront/internal/platform/session"
	"github.com/nilemarket/storefront/internal/repositories"
	firestoreRepo "github.com/nilemarket/storefront/internal/repositories/firestore"
	"github.com/nilemarket/storefront/internal/services"
)

const envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	var cartCache *cache.CartCache
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisClient, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			// Carts are read from Firestore when the cache is unavailable.
			logger.Warn("cart cache disabled", zap.Error(err))
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close error", zap.Error(err))
				}
			}()
			cartCache = cache.NewCartCache(redisClient, cache.WithTTL(cfg.Redis.CartTTL))
		}
	}

	pubsubClient, err := newPubSubClient(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	orderTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
	defer orderTopic.Stop()
	cleanupTopic := pubsubClient.Topic(cfg.PubSub.CleanupTopic)
	defer cleanupTopic.Stop()

	eventPublisher, err := jobs.NewPubSubOrderEventPublisher(orderTopic)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	cleanupPublisher, err := jobs.NewPubSubCleanupPublisher(cleanupTopic)
	if err != nil {
		logger.Fatal("failed to initialise cleanup publisher", zap.Error(err))
	}

	metrics, err := observability.NewMetrics(otel.Meter("storefront/api"))
	if err != nil {
		logger.Fatal("failed to initialise metrics", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreProvider, cartCache, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	infra := di.Infrastructure{
		Metrics: metrics,
		Events:  eventPublisher,
		Cleanup: cleanupPublisher,
		Logger:  observability.EventLogger(logger.Named("services")),
		Build:   buildInfo,
		Clock:   time.Now,
	}
	if cartCache != nil {
		infra.CartCache = cartCache
	}

	container, err := di.NewContainer(cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()
	svc := container.Services

	sessions, err := session.NewManager(cfg.Session)
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	var opts []handlers.Option

	stripeVerifier, err := payments.NewStripeWebhookVerifier(cfg.Stripe.WebhookSecret)
	if err != nil {
		logger.Warn("payments: stripe webhooks disabled", zap.Error(err))
	} else {
		webhookHandlers := handlers.NewPaymentWebhookHandlers(stripeVerifier, svc.Orders)
		opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
	}

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)
	if oidcMiddleware != nil {
		internalHandlers := handlers.NewInternalJobHandlers(svc.Orders)
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
		opts = append(opts, handlers.WithInternalRoutes(internalHandlers.Routes))
	} else {
		logger.Warn("auth: OIDC not configured; internal routes disabled")
	}

	cartHandlers := handlers.NewCartHandlers(sessions, svc.Cart)
	shippingHandlers := handlers.NewShippingHandlers(svc.Shipping)
	checkoutHandlers := handlers.NewCheckoutHandlers(sessions, svc.Addresses)
	orderHandlers := handlers.NewOrderHandlers(svc.Cart, svc.Addresses, svc.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithShopperMiddlewares(
		sessions.Middleware,
		handlers.MutationRateLimit(cfg.Server.MutationLimit, cfg.Server.MutationWindow, nil),
	))
	opts = append(opts, handlers.WithCartRoutes(cartHandlers.Routes))
	opts = append(opts, handlers.WithShippingRoutes(shippingHandlers.Routes))
	opts = append(opts, handlers.WithCheckoutRoutes(checkoutHandlers.Routes))
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["STOREFRONT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["STOREFRONT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, error) {
	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		// The client library only honours the emulator through the environment.
		if os.Getenv(envPubSubEmulatorHost) == "" {
			_ = os.Setenv(envPubSubEmulatorHost, host)
		}
		opts = append(opts, option.WithoutAuthentication())
	}
	return pubsub.NewClient(ctx, cfg.ProjectID, opts...)
}

// newHealthRepository assembles the readiness probes. Firestore is required; the cart cache and
// Secret Manager only degrade the report.
func newHealthRepository(provider *pfirestore.Provider, cartCache *cache.CartCache, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   provider.Ping,
	}}
	if cartCache != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "cartCache",
			Timeout:  500 * time.Millisecond,
			Optional: true,
			Check:    cartCache.Ping,
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	jwks := auth.NewJWKSCache(cfg.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(jwks, auth.WithOIDCLogger(adapter))

	audience := strings.TrimSpace(cfg.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("STOREFRONT_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("STOREFRONT_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("STOREFRONT_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("STOREFRONT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("STOREFRONT_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve before the server starts. The Stripe
// secret is only required outside local environments so developers can run without webhooks.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Session.SigningKey"}
	envLabel := ""
	if env != nil {
		envLabel = strings.ToLower(strings.TrimSpace(env["STOREFRONT_ENVIRONMENT"]))
		if strings.TrimSpace(env["STOREFRONT_REDIS_PASSWORD"]) != "" {
			required = append(required, "Redis.Password")
		}
	}
	if envLabel != "" && envLabel != "local" {
		required = append(required, "Stripe.WebhookSecret")
	}
	return uniqueStrings(required)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["STOREFRONT_SECRET_PROJECT_IDS"]
	}
	projects := make(map[string]string)
	for envLabel, project := range parseKeyValueList(raw) {
		projects[strings.ToLower(envLabel)] = project
	}
	return projects
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["STOREFRONT_SECRET_VERSION_PINS"]
	}
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

// parseKeyValueList parses "k1=v1,k2=v2". Entries missing either side are skipped.
func parseKeyValueList(raw string) map[string]string {
	values := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		values[key] = value
	}
	return values
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
