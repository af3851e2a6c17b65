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
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/di"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/handlers"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/auth"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/config"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/idempotency"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/observability"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/secrets"
)

const (
	meterName       = "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002"
	carrierSender   = "carrier"
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLoggerWithLevel(envValues["LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)
	meter := otel.GetMeterProvider().Meter(meterName)

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

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithMeter(meter),
		di.WithBuildVersion(buildInfo.Version),
	)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authLogger := observability.EventLogger(logger.Named("auth"), "auth")
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	signatures := auth.NewSignatureVerifier(auth.SignatureConfig{
		Secrets:         cfg.Security.HMAC.Secrets,
		SignatureHeader: cfg.Security.HMAC.SignatureHeader,
		TimestampHeader: cfg.Security.HMAC.TimestampHeader,
		NonceHeader:     cfg.Security.HMAC.NonceHeader,
		ClockSkew:       cfg.Security.HMAC.ClockSkew,
		NonceTTL:        cfg.Security.HMAC.NonceTTL,
		Nonces:          container.Idempotency,
		Logger:          authLogger,
		Meter:           meter,
	})
	if len(cfg.Security.HMAC.Secrets) == 0 {
		logger.Warn("auth: no webhook secrets configured; webhook routes will reject requests")
	}

	serviceTokens := auth.NewServiceTokenVerifier(auth.ServiceTokenConfig{
		Keys:     auth.NewKeySet(cfg.Security.OIDC.JWKSURL),
		Audience: cfg.Security.OIDC.Audience,
		Issuers:  cfg.Security.OIDC.Issuers,
		Logger:   authLogger,
		Meter:    meter,
	})
	if strings.TrimSpace(cfg.Security.OIDC.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}

	idempotencyMiddleware := idempotency.Middleware(container.Idempotency, idempotency.Config{
		Header: cfg.Idempotency.Header,
		TTL:    cfg.Idempotency.TTL,
		Logger: observability.EventLogger(logger.Named("idempotency"), "idempotency"),
	})

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweeper := idempotency.Sweeper{
		Store:    container.Idempotency,
		Interval: cfg.Idempotency.CleanupInterval,
		Batch:    cfg.Idempotency.CleanupBatchSize,
		Logger:   observability.EventLogger(logger.Named("idempotency"), "idempotency"),
	}
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		sweeper.Run(sweepCtx)
	}()

	lifecycleHandlers := handlers.NewLifecycleHandlers(container.Services.Lifecycle,
		handlers.WithLifecycleAuthenticator(authenticator),
		handlers.WithLifecycleIdempotency(idempotencyMiddleware),
		handlers.WithReturnRateLimit(cfg.RateLimits.ReturnRequestsPerMinute, time.Minute),
		handlers.WithLifecycleLogger(observability.EventLogger(logger.Named("http"), "lifecycle")),
	)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthRepository(container.Repositories.Health()),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithLifecycleRoutes(lifecycleHandlers),
		handlers.WithWebhookMiddlewares(
			signatures.RequireSignature(carrierSender),
			handlers.WebhookRateLimit(cfg.RateLimits.WebhookBurst, time.Minute),
		),
		handlers.WithInternalMiddlewares(serviceTokens.RequireServiceToken()),
	)

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
		serverLogger.Info("order lifecycle api listening",
			zap.String("version", buildInfo.Version),
			zap.String("storage", cfg.Storage.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	sweepCancel()
	sweepWG.Wait()

	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		normalised := make(map[string]string, len(projects))
		for label, project := range projects {
			normalised[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(normalised))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a value. The Stripe key is only
// mandatory in prod; webhook secrets are mandatory for every configured sender.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]), "prod") {
		required = append(required, "PSP.StripeAPIKey")
	}
	senders := parseKeyValueList(env["API_SECURITY_HMAC_SECRETS"])
	keys := make([]string, 0, len(senders))
	for key := range senders {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)
	for _, key := range keys {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return required
}

// secretVersionPins parses "name=version" pairs into secret:// references.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
