// Package config loads runtime configuration from defaults, a .env file, the process
// environment and Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultStorageDriver       = DriverFirestore
	defaultArchivePrefix       = "orders/archive"
	defaultLifecycleTopic      = "order-lifecycle"
	defaultSettlementDelay     = 10 * 24 * time.Hour
	defaultReturnWindowDays    = 7
	defaultStoreCreditBonusBps = 500
	defaultCurrency            = "VND"
	defaultRetryAttempts       = 3
	defaultRetryInitial        = 100 * time.Millisecond
	defaultRetryMax            = 2 * time.Second
	defaultRetryMultiplier     = 2.0
	defaultReturnRequestsLimit = 10
	defaultWebhookBurst        = 60
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultSecurityIAPIssuer   = "https://cloud.google.com/iap"
	defaultHMACSignatureHeader = "X-Signature"
	defaultHMACTimestampHeader = "X-Signature-Timestamp"
	defaultHMACNonceHeader     = "X-Signature-Nonce"
	defaultHMACClockSkew       = 5 * time.Minute
	defaultHMACNonceTTL        = 5 * time.Minute
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultFirestoreTxAttempts = 5
	defaultFirestoreTxTimeout  = 15 * time.Second
)

const (
	// DriverFirestore persists orders, returns and refunds in Firestore.
	DriverFirestore = "firestore"
	// DriverMemory keeps everything in process; used for local runs and tests.
	DriverMemory = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	PSP         PSPConfig
	Returns     ReturnsConfig
	Retry       RetryConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	// TxAttempts and TxTimeout bound each read-check-write transaction.
	TxAttempts int
	TxTimeout  time.Duration
}

// StorageConfig selects the persistence driver and the bucket receiving archived orders.
type StorageConfig struct {
	Driver        string
	ArchiveBucket string
	ArchivePrefix string
}

// PubSubConfig names the topic receiving lifecycle events. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID      string
	LifecycleTopic string
}

// PSPConfig collects payment provider settings.
type PSPConfig struct {
	StripeAPIKey    string
	StripeAccountID string
	SettlementDelay time.Duration
}

// ReturnsConfig holds the business constants of the returns flow.
type ReturnsConfig struct {
	WindowDays          int
	StoreCreditBonusBps int64
	Currency            string
}

// RetryConfig bounds retries of conflicting writes and upstream calls.
type RetryConfig struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	ReturnRequestsPerMinute int
	WebhookBurst            int
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// HMACConfig captures webhook signing expectations.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "PSP.StripeAPIKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets makes Load panic instead of returning MissingSecretsError.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// EnvironmentValues returns the merged environment (dotenv < process env < explicit map) so
// callers can build dependencies, such as the secret fetcher, before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := lookupFunc(func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	})

	var invalid []string
	windowDays, ok := lookup.integer(defaultReturnWindowDays, "API_RETURNS_WINDOW_DAYS", "RETURN_WINDOW_DAYS")
	if !ok {
		invalid = append(invalid, "Returns.WindowDays")
	}
	bonusBps, ok := lookup.basisPoints(defaultStoreCreditBonusBps, "API_RETURNS_STORE_CREDIT_BONUS", "BONUS_PERCENTAGE")
	if !ok {
		invalid = append(invalid, "Returns.StoreCreditBonusBps")
	}
	retryAttempts, ok := lookup.integer(defaultRetryAttempts, "API_RETRY_MAX_ATTEMPTS")
	if !ok {
		invalid = append(invalid, "Retry.MaxAttempts")
	}
	returnLimit, _ := lookup.integer(defaultReturnRequestsLimit, "API_RATELIMIT_RETURNS_PER_MIN")
	webhookBurst, _ := lookup.integer(defaultWebhookBurst, "API_RATELIMIT_WEBHOOK_BURST")
	cleanupBatch, _ := lookup.integer(defaultIdempotencyBatch, "API_IDEMPOTENCY_CLEANUP_BATCH")
	txAttempts, ok := lookup.integer(defaultFirestoreTxAttempts, "API_FIRESTORE_TX_ATTEMPTS")
	if !ok || txAttempts <= 0 {
		invalid = append(invalid, "Firestore.TxAttempts")
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         lookup.str(defaultPort, "API_SERVER_PORT", "PORT"),
			ReadTimeout:  lookup.duration(defaultReadTimeout, "API_SERVER_READ_TIMEOUT"),
			WriteTimeout: lookup.duration(defaultWriteTimeout, "API_SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  lookup.duration(defaultIdleTimeout, "API_SERVER_IDLE_TIMEOUT"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       lookup.str("", "API_FIREBASE_PROJECT_ID"),
			CredentialsFile: lookup.str("", "API_FIREBASE_CREDENTIALS_FILE"),
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup.str("", "API_FIRESTORE_PROJECT_ID"),
			EmulatorHost: lookup.str("", "API_FIRESTORE_EMULATOR_HOST", "FIRESTORE_EMULATOR_HOST"),
			TxAttempts:   txAttempts,
			TxTimeout:    lookup.duration(defaultFirestoreTxTimeout, "API_FIRESTORE_TX_TIMEOUT"),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(lookup.str(defaultStorageDriver, "API_STORAGE_DRIVER")),
			ArchiveBucket: lookup.str("", "API_STORAGE_ARCHIVE_BUCKET"),
			ArchivePrefix: strings.Trim(lookup.str(defaultArchivePrefix, "API_STORAGE_ARCHIVE_PREFIX"), "/"),
		},
		PubSub: PubSubConfig{
			ProjectID:      lookup.str("", "API_PUBSUB_PROJECT_ID"),
			LifecycleTopic: lookup.str(defaultLifecycleTopic, "API_PUBSUB_LIFECYCLE_TOPIC"),
		},
		PSP: PSPConfig{
			StripeAPIKey:    lookup.str("", "API_PSP_STRIPE_API_KEY"),
			StripeAccountID: lookup.str("", "API_PSP_STRIPE_ACCOUNT_ID"),
			SettlementDelay: lookup.duration(defaultSettlementDelay, "API_PSP_SETTLEMENT_DELAY"),
		},
		Returns: ReturnsConfig{
			WindowDays:          windowDays,
			StoreCreditBonusBps: bonusBps,
			Currency:            strings.ToUpper(lookup.str(defaultCurrency, "API_RETURNS_CURRENCY")),
		},
		Retry: RetryConfig{
			MaxAttempts: retryAttempts,
			Initial:     lookup.duration(defaultRetryInitial, "API_RETRY_INITIAL_BACKOFF"),
			Max:         lookup.duration(defaultRetryMax, "API_RETRY_MAX_BACKOFF"),
			Multiplier:  lookup.float(defaultRetryMultiplier, "API_RETRY_MULTIPLIER"),
		},
		RateLimits: RateLimitConfig{
			ReturnRequestsPerMinute: returnLimit,
			WebhookBurst:            webhookBurst,
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(lookup.str(defaultSecurityEnvironment, "API_SECURITY_ENVIRONMENT")),
			OIDC: OIDCConfig{
				JWKSURL:   lookup.str(defaultOIDCJWKSURL, "API_SECURITY_OIDC_JWKS_URL"),
				Audience:  lookup.str("", "API_SECURITY_OIDC_AUDIENCE"),
				Audiences: lookup.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   lookup.csv("API_SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:         lookup.pairs("API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: lookup.str(defaultHMACSignatureHeader, "API_SECURITY_HMAC_HEADER_SIGNATURE"),
				TimestampHeader: lookup.str(defaultHMACTimestampHeader, "API_SECURITY_HMAC_HEADER_TIMESTAMP"),
				NonceHeader:     lookup.str(defaultHMACNonceHeader, "API_SECURITY_HMAC_HEADER_NONCE"),
				ClockSkew:       lookup.duration(defaultHMACClockSkew, "API_SECURITY_HMAC_CLOCK_SKEW"),
				NonceTTL:        lookup.duration(defaultHMACNonceTTL, "API_SECURITY_HMAC_NONCE_TTL"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           lookup.str(defaultIdempotencyHeader, "API_IDEMPOTENCY_HEADER"),
			TTL:              lookup.duration(defaultIdempotencyTTL, "API_IDEMPOTENCY_TTL"),
			CleanupInterval:  lookup.duration(defaultIdempotencyInterval, "API_IDEMPOTENCY_CLEANUP_INTERVAL"),
			CleanupBatchSize: cleanupBatch,
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved, err := resolveSecrets(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}

	if err := validate(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// resolveSecrets replaces secret references in place and returns every secret field by name.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	resolved := make(map[string]string)
	resolve := func(name string, field *string) error {
		value, err := resolveSecret(ctx, *field, resolver)
		if err != nil {
			return err
		}
		*field = value
		resolved[name] = strings.TrimSpace(value)
		return nil
	}

	if err := resolve("PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey); err != nil {
		return nil, err
	}
	for key, value := range cfg.Security.HMAC.Secrets {
		if err := resolve(fmt.Sprintf("Security.HMAC.Secrets[%s]", key), &value); err != nil {
			return nil, err
		}
		cfg.Security.HMAC.Secrets[key] = value
	}
	return resolved, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validate(cfg Config, invalid []string) error {
	fields := append([]string(nil), invalid...)
	add := func(bad bool, name string) {
		if bad {
			fields = append(fields, name)
		}
	}

	add(cfg.Server.Port == "", "Server.Port")
	switch cfg.Storage.Driver {
	case DriverFirestore:
		add(cfg.Firestore.ProjectID == "", "Firestore.ProjectID")
	case DriverMemory:
	default:
		fields = append(fields, "Storage.Driver")
	}
	add(cfg.Returns.WindowDays <= 0, "Returns.WindowDays")
	add(cfg.Returns.StoreCreditBonusBps < 0 || cfg.Returns.StoreCreditBonusBps > 10000, "Returns.StoreCreditBonusBps")
	add(len(cfg.Returns.Currency) != 3, "Returns.Currency")
	add(cfg.Retry.MaxAttempts <= 0, "Retry.MaxAttempts")
	add(cfg.Retry.Multiplier < 1, "Retry.Multiplier")
	add(strings.TrimSpace(cfg.Idempotency.Header) == "", "Idempotency.Header")
	add(cfg.Idempotency.TTL <= 0, "Idempotency.TTL")
	add(cfg.Idempotency.CleanupInterval <= 0, "Idempotency.CleanupInterval")
	add(cfg.Idempotency.CleanupBatchSize <= 0, "Idempotency.CleanupBatchSize")

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}
