package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func loadMap(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "shop-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "shop-dev" || cfg.PubSub.LifecycleTopic != defaultLifecycleTopic {
		t.Errorf("unexpected pubsub defaults: %+v", cfg.PubSub)
	}
	if cfg.Storage.Driver != DriverFirestore {
		t.Errorf("expected firestore driver by default, got %s", cfg.Storage.Driver)
	}
	if cfg.Firestore.TxAttempts != defaultFirestoreTxAttempts || cfg.Firestore.TxTimeout != defaultFirestoreTxTimeout {
		t.Errorf("unexpected transaction defaults: %+v", cfg.Firestore)
	}
	if cfg.Returns.WindowDays != 7 {
		t.Errorf("expected 7 day window, got %d", cfg.Returns.WindowDays)
	}
	if cfg.Returns.StoreCreditBonusBps != 500 {
		t.Errorf("expected 500 bps bonus, got %d", cfg.Returns.StoreCreditBonusBps)
	}
	if cfg.Returns.Currency != "VND" {
		t.Errorf("unexpected currency %s", cfg.Returns.Currency)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.Initial != 100*time.Millisecond {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
}

func TestLoadReturnsAliases(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		days    int
		bonus   int64
		invalid string
	}{
		{name: "primary keys", env: map[string]string{"API_RETURNS_WINDOW_DAYS": "14", "API_RETURNS_STORE_CREDIT_BONUS": "0.1"}, days: 14, bonus: 1000},
		{name: "legacy aliases", env: map[string]string{"RETURN_WINDOW_DAYS": "10", "BONUS_PERCENTAGE": "0.05"}, days: 10, bonus: 500},
		{name: "percentage", env: map[string]string{"BONUS_PERCENTAGE": "7.5"}, days: 7, bonus: 750},
		{name: "percent sign", env: map[string]string{"BONUS_PERCENTAGE": "3%"}, days: 7, bonus: 300},
		{name: "primary wins", env: map[string]string{"API_RETURNS_WINDOW_DAYS": "5", "RETURN_WINDOW_DAYS": "30"}, days: 5, bonus: 500},
		{name: "zero bonus", env: map[string]string{"API_RETURNS_STORE_CREDIT_BONUS": "0"}, days: 7, bonus: 0},
		{name: "garbage days", env: map[string]string{"RETURN_WINDOW_DAYS": "week"}, invalid: "Returns.WindowDays"},
		{name: "zero days", env: map[string]string{"RETURN_WINDOW_DAYS": "0"}, invalid: "Returns.WindowDays"},
		{name: "negative bonus", env: map[string]string{"BONUS_PERCENTAGE": "-0.1"}, invalid: "Returns.StoreCreditBonusBps"},
		{name: "bonus over 100 percent", env: map[string]string{"BONUS_PERCENTAGE": "150"}, invalid: "Returns.StoreCreditBonusBps"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := map[string]string{"API_STORAGE_DRIVER": "memory"}
			for k, v := range tc.env {
				env[k] = v
			}
			cfg, err := loadMap(t, env)
			if tc.invalid != "" {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if !slices.Contains(vErr.Fields(), tc.invalid) {
					t.Fatalf("expected %s in %v", tc.invalid, vErr.Fields())
				}
				return
			}
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if cfg.Returns.WindowDays != tc.days || cfg.Returns.StoreCreditBonusBps != tc.bonus {
				t.Fatalf("expected %d days %d bps, got %+v", tc.days, tc.bonus, cfg.Returns)
			}
		})
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_IDLE_TIMEOUT":            "2m",
		"API_FIREBASE_PROJECT_ID":            "shop-prod",
		"API_FIRESTORE_PROJECT_ID":           "shop-db",
		"API_FIRESTORE_TX_ATTEMPTS":          "8",
		"API_FIRESTORE_TX_TIMEOUT":           "20s",
		"API_STORAGE_ARCHIVE_BUCKET":         "shop-archive",
		"API_STORAGE_ARCHIVE_PREFIX":         "/archive/orders/",
		"API_PUBSUB_LIFECYCLE_TOPIC":         "lifecycle-prod",
		"API_PSP_STRIPE_API_KEY":             "secret://stripe/api",
		"API_PSP_SETTLEMENT_DELAY":           "120h",
		"API_RETURNS_CURRENCY":               "usd",
		"API_RETRY_MAX_ATTEMPTS":             "5",
		"API_RETRY_MULTIPLIER":               "1.5",
		"API_RATELIMIT_RETURNS_PER_MIN":      "3",
		"API_SECURITY_ENVIRONMENT":           "PROD",
		"API_SECURITY_OIDC_AUDIENCES":        "prod=https://lifecycle.example.com,stg=https://stg.example.com",
		"API_SECURITY_HMAC_SECRETS":          "carrier=secret://hmac/carrier,ghn=plain-secret",
		"API_SECURITY_HMAC_HEADER_SIGNATURE": "X-Carrier-Signature",
		"API_IDEMPOTENCY_TTL":                "48h",
	}
	secrets := map[string]string{
		"secret://stripe/api":   "sk_live",
		"secret://hmac/carrier": "carrier-hmac",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := loadMap(t, env, WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Firestore.TxAttempts != 8 || cfg.Firestore.TxTimeout != 20*time.Second {
		t.Errorf("unexpected transaction overrides: %+v", cfg.Firestore)
	}
	if cfg.Firestore.ProjectID != "shop-db" || cfg.PubSub.ProjectID != "shop-db" {
		t.Errorf("expected explicit firestore project to drive pubsub, got %+v %+v", cfg.Firestore, cfg.PubSub)
	}
	if cfg.Storage.ArchiveBucket != "shop-archive" || cfg.Storage.ArchivePrefix != "archive/orders" {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.PSP.StripeAPIKey != "sk_live" || cfg.PSP.SettlementDelay != 120*time.Hour {
		t.Errorf("unexpected psp config: %+v", cfg.PSP)
	}
	if cfg.Returns.Currency != "USD" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Returns.Currency)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.Multiplier != 1.5 {
		t.Errorf("unexpected retry config: %+v", cfg.Retry)
	}
	if cfg.RateLimits.ReturnRequestsPerMinute != 3 {
		t.Errorf("unexpected return rate limit %d", cfg.RateLimits.ReturnRequestsPerMinute)
	}
	if cfg.Security.Environment != "prod" || cfg.Security.OIDC.Audience != "https://lifecycle.example.com" {
		t.Errorf("expected environment audience, got %+v", cfg.Security)
	}
	if cfg.Security.HMAC.Secrets["carrier"] != "carrier-hmac" || cfg.Security.HMAC.Secrets["ghn"] != "plain-secret" {
		t.Errorf("unexpected hmac secrets %v", cfg.Security.HMAC.Secrets)
	}
	if cfg.Security.HMAC.SignatureHeader != "X-Carrier-Signature" {
		t.Errorf("unexpected signature header %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"shop-dot\"\nRETURN_WINDOW_DAYS=9\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "shop-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Returns.WindowDays != 9 {
		t.Errorf("expected window from dotenv, got %d", cfg.Returns.WindowDays)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "absent.env")),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_STORAGE_DRIVER": "memory"}),
	)
	if err != nil {
		t.Fatalf("expected missing dotenv to be ignored, got %v", err)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := loadMap(t, map[string]string{})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !slices.Contains(vErr.Fields(), "Firestore.ProjectID") {
		t.Fatalf("expected firestore project to be required, got %v", vErr.Fields())
	}
}

func TestLoadMemoryDriverNeedsNoProject(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{"API_STORAGE_DRIVER": "MEMORY"})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Fatalf("expected memory driver, got %s", cfg.Storage.Driver)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	_, err := loadMap(t, map[string]string{"API_STORAGE_DRIVER": "mongo"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || !slices.Contains(vErr.Fields(), "Storage.Driver") {
		t.Fatalf("expected Storage.Driver validation error, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	_, err := loadMap(t, map[string]string{
		"API_STORAGE_DRIVER":     "memory",
		"API_PSP_STRIPE_API_KEY": "secret://missing",
	})
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://stripe/api" {
			return "sk_legacy", nil
		}
		return "", errors.New("not found")
	})
	cfg, err := loadMap(t, map[string]string{
		"API_STORAGE_DRIVER":     "memory",
		"API_PSP_STRIPE_API_KEY": "sm://stripe/api",
	}, WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PSP.StripeAPIKey != "sk_legacy" {
		t.Fatalf("expected legacy secret, got %s", cfg.PSP.StripeAPIKey)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}
	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := loadMap(t, map[string]string{"API_STORAGE_DRIVER": "memory"}, WithRequiredSecrets("PSP.StripeAPIKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("PSP.StripeAPIKey") {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		missing, ok := recover().(*MissingSecretsError)
		if !ok {
			t.Fatal("expected MissingSecretsError panic")
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeAPIKey" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()
	_, _ = loadMap(t, map[string]string{"API_STORAGE_DRIVER": "memory"},
		WithRequiredSecrets("PSP.StripeAPIKey"),
		WithPanicOnMissingSecrets(),
	)
}
