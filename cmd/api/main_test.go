package main

import (
	"reflect"
	"testing"
	"time"

	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/config"
)

func TestRequiredSecretNames(t *testing.T) {
	got := requiredSecretNames(map[string]string{
		"API_SECURITY_ENVIRONMENT": "prod",
		"API_SECURITY_HMAC_SECRETS": "Warehouse=secret://wh, carrier=secret://carrier",
	})
	want := []string{
		"PSP.StripeAPIKey",
		"Security.HMAC.Secrets[carrier]",
		"Security.HMAC.Secrets[warehouse]",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("requiredSecretNames = %v, want %v", got, want)
	}

	if got := requiredSecretNames(map[string]string{"API_SECURITY_ENVIRONMENT": "local"}); len(got) != 0 {
		t.Fatalf("expected no required secrets locally, got %v", got)
	}
}

func TestSecretVersionPins(t *testing.T) {
	got := secretVersionPins("sm://stripe-key=3, carrier-hmac=latest, broken")
	want := map[string]string{
		"secret://stripe-key":   "3",
		"secret://carrier-hmac": "latest",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("secretVersionPins = %v, want %v", got, want)
	}
}

func TestBuildInfoFromEnv(t *testing.T) {
	started := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	info := buildInfoFromEnv(map[string]string{"API_BUILD_VERSION": "1.4.0"}, config.Config{}, started)
	if info.Version != "1.4.0" || info.CommitSHA != "unknown" || info.Environment != "local" {
		t.Fatalf("unexpected build info %+v", info)
	}
	if !info.StartedAt.Equal(started) {
		t.Fatalf("expected start time to be kept")
	}
}
