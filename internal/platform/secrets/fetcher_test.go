package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *fakeAccessClient) Close() error { return nil }

func (c *fakeAccessClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func TestResolveCachesRemoteSecretUntilTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/shop/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "sk_remote"

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx,
		withClient(client),
		WithDefaultProject("shop"),
		WithFallbackFile(""),
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://stripe_api_key")
		if err != nil || got != "sk_remote" {
			t.Fatalf("resolve %d: %q %v", i, got, err)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}

	now = now.Add(time.Minute)
	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err != nil {
		t.Fatalf("resolve after ttl: %v", err)
	}
	if calls := client.callCount(resource); calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerDenies(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.errs["projects/shop/secrets/stripe_api_key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		withClient(client),
		WithDefaultProject("shop"),
		WithFallbackFile(writeFallback(t, "stripe_api_key=sk_local\n")),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "sm://stripe_api_key")
	if err != nil || got != "sk_local" {
		t.Fatalf("expected fallback value, got %q %v", got, err)
	}
}

func TestResolveSurfacesNonFallbackErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.errs["projects/shop/secrets/hmac/versions/latest"] = status.Error(codes.InvalidArgument, "bad")

	fetcher, _ := NewFetcher(ctx, withClient(client), WithDefaultProject("shop"), WithFallbackFile(""))
	if _, err := fetcher.Resolve(ctx, "secret://hmac"); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolveUsesVersionPinsAndProjectMap(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.values["projects/shop-prod/secrets/stripe_api_key/versions/5"] = "sk_v5"
	client.values["projects/override/secrets/carrier/versions/2"] = "carrier_v2"

	fetcher, _ := NewFetcher(ctx,
		withClient(client),
		WithEnvironment("PROD"),
		WithDefaultProject("shop-dev"),
		WithProjectMap(map[string]string{"prod": "shop-prod"}),
		WithVersionPins(map[string]string{"prod:secret://stripe_api_key": "5"}),
		WithFallbackFile(""),
	)

	if got, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err != nil || got != "sk_v5" {
		t.Fatalf("expected pinned version, got %q %v", got, err)
	}
	if got, err := fetcher.Resolve(ctx, "secret://carrier?version=2&project=override"); err != nil || got != "carrier_v2" {
		t.Fatalf("expected explicit project and version, got %q %v", got, err)
	}
}

func TestResolveWithoutClientUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (accessClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	fetcher, err := NewFetcher(ctx,
		WithDefaultProject("shop"),
		WithFallbackFile(writeFallback(t, "# local only\ncarrier_hmac.v3=v3-secret\ncarrier_hmac=\"latest-secret\"\n")),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if got, _ := fetcher.Resolve(ctx, "secret://carrier-hmac?version=3"); got != "v3-secret" {
		t.Fatalf("expected versioned fallback, got %q", got)
	}
	if got, _ := fetcher.Resolve(ctx, "secret://carrier-hmac"); got != "latest-secret" {
		t.Fatalf("expected latest fallback, got %q", got)
	}
	if _, err := fetcher.Resolve(ctx, "secret://unknown"); err == nil {
		t.Fatal("expected missing secret error")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/shop/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "sk_old"

	fetcher, _ := NewFetcher(ctx, withClient(client), WithDefaultProject("shop"), WithFallbackFile(""))
	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	client.mu.Lock()
	client.values[resource] = "sk_new"
	client.mu.Unlock()
	fetcher.Invalidate("secret://stripe_api_key")

	if got, _ := fetcher.Resolve(ctx, "secret://stripe_api_key"); got != "sk_new" {
		t.Fatalf("expected rotated value, got %q", got)
	}
}

func TestParseReferenceRejectsBadInput(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}
