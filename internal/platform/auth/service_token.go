package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/metric"
)

// ServiceIdentity is the caller of an internal endpoint, taken from a Google-signed token.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityKey struct{}

// ServiceIdentityFromContext returns the caller verified by RequireServiceToken.
func ServiceIdentityFromContext(ctx context.Context) (ServiceIdentity, bool) {
	id, ok := ctx.Value(serviceIdentityKey{}).(ServiceIdentity)
	return id, ok
}

// ServiceTokenConfig configures a ServiceTokenVerifier.
type ServiceTokenConfig struct {
	Keys     *KeySet
	Audience string
	Issuers  []string
	Clock    func() time.Time
	Logger   Logger
	Meter    metric.Meter
}

// ServiceTokenVerifier guards internal endpoints called by schedulers and other services with
// OIDC ID tokens (Authorization bearer or the IAP assertion header).
type ServiceTokenVerifier struct {
	keys     *KeySet
	audience string
	issuers  []string
	now      func() time.Time
	logger   Logger
	metrics  verificationMetrics
}

// NewServiceTokenVerifier builds a verifier. An empty issuer list accepts any issuer.
func NewServiceTokenVerifier(cfg ServiceTokenConfig) *ServiceTokenVerifier {
	v := &ServiceTokenVerifier{
		keys:     cfg.Keys,
		audience: strings.TrimSpace(cfg.Audience),
		now:      cfg.Clock,
		logger:   cfg.Logger,
		metrics:  newVerificationMetrics("oidc", cfg.Meter),
	}
	for _, issuer := range cfg.Issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuers = append(v.issuers, issuer)
		}
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.logger == nil {
		v.logger = noopLogger
	}
	return v
}

// RequireServiceToken rejects requests without a valid token for the configured audience.
func (v *ServiceTokenVerifier) RequireServiceToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()
			identity, rej := v.verify(r)
			if rej != nil {
				v.metrics.record(ctx, rej.reason, start, v.now())
				v.logger(ctx, "auth.service_token.failed", map[string]any{"reason": rej.reason})
				rej.write(ctx, w)
				return
			}
			v.metrics.record(ctx, "ok", start, v.now())
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, serviceIdentityKey{}, identity)))
		})
	}
}

func (v *ServiceTokenVerifier) verify(r *http.Request) (ServiceIdentity, *rejection) {
	if v.audience == "" || v.keys == nil {
		return ServiceIdentity{}, reject(http.StatusServiceUnavailable, "verification_unavailable", "not_configured", "service token verification not configured")
	}
	raw := serviceToken(r)
	if raw == "" {
		return ServiceIdentity{}, reject(http.StatusUnauthorized, "unauthenticated", "token_missing", "service token missing")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(raw, claims, v.keys.Keyfunc(r.Context())); err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return ServiceIdentity{}, reject(http.StatusServiceUnavailable, "verification_unavailable", "keys_unavailable", "signing keys unavailable")
		}
		return ServiceIdentity{}, reject(http.StatusUnauthorized, "invalid_token", "token_invalid", "service token invalid")
	}

	issuer, _ := claims["iss"].(string)
	if len(v.issuers) > 0 && !slices.Contains(v.issuers, issuer) {
		return ServiceIdentity{}, reject(http.StatusUnauthorized, "invalid_token", "issuer_mismatch", "service token issuer not accepted")
	}
	if !claims.VerifyAudience(v.audience, true) {
		return ServiceIdentity{}, reject(http.StatusUnauthorized, "invalid_token", "audience_mismatch", "service token audience mismatch")
	}
	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	return ServiceIdentity{Subject: subject, Email: email, Issuer: issuer}, nil
}

func serviceToken(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}
