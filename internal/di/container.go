package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/payments"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/auth"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/config"
	pfirestore "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/firestore"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/idempotency"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/jobs"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/observability"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/retry"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/storage"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
	firestoreRepo "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories/firestore"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories/memory"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

const (
	driverFirestore = "firestore"
	driverMemory    = "memory"

	providerStripe  = "stripe"
	providerLedger  = "ledger"
	providerFinance = "finance"

	closeTimeout = 5 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Lifecycle services.OrderLifecycleService
}

// IdempotencyStore backs both the idempotency middleware and webhook nonce replay protection.
type IdempotencyStore interface {
	idempotency.Store
	auth.NonceStore
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  IdempotencyStore
	Archive      storage.ObjectWriter

	closers []func(context.Context) error
}

type options struct {
	logger      *zap.Logger
	meter       metric.Meter
	clock       func() time.Time
	version     string
	registry    repositories.Registry
	idempotency IdempotencyStore
	notifier    services.LifecycleNotifier
	archive     storage.ObjectWriter
	refunds     services.RefundGateway
}

// Option customises NewContainer.
type Option func(*options)

// WithLogger sets the base logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeter registers lifecycle metrics against meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithClock overrides the clock used by services and providers.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBuildVersion stamps readiness reports with version.
func WithBuildVersion(version string) Option {
	return func(o *options) {
		o.version = strings.TrimSpace(version)
	}
}

// WithRegistry bypasses driver selection and uses reg.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithIdempotencyStore overrides the store chosen for the configured driver.
func WithIdempotencyStore(store IdempotencyStore) Option {
	return func(o *options) {
		o.idempotency = store
	}
}

// WithNotifier overrides the Pub/Sub publisher.
func WithNotifier(notifier services.LifecycleNotifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithArchiveWriter overrides the object writer receiving archived orders.
func WithArchiveWriter(writer storage.ObjectWriter) Option {
	return func(o *options) {
		o.archive = writer
	}
}

// WithRefundGateway overrides the payment provider routing.
func WithRefundGateway(gateway services.RefundGateway) Option {
	return func(o *options) {
		o.refunds = gateway
	}
}

// NewContainer constructs the runtime dependencies for cfg. Any resources opened before a
// failure are released before the error is returned.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{Config: cfg}
	if err := c.build(ctx, o); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if closeErr := c.Close(closeCtx); closeErr != nil {
			o.logger.Warn("di: cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, o options) error {
	driver := strings.ToLower(strings.TrimSpace(c.Config.Storage.Driver))
	if driver == "" {
		driver = driverFirestore
	}

	var provider *pfirestore.Provider
	switch {
	case o.registry != nil:
		c.Repositories = o.registry
	case driver == driverMemory:
		health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
			Name:  driverMemory,
			Check: func(context.Context) error { return nil },
		}}, repositories.WithBuildVersion(o.version))
		if err != nil {
			return fmt.Errorf("build health repository: %w", err)
		}
		c.Repositories = memory.NewRegistry(memory.NewStore(), health)
	case driver == driverFirestore:
		provider = pfirestore.NewProvider(c.Config.Firestore, pfirestore.WithTransactionOptions(
			pfirestore.WithTxAttempts(c.Config.Firestore.TxAttempts),
			pfirestore.WithTxTimeout(c.Config.Firestore.TxTimeout),
		))
		health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
			Name:  driverFirestore,
			Check: provider.Ping,
		}}, repositories.WithBuildVersion(o.version))
		if err != nil {
			return fmt.Errorf("build health repository: %w", err)
		}
		reg, err := firestoreRepo.NewRegistry(provider, health)
		if err != nil {
			return fmt.Errorf("build firestore registry: %w", err)
		}
		c.Repositories = reg
	default:
		return fmt.Errorf("unsupported storage driver %q", driver)
	}
	c.closers = append(c.closers, c.Repositories.Close)

	switch {
	case o.idempotency != nil:
		c.Idempotency = o.idempotency
	case provider != nil:
		c.Idempotency = idempotency.NewFirestoreStore(provider)
	default:
		c.Idempotency = idempotency.NewMemoryStore()
	}

	notifier := o.notifier
	if notifier == nil && driver != driverMemory {
		publisher, err := c.buildPublisher(ctx)
		if err != nil {
			return err
		}
		if publisher != nil {
			notifier = publisher
		}
	}
	if notifier == nil {
		o.logger.Info("di: lifecycle events are not published")
	}

	archive := o.archive
	if archive == nil {
		writer, err := c.buildArchiveWriter(ctx, driver)
		if err != nil {
			return err
		}
		archive = writer
	}
	c.Archive = archive
	archiver, err := storage.NewOrderArchiver(archive, c.Config.Storage.ArchivePrefix)
	if err != nil {
		return fmt.Errorf("build order archiver: %w", err)
	}

	refunds := o.refunds
	if refunds == nil {
		gateway, err := buildRefundGateway(c.Config, o.logger.Named("payments"), o.clock)
		if err != nil {
			return err
		}
		refunds = gateway
	}

	lifecycleDeps := services.OrderLifecycleServiceDeps{
		Orders:              c.Repositories.Orders(),
		Returns:             c.Repositories.Returns(),
		Refunds:             refunds,
		RefundRecords:       c.Repositories.Refunds(),
		Archiver:            archiver,
		ReturnWindowDays:    c.Config.Returns.WindowDays,
		StoreCreditBonusBps: c.Config.Returns.StoreCreditBonusBps,
		Currency:            c.Config.Returns.Currency,
		Retry: retry.Policy{
			MaxAttempts: c.Config.Retry.MaxAttempts,
			Initial:     c.Config.Retry.Initial,
			Max:         c.Config.Retry.Max,
			Multiplier:  c.Config.Retry.Multiplier,
		},
		Meter:  o.meter,
		Clock:  o.clock,
		Logger: observability.EventLogger(o.logger.Named("lifecycle"), "lifecycle"),
	}
	if notifier != nil {
		lifecycleDeps.Notifier = notifier
	}
	lifecycle, err := services.NewOrderLifecycleService(lifecycleDeps)
	if err != nil {
		return fmt.Errorf("build lifecycle service: %w", err)
	}
	c.Services.Lifecycle = lifecycle
	return nil
}

// buildPublisher returns nil when no lifecycle topic is configured.
func (c *Container) buildPublisher(ctx context.Context) (*jobs.LifecyclePublisher, error) {
	topicName := strings.TrimSpace(c.Config.PubSub.LifecycleTopic)
	if topicName == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, c.Config.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	publisher, err := jobs.NewLifecyclePublisher(client.Topic(topicName))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("build lifecycle publisher: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error {
		publisher.Stop()
		return client.Close()
	})
	return publisher, nil
}

func (c *Container) buildArchiveWriter(ctx context.Context, driver string) (storage.ObjectWriter, error) {
	bucket := strings.TrimSpace(c.Config.Storage.ArchiveBucket)
	if bucket == "" || driver == driverMemory {
		return storage.NewMemoryWriter(), nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("build storage client: %w", err)
	}
	writer, err := storage.NewBucketWriter(client, bucket)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("build archive writer: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error {
		return client.Close()
	})
	return writer, nil
}

// buildRefundGateway routes card reversals to Stripe, store credit to the ledger and bank
// transfers to the finance queue. Without a Stripe key card reversals are rejected, which is
// only accepted outside production.
func buildRefundGateway(cfg config.Config, logger *zap.Logger, clock func() time.Time) (*payments.RefundGateway, error) {
	logFn := observability.EventLogger(logger, "payments")
	providers := make(map[string]payments.Provider, 3)

	ledger, err := payments.NewManualProvider(payments.ManualProviderConfig{
		Name:            providerLedger,
		Kinds:           []payments.RefundKind{payments.KindStoreCredit},
		ReferencePrefix: "sc_",
		Clock:           clock,
		Logger:          logFn,
	})
	if err != nil {
		return nil, err
	}
	providers[providerLedger] = ledger

	finance, err := payments.NewManualProvider(payments.ManualProviderConfig{
		Name:            providerFinance,
		Kinds:           []payments.RefundKind{payments.KindBankTransfer},
		ReferencePrefix: "bt_",
		SettlementDelay: cfg.PSP.SettlementDelay,
		Clock:           clock,
		Logger:          logFn,
	})
	if err != nil {
		return nil, err
	}
	providers[providerFinance] = finance

	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:          cfg.PSP.StripeAPIKey,
			AccountID:       cfg.PSP.StripeAccountID,
			SettlementDelay: cfg.PSP.SettlementDelay,
			Clock:           clock,
			Logger:          logFn,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers[providerStripe] = stripe
	} else if strings.EqualFold(cfg.Security.Environment, "prod") {
		return nil, errors.New("stripe api key is required in prod")
	} else {
		logger.Warn("payments: stripe api key not configured; card reversals will be rejected")
	}

	manager, err := payments.NewManager(providers, payments.WithKindRoutes(map[payments.RefundKind]string{
		payments.KindCardReversal: providerStripe,
		payments.KindStoreCredit:  providerLedger,
		payments.KindBankTransfer: providerFinance,
	}), payments.WithDefaultProvider(""))
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return payments.NewRefundGateway(manager)
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
