package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/language"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/pagination"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/retry"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/textutil"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
)

const (
	orderIDPrefix  = "ord_"
	returnIDPrefix = "ret_"
	refundIDPrefix = "rfd_"

	eventOrderCancelled  = "order.cancelled"
	eventOrderDelivered  = "order.delivered"
	eventOrderReturned   = "order.returned"
	eventReturnCompleted = "return.completed"
	eventReturnRejected  = "return.rejected"

	defaultCurrency = "VND"
	cascadeNote     = "all items returned"
)

// refundKeyNamespace scopes the UUIDv5 refund idempotency keys derived from return ids.
var refundKeyNamespace = uuid.MustParse("5f0c8a52-2d4e-4c61-9a0b-6e2f8d7c1b34")

var errRefundNotInitiated = errors.New("refund was not initiated")

// OrderLifecycleServiceDeps bundles collaborators required to construct the lifecycle service.
type OrderLifecycleServiceDeps struct {
	Orders   repositories.OrderRepository
	Returns  repositories.ReturnRepository
	Refunds  RefundGateway
	Notifier LifecycleNotifier
	Archiver OrderArchiver
	// RefundRecords reads the refunds stored alongside return transitions.
	RefundRecords repositories.RefundRepository

	ReturnWindowDays    int
	StoreCreditBonusBps int64
	Currency            string

	Retry       retry.Policy
	Sleep       retry.Sleeper
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderLifecycleService struct {
	orders   repositories.OrderRepository
	returns  repositories.ReturnRepository
	refunds  RefundGateway
	notifier LifecycleNotifier
	archiver OrderArchiver
	records  repositories.RefundRepository

	eligibility   ReturnEligibilityEvaluator
	calculator    RefundCalculator
	orderMachine  OrderStateMachine
	returnMachine ReturnStateMachine
	timeline      TimelineBuilder
	currency      string

	retryPolicy retry.Policy
	sleep       retry.Sleeper
	metrics     lifecycleMetrics
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewOrderLifecycleService wires dependencies into a concrete OrderLifecycleService.
func NewOrderLifecycleService(deps OrderLifecycleServiceDeps) (OrderLifecycleService, error) {
	if deps.Orders == nil {
		return nil, errors.New("lifecycle service: order repository is required")
	}
	if deps.Returns == nil {
		return nil, errors.New("lifecycle service: return repository is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("lifecycle service: refund gateway is required")
	}
	if deps.RefundRecords == nil {
		return nil, errors.New("lifecycle service: refund repository is required")
	}

	windowDays := deps.ReturnWindowDays
	if windowDays == 0 {
		windowDays = DefaultReturnWindowDays
	}
	eligibility, err := NewReturnEligibilityEvaluator(windowDays)
	if err != nil {
		return nil, fmt.Errorf("lifecycle service: %w", err)
	}
	calculator, err := NewRefundCalculator(deps.StoreCreditBonusBps)
	if err != nil {
		return nil, fmt.Errorf("lifecycle service: %w", err)
	}

	metrics := noopLifecycleMetrics()
	if deps.Meter != nil {
		if metrics, err = newLifecycleMetrics(deps.Meter); err != nil {
			return nil, fmt.Errorf("lifecycle service: register metrics: %w", err)
		}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	timeline := NewTimelineBuilder()
	return &orderLifecycleService{
		orders:        deps.Orders,
		returns:       deps.Returns,
		refunds:       deps.Refunds,
		notifier:      deps.Notifier,
		archiver:      deps.Archiver,
		records:       deps.RefundRecords,
		eligibility:   eligibility,
		calculator:    calculator,
		orderMachine:  NewOrderStateMachine(timeline),
		returnMachine: NewReturnStateMachine(timeline),
		timeline:      timeline,
		currency:      currency,
		retryPolicy:   deps.Retry,
		sleep:         deps.Sleep,
		metrics:       metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderLifecycleService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return domain.Order{}, fmt.Errorf("%w: customer id is required", ErrValidation)
	}
	if cmd.Actor.Kind == domain.ActorCustomer && cmd.Actor.ID != customerID {
		return domain.Order{}, fmt.Errorf("%w: customers may only place their own orders", ErrForbidden)
	}
	method, err := domain.ParsePaymentMethod(string(cmd.PaymentMethod))
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	paymentIntent := strings.TrimSpace(cmd.PaymentIntentID)
	if method == domain.PaymentMethodCard && paymentIntent == "" {
		return domain.Order{}, fmt.Errorf("%w: card orders require a payment intent id", ErrValidation)
	}
	items, subtotal, err := normaliseOrderItems(cmd.Items)
	if err != nil {
		return domain.Order{}, err
	}
	address, err := normaliseAddress(cmd.ShippingAddress)
	if err != nil {
		return domain.Order{}, err
	}
	totals, err := s.computeTotals(subtotal, cmd.ShippingFee, cmd.Discount)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.clock()
	actor := cmd.Actor
	if actor.ID == "" {
		actor = domain.Actor{ID: customerID, Kind: domain.ActorCustomer}
	}
	order := domain.Order{
		ID:              orderIDPrefix + s.newID(),
		CustomerID:      customerID,
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   method,
		PaymentIntentID: paymentIntent,
		Totals:          totals,
		Status:          domain.OrderStatusPending,
		Timeline:        []domain.TimelineEntry{s.orderMachine.Initial(now, actor)},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.withRetry(ctx, false, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			// An earlier attempt may have committed before its error surfaced.
			if stored, found, err := s.lookupOrder(ctx, order.ID); err != nil || (found && stored.CustomerID == order.CustomerID) {
				return err
			}
		}
		return mapRepositoryError(s.orders.Insert(ctx, order))
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":  order.ID,
		"customer": customerID,
		"total":    totals.Total,
		"items":    len(items),
	})
	return order, nil
}

func (s *orderLifecycleService) GetOrder(ctx context.Context, orderID string, viewer domain.Actor) (domain.Order, error) {
	order, err := s.readOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := authorizeOwner(viewer, order.CustomerID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderLifecycleService) TransitionOrder(ctx context.Context, cmd OrderTransitionCommand) (domain.Order, error) {
	target, err := domain.ParseOrderStatus(string(cmd.Target))
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	cmd.Target = target
	return s.transitionOrder(ctx, cmd, false)
}

func (s *orderLifecycleService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	return s.transitionOrder(ctx, OrderTransitionCommand{
		OrderID:         cmd.OrderID,
		Target:          domain.OrderStatusCancelled,
		Note:            cmd.Reason,
		Actor:           cmd.Actor,
		ExpectedVersion: cmd.ExpectedVersion,
	}, false)
}

func (s *orderLifecycleService) transitionOrder(ctx context.Context, cmd OrderTransitionCommand, cascade bool) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if cmd.ExpectedVersion < 0 {
		return domain.Order{}, fmt.Errorf("%w: expected version must not be negative", ErrValidation)
	}

	ctx, span := startSpan(ctx, "lifecycle.TransitionOrder",
		attribute.String("order.id", orderID),
		attribute.String("order.target", string(cmd.Target)),
	)
	defer span.End()

	pinned := cmd.ExpectedVersion > 0
	note := textutil.SanitizeNote(cmd.Note)
	var (
		updated  domain.Order
		previous domain.OrderStatus
	)
	err := s.withRetry(ctx, pinned, func(ctx context.Context, _ int) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if err := authorizeOrderTransition(cmd.Actor, order, cmd.Target); err != nil {
			return err
		}
		if pinned && order.Version != cmd.ExpectedVersion {
			return fmt.Errorf("%w: order %s is at version %d, expected %d", ErrConcurrencyConflict, orderID, order.Version, cmd.ExpectedVersion)
		}
		mutation, err := s.orderMachine.Apply(order, OrderTransition{
			Target:         cmd.Target,
			TrackingNumber: cmd.TrackingNumber,
			Carrier:        cmd.Carrier,
			DeliveredAt:    cmd.DeliveredAt,
			ReturnCascade:  cascade,
			Actor:          cmd.Actor,
			Note:           note,
			At:             s.clock(),
		})
		if err != nil {
			return err
		}
		previous = order.Status
		updated, err = s.orders.ApplyTransition(ctx, mutation)
		return mapRepositoryError(err)
	})
	if err != nil {
		recordSpanError(span, err)
		return domain.Order{}, err
	}

	s.metrics.orderTransitioned(ctx, string(previous), string(updated.Status))
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(updated.Status),
		"actor":   cmd.Actor.String(),
		"version": updated.Version,
	})
	s.afterOrderTransition(ctx, previous, updated, cmd.Actor)
	return updated, nil
}

func (s *orderLifecycleService) afterOrderTransition(ctx context.Context, previous domain.OrderStatus, order domain.Order, actor domain.Actor) {
	var eventType string
	switch order.Status {
	case domain.OrderStatusCancelled:
		eventType = eventOrderCancelled
	case domain.OrderStatusDelivered:
		eventType = eventOrderDelivered
	case domain.OrderStatusReturned:
		eventType = eventOrderReturned
	}
	if eventType != "" && slices.Contains(notifiedOrderStatuses, order.Status) {
		s.publish(ctx, LifecycleEvent{
			Type:           eventType,
			EntityID:       order.ID,
			OrderID:        order.ID,
			CustomerID:     order.CustomerID,
			PreviousStatus: string(previous),
			CurrentStatus:  string(order.Status),
			Actor:          actor.String(),
			Amount:         order.Totals.Total,
			Currency:       order.Totals.Currency,
			OccurredAt:     order.UpdatedAt,
		})
	}

	if order.Archived && s.archiver != nil {
		if err := s.archiver.ArchiveOrder(ctx, order); err != nil {
			s.logger(ctx, "order.archive.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}
}

func (s *orderLifecycleService) CheckEligibility(ctx context.Context, orderID string, viewer domain.Actor) (Eligibility, error) {
	order, err := s.GetOrder(ctx, orderID, viewer)
	if err != nil {
		return Eligibility{}, err
	}
	existing, err := s.returns.ListByOrder(ctx, order.ID)
	if err != nil {
		return Eligibility{}, mapRepositoryError(err)
	}
	return s.eligibility.Evaluate(order, existing, nil, s.clock()), nil
}

func (s *orderLifecycleService) OrderTimeline(ctx context.Context, orderID string, viewer domain.Actor, locale language.Tag) ([]domain.TimelineEntry, error) {
	order, err := s.GetOrder(ctx, orderID, viewer)
	if err != nil {
		return nil, err
	}
	return s.timeline.Relabel(TimelineOrder, order.Timeline, locale), nil
}

func (s *orderLifecycleService) ReconcileOrderReturns(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	if actor.Kind == domain.ActorCustomer {
		return domain.Order{}, fmt.Errorf("%w: reconciliation is a staff operation", ErrForbidden)
	}
	return s.cascadeOrder(ctx, orderID)
}

// cascadeOrder marks a delivered order returned once completed returns cover every unit.
// It returns the order unchanged when the condition does not hold.
func (s *orderLifecycleService) cascadeOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.readOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusDelivered {
		return order, nil
	}
	returns, err := s.returns.ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	if !FullyReturned(order, returns) {
		return order, nil
	}
	return s.transitionOrder(ctx, OrderTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusReturned,
		Note:    cascadeNote,
		Actor:   domain.SystemActor,
	}, true)
}

func (s *orderLifecycleService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (domain.ReturnRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	method, err := domain.ParseRefundMethod(string(cmd.RefundMethod))
	if err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	requested, err := normaliseReturnItems(cmd.Items, cmd.Reason)
	if err != nil {
		return domain.ReturnRequest{}, err
	}

	ctx, span := startSpan(ctx, "lifecycle.RequestReturn", attribute.String("order.id", orderID))
	defer span.End()

	order, err := s.GetOrder(ctx, orderID, cmd.Actor)
	if err != nil {
		recordSpanError(span, err)
		return domain.ReturnRequest{}, err
	}
	if method == domain.RefundMethodCardReversal && order.PaymentMethod != domain.PaymentMethodCard {
		return domain.ReturnRequest{}, fmt.Errorf("%w: card reversal is only available for card payments", ErrValidation)
	}
	existing, err := s.returns.ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.ReturnRequest{}, mapRepositoryError(err)
	}
	now := s.clock()
	if err := s.eligibility.Check(order, existing, requested, now); err != nil {
		s.logger(ctx, "return.request.refused", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return domain.ReturnRequest{}, err
	}

	items := priceReturnItems(order, requested)
	breakdown, err := s.calculator.ComputeRefund(items, method)
	if err != nil {
		return domain.ReturnRequest{}, err
	}

	actor := cmd.Actor
	if actor.ID == "" {
		actor = domain.Actor{ID: order.CustomerID, Kind: domain.ActorCustomer}
	}
	note := textutil.SanitizeNote(cmd.Note)
	ret := domain.ReturnRequest{
		ID:              returnIDPrefix + s.newID(),
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		Items:           items,
		Status:          domain.ReturnStatusPending,
		RefundMethod:    method,
		RequestedAmount: breakdown.Base,
		BonusAmount:     breakdown.Bonus,
		BonusRateBps:    s.calculator.BonusRate(method),
		Currency:        order.Totals.Currency,
		CustomerNote:    note,
		Timeline:        []domain.TimelineEntry{s.returnMachine.Initial(now, actor, note)},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.withRetry(ctx, false, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if stored, found, err := s.lookupReturn(ctx, ret.ID); err != nil || (found && stored.OrderID == ret.OrderID) {
				return err
			}
		}
		return mapRepositoryError(s.returns.CreateForOrder(ctx, ret, func(current domain.Order, siblings []domain.ReturnRequest) error {
			return s.eligibility.Check(current, siblings, ret.Items, now)
		}))
	})
	if err != nil {
		recordSpanError(span, err)
		return domain.ReturnRequest{}, err
	}

	s.metrics.returnTransitioned(ctx, "", string(ret.Status))
	s.logger(ctx, "return.requested", map[string]any{
		"returnId": ret.ID,
		"orderId":  ret.OrderID,
		"method":   string(method),
		"base":     breakdown.Base,
		"bonus":    breakdown.Bonus,
	})
	return ret, nil
}

func (s *orderLifecycleService) GetReturn(ctx context.Context, returnID string, viewer domain.Actor) (domain.ReturnRequest, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrValidation)
	}
	ret, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, mapRepositoryError(err)
	}
	if err := authorizeOwner(viewer, ret.CustomerID); err != nil {
		return domain.ReturnRequest{}, err
	}
	return ret, nil
}

func (s *orderLifecycleService) ListOrderReturns(ctx context.Context, orderID string, viewer domain.Actor) ([]domain.ReturnRequest, error) {
	order, err := s.GetOrder(ctx, orderID, viewer)
	if err != nil {
		return nil, err
	}
	returns, err := s.returns.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return returns, nil
}

func (s *orderLifecycleService) ListReturnsByStatus(ctx context.Context, filter ReturnQueueFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	status, err := domain.ParseReturnStatus(string(filter.Status))
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, _, err := pagination.ReturnKeyFromToken(filter.Pagination.PageToken); err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	filter.Pagination.PageSize = pagination.ClampPageSize(filter.Pagination.PageSize)
	page, err := s.returns.ListByStatus(ctx, repositories.ReturnQuery{Status: status, Pagination: filter.Pagination})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderLifecycleService) ReturnTimeline(ctx context.Context, returnID string, viewer domain.Actor, locale language.Tag) ([]domain.TimelineEntry, error) {
	ret, err := s.GetReturn(ctx, returnID, viewer)
	if err != nil {
		return nil, err
	}
	return s.timeline.Relabel(TimelineReturn, ret.Timeline, locale), nil
}

// GetReturnRefund returns the refund recorded when the return moved to processing.
func (s *orderLifecycleService) GetReturnRefund(ctx context.Context, returnID string, viewer domain.Actor) (domain.RefundRecord, error) {
	ret, err := s.GetReturn(ctx, returnID, viewer)
	if err != nil {
		return domain.RefundRecord{}, err
	}
	record, err := s.records.FindByReturnID(ctx, ret.ID)
	if err != nil {
		return domain.RefundRecord{}, mapRepositoryError(err)
	}
	return record, nil
}

func (s *orderLifecycleService) ListOrderRefunds(ctx context.Context, orderID string, viewer domain.Actor) ([]domain.RefundRecord, error) {
	order, err := s.GetOrder(ctx, orderID, viewer)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return records, nil
}

func (s *orderLifecycleService) TransitionReturn(ctx context.Context, cmd ReturnTransitionCommand) (domain.ReturnRequest, error) {
	target, err := domain.ParseReturnStatus(string(cmd.Target))
	if err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cmd.Actor.Kind == domain.ActorCustomer {
		return domain.ReturnRequest{}, fmt.Errorf("%w: customers may only cancel their returns", ErrForbidden)
	}
	adminNote := textutil.SanitizeNote(cmd.AdminNote)

	prepare := func(ctx context.Context, ret domain.ReturnRequest, at time.Time) (ReturnTransition, error) {
		transition := ReturnTransition{Target: target, AdminNote: adminNote, Actor: cmd.Actor, At: at}
		if err := s.returnMachine.Guard(ret, transition); err != nil {
			return ReturnTransition{}, err
		}
		switch target {
		case domain.ReturnStatusProcessing:
			receipt, err := s.initiateRefund(ctx, ret)
			if err != nil {
				return ReturnTransition{}, err
			}
			transition.RefundReference = receipt.Reference
			transition.EstimatedCompletion = receipt.EstimatedCompletion
		case domain.ReturnStatusCompleted:
			record, err := s.buildRefundRecord(ret, at)
			if err != nil {
				return ReturnTransition{}, err
			}
			transition.Refund = &record
		}
		return transition, nil
	}

	updated, previous, err := s.transitionReturn(ctx, cmd.ReturnID, cmd.ExpectedVersion, nil, prepare)
	if err != nil {
		return domain.ReturnRequest{}, err
	}

	if updated.Status == domain.ReturnStatusCompleted {
		if updated.Refund != nil {
			s.metrics.refunded(ctx, string(updated.RefundMethod), updated.Currency, updated.Refund.TotalAmount)
		}
		if _, err := s.cascadeOrder(ctx, updated.OrderID); err != nil {
			s.metrics.cascadeFailed(ctx)
			s.logger(ctx, "order.cascade.failed", map[string]any{
				"orderId":  updated.OrderID,
				"returnId": updated.ID,
				"error":    err.Error(),
			})
		}
	}
	s.afterReturnTransition(ctx, previous, updated, cmd.Actor)
	return updated, nil
}

func (s *orderLifecycleService) CancelReturn(ctx context.Context, cmd CancelReturnCommand) (domain.ReturnRequest, error) {
	authorize := func(ret domain.ReturnRequest) error {
		if err := authorizeOwner(cmd.Actor, ret.CustomerID); err != nil {
			return err
		}
		if !CanCancelReturn(ret) {
			return fmt.Errorf("%w: return %s is %s and can no longer be cancelled", ErrInvalidTransition, ret.ID, ret.Status)
		}
		return nil
	}
	prepare := func(_ context.Context, ret domain.ReturnRequest, at time.Time) (ReturnTransition, error) {
		return ReturnTransition{
			Target:     domain.ReturnStatusRejected,
			SystemNote: CustomerCancellationNote,
			Actor:      cmd.Actor,
			At:         at,
		}, nil
	}

	updated, previous, err := s.transitionReturn(ctx, cmd.ReturnID, cmd.ExpectedVersion, authorize, prepare)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	s.afterReturnTransition(ctx, previous, updated, cmd.Actor)
	return updated, nil
}

type returnTransitionPrepare func(ctx context.Context, ret domain.ReturnRequest, at time.Time) (ReturnTransition, error)

func (s *orderLifecycleService) transitionReturn(ctx context.Context, returnID string, expectedVersion int64, authorize func(domain.ReturnRequest) error, prepare returnTransitionPrepare) (domain.ReturnRequest, domain.ReturnStatus, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, "", fmt.Errorf("%w: return id is required", ErrValidation)
	}
	if expectedVersion < 0 {
		return domain.ReturnRequest{}, "", fmt.Errorf("%w: expected version must not be negative", ErrValidation)
	}

	ctx, span := startSpan(ctx, "lifecycle.TransitionReturn", attribute.String("return.id", returnID))
	defer span.End()

	pinned := expectedVersion > 0
	var (
		updated  domain.ReturnRequest
		previous domain.ReturnStatus
	)
	err := s.withRetry(ctx, pinned, func(ctx context.Context, _ int) error {
		ret, err := s.returns.FindByID(ctx, returnID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if authorize != nil {
			if err := authorize(ret); err != nil {
				return err
			}
		}
		if pinned && ret.Version != expectedVersion {
			return fmt.Errorf("%w: return %s is at version %d, expected %d", ErrConcurrencyConflict, returnID, ret.Version, expectedVersion)
		}
		transition, err := prepare(ctx, ret, s.clock())
		if err != nil {
			return err
		}
		mutation, err := s.returnMachine.Apply(ret, transition)
		if err != nil {
			return err
		}
		previous = ret.Status
		updated, err = s.returns.ApplyTransition(ctx, mutation)
		return mapRepositoryError(err)
	})
	if err != nil {
		recordSpanError(span, err)
		return domain.ReturnRequest{}, "", err
	}

	span.SetAttributes(attribute.String("return.status", string(updated.Status)))
	s.metrics.returnTransitioned(ctx, string(previous), string(updated.Status))
	s.logger(ctx, "return.status.changed", map[string]any{
		"returnId": updated.ID,
		"orderId":  updated.OrderID,
		"from":     string(previous),
		"to":       string(updated.Status),
		"version":  updated.Version,
	})
	return updated, previous, nil
}

func (s *orderLifecycleService) afterReturnTransition(ctx context.Context, previous domain.ReturnStatus, ret domain.ReturnRequest, actor domain.Actor) {
	event := LifecycleEvent{
		EntityID:       ret.ID,
		OrderID:        ret.OrderID,
		CustomerID:     ret.CustomerID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(ret.Status),
		Actor:          actor.String(),
		Currency:       ret.Currency,
		OccurredAt:     ret.UpdatedAt,
	}
	switch ret.Status {
	case domain.ReturnStatusCompleted:
		event.Type = eventReturnCompleted
		if ret.Refund != nil {
			event.Amount = ret.Refund.TotalAmount
		}
	case domain.ReturnStatusRejected:
		event.Type = eventReturnRejected
	default:
		return
	}
	s.publish(ctx, event)
}

// initiateRefund calls the gateway with a key derived from the return id so repeated
// attempts for the same return are deduplicated by the provider.
func (s *orderLifecycleService) initiateRefund(ctx context.Context, ret domain.ReturnRequest) (RefundReceipt, error) {
	order, err := s.readOrder(ctx, ret.OrderID)
	if err != nil {
		return RefundReceipt{}, err
	}
	breakdown, err := ComputeRefundAtRate(ret.Items, ret.BonusRateBps)
	if err != nil {
		return RefundReceipt{}, err
	}
	req := RefundInitiation{
		ReturnID:        ret.ID,
		OrderID:         ret.OrderID,
		CustomerID:      ret.CustomerID,
		PaymentIntentID: order.PaymentIntentID,
		PaymentMethod:   order.PaymentMethod,
		Method:          ret.RefundMethod,
		Amount:          breakdown.Total,
		Currency:        ret.Currency,
		IdempotencyKey:  RefundIdempotencyKey(ret.ID),
	}

	var receipt RefundReceipt
	err = retry.Do(ctx, s.retryPolicy, s.sleep, isRetryableUpstream, func(ctx context.Context, attempt int) error {
		var callErr error
		receipt, callErr = s.refunds.InitiateRefund(ctx, req)
		if callErr != nil {
			s.logger(ctx, "refund.initiate.failed", map[string]any{
				"returnId": ret.ID,
				"attempt":  attempt,
				"error":    callErr.Error(),
			})
		}
		return callErr
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return RefundReceipt{}, err
		}
		return RefundReceipt{}, fmt.Errorf("%w: %w: %v", ErrUpstreamFailure, errRefundNotInitiated, err)
	}
	return receipt, nil
}

func (s *orderLifecycleService) buildRefundRecord(ret domain.ReturnRequest, at time.Time) (domain.RefundRecord, error) {
	breakdown, err := ComputeRefundAtRate(ret.Items, ret.BonusRateBps)
	if err != nil {
		return domain.RefundRecord{}, err
	}
	return domain.RefundRecord{
		ID:          refundIDPrefix + s.newID(),
		ReturnID:    ret.ID,
		OrderID:     ret.OrderID,
		Method:      ret.RefundMethod,
		BaseAmount:  breakdown.Base,
		BonusAmount: breakdown.Bonus,
		TotalAmount: breakdown.Total,
		Currency:    ret.Currency,
		ExternalRef: ret.RefundReference,
		RecordedAt:  at,
	}, nil
}

// RefundIdempotencyKey derives the provider idempotency key for a return.
func RefundIdempotencyKey(returnID string) string {
	return uuid.NewSHA1(refundKeyNamespace, []byte(returnID)).String()
}

func (s *orderLifecycleService) readOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	return order, nil
}

// withRetry retries persistence outages, and version conflicts unless the caller pinned a version.
// Refund initiation failures are already retried by initiateRefund and surface immediately.
func (s *orderLifecycleService) withRetry(ctx context.Context, pinned bool, fn func(context.Context, int) error) error {
	retryable := func(err error) bool {
		if errors.Is(err, errRefundNotInitiated) || errors.Is(err, domain.ErrUnknownStatus) {
			return false
		}
		if errors.Is(err, ErrUpstreamFailure) {
			return true
		}
		return !pinned && errors.Is(err, ErrConcurrencyConflict)
	}
	return retry.Do(ctx, s.retryPolicy, s.sleep, retryable, fn)
}

// lookupOrder reports whether orderID is stored. A missing document is not an error.
func (s *orderLifecycleService) lookupOrder(ctx context.Context, orderID string) (domain.Order, bool, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		err = mapRepositoryError(err)
		if errors.Is(err, ErrNotFound) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	return order, true, nil
}

func (s *orderLifecycleService) lookupReturn(ctx context.Context, returnID string) (domain.ReturnRequest, bool, error) {
	ret, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		err = mapRepositoryError(err)
		if errors.Is(err, ErrNotFound) {
			return domain.ReturnRequest{}, false, nil
		}
		return domain.ReturnRequest{}, false, err
	}
	return ret, true, nil
}

func (s *orderLifecycleService) publish(ctx context.Context, event LifecycleEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "lifecycle.event.publish.failed", map[string]any{
			"type":   event.Type,
			"entity": event.EntityID,
			"error":  err.Error(),
		})
	}
}

func (s *orderLifecycleService) computeTotals(subtotal, shipping, discount int64) (domain.OrderTotals, error) {
	if shipping < 0 {
		return domain.OrderTotals{}, fmt.Errorf("%w: shipping fee must be non-negative", ErrValidation)
	}
	if discount < 0 {
		return domain.OrderTotals{}, fmt.Errorf("%w: discount must be non-negative", ErrValidation)
	}
	if discount > subtotal {
		return domain.OrderTotals{}, fmt.Errorf("%w: discount %d exceeds subtotal %d", ErrValidation, discount, subtotal)
	}
	gross, ok := addInt64(subtotal, shipping)
	if !ok {
		return domain.OrderTotals{}, fmt.Errorf("%w: order total overflows", ErrValidation)
	}
	totals := domain.OrderTotals{
		Subtotal: subtotal,
		Shipping: shipping,
		Discount: discount,
		Total:    gross - discount,
		Currency: s.currency,
	}
	if err := totals.Validate(); err != nil {
		return domain.OrderTotals{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return totals, nil
}

func normaliseOrderItems(raw []domain.OrderItem) ([]domain.OrderItem, int64, error) {
	if len(raw) == 0 {
		return nil, 0, fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	items := make([]domain.OrderItem, 0, len(raw))
	seen := make(map[domain.ItemKey]struct{}, len(raw))
	var subtotal int64
	for i, item := range raw {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Name = strings.TrimSpace(item.Name)
		item.Variant.Size = strings.TrimSpace(item.Variant.Size)
		item.Variant.Color = strings.TrimSpace(item.Variant.Color)
		if item.ProductID == "" {
			return nil, 0, fmt.Errorf("%w: items[%d].productId is required", ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: items[%d].quantity must be positive", ErrValidation, i)
		}
		if item.UnitPrice < 0 {
			return nil, 0, fmt.Errorf("%w: items[%d].unitPrice must be non-negative", ErrValidation, i)
		}
		if _, dup := seen[item.Key()]; dup {
			return nil, 0, fmt.Errorf("%w: items[%d] duplicates %s", ErrValidation, i, item.Key())
		}
		seen[item.Key()] = struct{}{}

		line, ok := mulInt64(item.UnitPrice, int64(item.Quantity))
		if !ok {
			return nil, 0, fmt.Errorf("%w: items[%d] amount overflows", ErrValidation, i)
		}
		if subtotal, ok = addInt64(subtotal, line); !ok {
			return nil, 0, fmt.Errorf("%w: subtotal overflows", ErrValidation)
		}
		items = append(items, item)
	}
	return items, subtotal, nil
}

func normaliseAddress(addr domain.Address) (domain.Address, error) {
	addr.Recipient = strings.TrimSpace(addr.Recipient)
	addr.Phone = strings.TrimSpace(addr.Phone)
	addr.Line1 = strings.TrimSpace(addr.Line1)
	addr.Line2 = strings.TrimSpace(addr.Line2)
	addr.Ward = strings.TrimSpace(addr.Ward)
	addr.District = strings.TrimSpace(addr.District)
	addr.City = strings.TrimSpace(addr.City)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))

	var missing []string
	if addr.Recipient == "" {
		missing = append(missing, "recipient")
	}
	if addr.Phone == "" {
		missing = append(missing, "phone")
	}
	if addr.Line1 == "" {
		missing = append(missing, "line1")
	}
	if addr.City == "" {
		missing = append(missing, "city")
	}
	if len(missing) > 0 {
		return domain.Address{}, fmt.Errorf("%w: shipping address missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return addr, nil
}

func normaliseReturnItems(raw []ReturnItemRequest, fallback domain.ReasonCode) ([]domain.ReturnItem, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: a return must contain at least one item", ErrValidation)
	}
	items := make([]domain.ReturnItem, 0, len(raw))
	for i, item := range raw {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: items[%d].productId is required", ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be positive", ErrValidation, i)
		}
		rawReason := item.Reason
		if rawReason == "" {
			rawReason = fallback
		}
		reason, err := domain.ParseReasonCode(string(rawReason))
		if err != nil {
			return nil, fmt.Errorf("%w: items[%d]: %v", ErrValidation, i, err)
		}
		items = append(items, domain.ReturnItem{
			ProductID: productID,
			Variant: domain.Variant{
				Size:  strings.TrimSpace(item.Variant.Size),
				Color: strings.TrimSpace(item.Variant.Color),
			},
			Quantity: item.Quantity,
			Reason:   reason,
		})
	}
	return items, nil
}

// priceReturnItems copies unit prices from the order snapshot. Items must already be eligible.
func priceReturnItems(order domain.Order, requested []domain.ReturnItem) []domain.ReturnItem {
	prices := make(map[domain.ItemKey]int64, len(order.Items))
	for _, item := range order.Items {
		prices[item.Key()] = item.UnitPrice
	}
	items := make([]domain.ReturnItem, 0, len(requested))
	for _, item := range requested {
		item.UnitPrice = prices[item.Key()]
		items = append(items, item)
	}
	return items
}

func authorizeOwner(actor domain.Actor, customerID string) error {
	if actor.Kind != domain.ActorCustomer {
		return nil
	}
	if strings.TrimSpace(actor.ID) == "" || actor.ID != customerID {
		return fmt.Errorf("%w: resource belongs to another customer", ErrForbidden)
	}
	return nil
}

func authorizeOrderTransition(actor domain.Actor, order domain.Order, target domain.OrderStatus) error {
	if actor.Kind != domain.ActorCustomer {
		return nil
	}
	if target != domain.OrderStatusCancelled {
		return fmt.Errorf("%w: customers may only cancel orders", ErrForbidden)
	}
	return authorizeOwner(actor, order.CustomerID)
}
