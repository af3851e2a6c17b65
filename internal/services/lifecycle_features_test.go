package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
)

var featureErrors = map[string]error{
	"validation":           ErrValidation,
	"not found":            ErrNotFound,
	"invalid transition":   ErrInvalidTransition,
	"not eligible":         ErrNotEligible,
	"concurrency conflict": ErrConcurrencyConflict,
	"upstream failure":     ErrUpstreamFailure,
	"forbidden":            ErrForbidden,
}

type lifecycleFeature struct {
	h           *lifecycleHarness
	orders      map[string]string
	ret         domain.ReturnRequest
	err         error
	raceResults []error
}

func (f *lifecycleFeature) reset() {
	f.h = nil
	f.orders = make(map[string]string)
	f.ret = domain.ReturnRequest{}
	f.err = nil
	f.raceResults = nil
}

func (f *lifecycleFeature) configure(windowDays int, bonusBps int) error {
	h, err := buildLifecycleHarness(time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC), windowDays, int64(bonusBps))
	if err != nil {
		return err
	}
	f.h = h
	return nil
}

func (f *lifecycleFeature) createOrder(alias string, qty, unitPrice int) (domain.Order, error) {
	order, err := f.h.svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID:      customer.ID,
		Items:           []domain.OrderItem{{ProductID: "tee", Variant: teeM, Quantity: qty, UnitPrice: int64(unitPrice)}},
		ShippingAddress: sampleAddress(),
		PaymentMethod:   domain.PaymentMethodCard,
		PaymentIntentID: "pi_" + alias,
		Actor:           customer,
	})
	if err != nil {
		return domain.Order{}, err
	}
	f.orders[alias] = order.ID
	return order, nil
}

func (f *lifecycleFeature) pendingOrder(alias string) error {
	_, err := f.createOrder(alias, 1, 100_000)
	return err
}

func (f *lifecycleFeature) deliveredOrder(alias string, qty, unitPrice int) error {
	order, err := f.createOrder(alias, qty, unitPrice)
	if err != nil {
		return err
	}
	for _, target := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		_, err := f.h.svc.TransitionOrder(context.Background(), OrderTransitionCommand{
			OrderID:        order.ID,
			Target:         target,
			TrackingNumber: "GHN-" + alias,
			Actor:          staff,
		})
		if err != nil {
			return fmt.Errorf("move %s to %s: %w", alias, target, err)
		}
	}
	return nil
}

func (f *lifecycleFeature) daysPass(days int) error {
	f.h.advance(time.Duration(days) * 24 * time.Hour)
	return nil
}

func (f *lifecycleFeature) requestReturn(qty int, alias, method string) error {
	f.ret, f.err = requestTeeReturn(f.h, f.orders[alias], qty, domain.RefundMethod(method))
	return nil
}

func (f *lifecycleFeature) requestReturnSucceeds(qty int, alias, method string) error {
	if err := f.requestReturn(qty, alias, method); err != nil {
		return err
	}
	return f.err
}

func (f *lifecycleFeature) moveReturnThrough(targets string) error {
	if f.err != nil {
		return fmt.Errorf("no return to move: %w", f.err)
	}
	for _, target := range strings.Split(targets, ",") {
		ret, err := f.h.svc.TransitionReturn(context.Background(), ReturnTransitionCommand{
			ReturnID: f.ret.ID,
			Target:   domain.ReturnStatus(strings.TrimSpace(target)),
			Actor:    staff,
		})
		if err != nil {
			return fmt.Errorf("move return to %s: %w", target, err)
		}
		f.ret = ret
	}
	return nil
}

func (f *lifecycleFeature) refundIs(base, bonus, total int) error {
	if f.ret.Refund == nil {
		return errors.New("return has no refund record")
	}
	got := f.ret.Refund
	if got.BaseAmount != int64(base) || got.BonusAmount != int64(bonus) || got.TotalAmount != int64(total) {
		return fmt.Errorf("expected %d/%d/%d, got %d/%d/%d", base, bonus, total, got.BaseAmount, got.BonusAmount, got.TotalAmount)
	}
	return nil
}

func (f *lifecycleFeature) orderHasStatus(alias, status string) error {
	order, err := f.h.svc.GetOrder(context.Background(), f.orders[alias], staff)
	if err != nil {
		return err
	}
	if string(order.Status) != status {
		return fmt.Errorf("expected order %s to be %s, got %s", alias, status, order.Status)
	}
	return nil
}

func (f *lifecycleFeature) refusedBecause(reason string) error {
	var eligErr *EligibilityError
	if !errors.As(f.err, &eligErr) {
		return fmt.Errorf("expected an eligibility error, got %v", f.err)
	}
	if string(eligErr.Reason) != reason {
		return fmt.Errorf("expected reason %q, got %q", reason, eligErr.Reason)
	}
	return nil
}

func (f *lifecycleFeature) returnIs(status string, amount int) error {
	if f.err != nil {
		return f.err
	}
	if string(f.ret.Status) != status || f.ret.RequestedAmount != int64(amount) {
		return fmt.Errorf("unexpected return %s with amount %d", f.ret.Status, f.ret.RequestedAmount)
	}
	return nil
}

func (f *lifecycleFeature) cancelOrder(alias string) error {
	_, err := f.h.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: f.orders[alias], Actor: customer})
	return err
}

func (f *lifecycleFeature) moveOrder(alias, target string) error {
	_, f.err = f.h.svc.TransitionOrder(context.Background(), OrderTransitionCommand{
		OrderID: f.orders[alias],
		Target:  domain.OrderStatus(target),
		Actor:   staff,
	})
	return nil
}

func (f *lifecycleFeature) operationFails(kind string) error {
	sentinel, ok := featureErrors[kind]
	if !ok {
		return fmt.Errorf("unknown error kind %q", kind)
	}
	if !errors.Is(f.err, sentinel) {
		return fmt.Errorf("expected %s, got %v", kind, f.err)
	}
	return nil
}

func (f *lifecycleFeature) raceApprovals() error {
	var wg sync.WaitGroup
	results := make([]error, 2)
	start := make(chan struct{})
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, results[i] = f.h.svc.TransitionReturn(context.Background(), ReturnTransitionCommand{
				ReturnID:        f.ret.ID,
				Target:          domain.ReturnStatusApproved,
				Actor:           staff,
				ExpectedVersion: f.ret.Version,
			})
		}()
	}
	close(start)
	wg.Wait()
	f.raceResults = results
	return nil
}

func (f *lifecycleFeature) exactlyOneSucceeds(kind string) error {
	sentinel, ok := featureErrors[kind]
	if !ok {
		return fmt.Errorf("unknown error kind %q", kind)
	}
	var successes, failures int
	for _, err := range f.raceResults {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, sentinel):
			failures++
		default:
			return fmt.Errorf("unexpected error %v", err)
		}
	}
	if successes != 1 || failures != 1 {
		return fmt.Errorf("expected one success and one %s, got %d and %d", kind, successes, failures)
	}
	return nil
}

func initializeLifecycleScenario(ctx *godog.ScenarioContext) {
	f := &lifecycleFeature{}

	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		f.reset()
		return ctx, nil
	})

	ctx.Step(`^the return window is (\d+) days and the store credit bonus is (\d+) basis points$`, f.configure)
	ctx.Step(`^a pending order "([^"]*)"$`, f.pendingOrder)
	ctx.Step(`^a delivered card order "([^"]*)" with (\d+) units at (\d+)$`, f.deliveredOrder)
	ctx.Step(`^(\d+) days have passed since delivery$`, f.daysPass)
	ctx.Step(`^the customer requests a return of (\d+) unit of "([^"]*)" refunded as "([^"]*)"$`, f.requestReturn)
	ctx.Step(`^the customer has requested a return of (\d+) unit of "([^"]*)" refunded as "([^"]*)"$`, f.requestReturnSucceeds)
	ctx.Step(`^staff move the return through "([^"]*)"$`, f.moveReturnThrough)
	ctx.Step(`^the refund is (\d+) base, (\d+) bonus and (\d+) total$`, f.refundIs)
	ctx.Step(`^order "([^"]*)" has status "([^"]*)"$`, f.orderHasStatus)
	ctx.Step(`^the request is refused because "([^"]*)"$`, f.refusedBecause)
	ctx.Step(`^the return is "([^"]*)" with a requested amount of (\d+)$`, f.returnIs)
	ctx.Step(`^the customer cancels order "([^"]*)"$`, f.cancelOrder)
	ctx.Step(`^staff move order "([^"]*)" to "([^"]*)"$`, f.moveOrder)
	ctx.Step(`^the operation fails with "([^"]*)"$`, f.operationFails)
	ctx.Step(`^two staff members approve the return with the same version at once$`, f.raceApprovals)
	ctx.Step(`^exactly one approval succeeds and the other fails with "([^"]*)"$`, f.exactlyOneSucceeds)
}

func TestLifecycleFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeLifecycleScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
