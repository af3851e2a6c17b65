package services

import (
	"errors"
	"fmt"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
)

var (
	// ErrValidation signals malformed or missing input. Nothing is persisted.
	ErrValidation = errors.New("lifecycle: validation failed")
	// ErrNotFound indicates the referenced order or return does not exist.
	ErrNotFound = errors.New("lifecycle: not found")
	// ErrInvalidTransition indicates the requested status change is not in the adjacency table.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	// ErrNotEligible indicates a return request was refused. Use errors.As with *EligibilityError for the reason.
	ErrNotEligible = errors.New("lifecycle: not eligible for return")
	// ErrConcurrencyConflict indicates the optimistic version token did not match.
	ErrConcurrencyConflict = errors.New("lifecycle: concurrency conflict")
	// ErrUpstreamFailure indicates persistence or the payment provider failed after retries.
	ErrUpstreamFailure = errors.New("lifecycle: upstream failure")
	// ErrForbidden indicates the caller does not own the resource.
	ErrForbidden = errors.New("lifecycle: forbidden")
)

// EligibilityReason is the user-facing reason a return was refused.
type EligibilityReason string

const (
	ReasonWrongStatus       EligibilityReason = "wrong status"
	ReasonWindowExpired     EligibilityReason = "window expired"
	ReasonQuantityExhausted EligibilityReason = "quantity exhausted"
	ReasonItemNotInOrder    EligibilityReason = "item not in order"
)

// EligibilityError carries the disqualifying reason and matches ErrNotEligible.
type EligibilityError struct {
	Reason EligibilityReason
	Detail string
}

func (e *EligibilityError) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", ErrNotEligible.Error(), e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %s", ErrNotEligible.Error(), e.Reason)
}

// Is reports whether target is ErrNotEligible.
func (e *EligibilityError) Is(target error) bool {
	return target == ErrNotEligible
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	// A stored status or method outside the vocabulary is a broken collaborator, not bad input.
	if errors.Is(err, domain.ErrUnknownStatus) {
		return fmt.Errorf("%w: stored record rejected: %w", ErrUpstreamFailure, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: repository unavailable: %v", ErrUpstreamFailure, err)
		}
	}
	return err
}

func isRetryableUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamFailure)
}
