package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"

	domain "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/domain"
	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/repositories"
)

var returnTransitions = map[domain.ReturnStatus][]domain.ReturnStatus{
	domain.ReturnStatusPending:    {domain.ReturnStatusApproved, domain.ReturnStatusRejected},
	domain.ReturnStatusApproved:   {domain.ReturnStatusProcessing},
	domain.ReturnStatusProcessing: {domain.ReturnStatusCompleted},
}

// CustomerCancellationNote is recorded when a customer withdraws a pending return.
const CustomerCancellationNote = "cancelled by customer"

// CanTransitionReturn reports whether from -> to is in the adjacency table.
func CanTransitionReturn(from, to domain.ReturnStatus) bool {
	return slices.Contains(returnTransitions[from], to)
}

// CanCancelReturn reports whether the customer may still withdraw the return.
func CanCancelReturn(ret domain.ReturnRequest) bool {
	return ret.Status == domain.ReturnStatusPending
}

// IsTerminalReturnStatus reports whether no transition leaves status.
func IsTerminalReturnStatus(status domain.ReturnStatus) bool {
	return len(returnTransitions[status]) == 0
}

// ReturnTransition is the input to ReturnStateMachine.Apply. Side effect results (refund
// reference, refund record) are gathered by the caller before Apply.
type ReturnTransition struct {
	Target              domain.ReturnStatus
	AdminNote           string
	SystemNote          string
	RefundReference     string
	EstimatedCompletion *time.Time
	Refund              *domain.RefundRecord
	Actor               domain.Actor
	At                  time.Time
}

// ReturnStateMachine validates return transitions and produces the resulting mutation.
type ReturnStateMachine struct {
	timeline TimelineBuilder
}

// NewReturnStateMachine returns a state machine that renders entries with timeline.
func NewReturnStateMachine(timeline TimelineBuilder) ReturnStateMachine {
	return ReturnStateMachine{timeline: timeline}
}

// Guard checks the transition before any side effect runs.
func (m ReturnStateMachine) Guard(ret domain.ReturnRequest, t ReturnTransition) error {
	if !CanTransitionReturn(ret.Status, t.Target) {
		return fmt.Errorf("%w: return %s cannot move from %s to %s", ErrInvalidTransition, ret.ID, ret.Status, t.Target)
	}
	if t.Target == domain.ReturnStatusRejected && strings.TrimSpace(t.AdminNote) == "" && strings.TrimSpace(t.SystemNote) == "" {
		return fmt.Errorf("%w: an admin note is required to reject a return", ErrValidation)
	}
	return nil
}

// Apply checks the transition and its side effect results and returns the version-pinned mutation.
func (m ReturnStateMachine) Apply(ret domain.ReturnRequest, t ReturnTransition) (repositories.ReturnMutation, error) {
	if err := m.Guard(ret, t); err != nil {
		return repositories.ReturnMutation{}, err
	}

	mutation := repositories.ReturnMutation{
		ReturnID:        ret.ID,
		ExpectedVersion: ret.Version,
		Status:          t.Target,
		UpdatedAt:       t.At,
	}
	note := strings.TrimSpace(t.AdminNote)
	if note != "" {
		mutation.AdminNote = &note
	} else {
		note = strings.TrimSpace(t.SystemNote)
	}

	switch t.Target {
	case domain.ReturnStatusProcessing:
		reference := strings.TrimSpace(t.RefundReference)
		if reference == "" {
			return repositories.ReturnMutation{}, fmt.Errorf("%w: refund reference missing for return %s", ErrUpstreamFailure, ret.ID)
		}
		mutation.RefundReference = &reference
		mutation.EstimatedCompletion = t.EstimatedCompletion
	case domain.ReturnStatusCompleted:
		if t.Refund == nil {
			return repositories.ReturnMutation{}, fmt.Errorf("%w: refund record required to complete return %s", ErrValidation, ret.ID)
		}
		completedAt := t.At
		mutation.CompletedAt = &completedAt
		mutation.Refund = t.Refund
	}

	mutation.Entry = m.timeline.Entry(TimelineReturn, domain.TransitionEvent{
		From:       string(ret.Status),
		To:         string(t.Target),
		OccurredAt: t.At,
		Actor:      t.Actor.String(),
		Note:       note,
	}, language.English)
	return mutation, nil
}

// Initial renders the first timeline entry of a new return.
func (m ReturnStateMachine) Initial(at time.Time, actor domain.Actor, note string) domain.TimelineEntry {
	return m.timeline.Entry(TimelineReturn, domain.TransitionEvent{
		To:         string(domain.ReturnStatusPending),
		OccurredAt: at,
		Actor:      actor.String(),
		Note:       note,
	}, language.English)
}
