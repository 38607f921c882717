package status

import (
	"errors"
	"fmt"

	"siteline/internal/domain"
)

// ErrInvalidTransition is wrapped by every rejected manual transition.
var ErrInvalidTransition = errors.New("no such transition")

// TransitionError identifies a rejected (current, requested) pair.
type TransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("no such transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

var transitions = map[domain.Status][]domain.Status{
	domain.StatusUpcoming:          {domain.StatusSitePreparation, domain.StatusOnHold, domain.StatusCancelled},
	domain.StatusSitePreparation:   {domain.StatusOnGoing, domain.StatusOnHold, domain.StatusCancelled},
	domain.StatusOnGoing:           {domain.StatusCompletedDuration, domain.StatusOnHold, domain.StatusCancelled},
	domain.StatusCompletedDuration: {domain.StatusContractCompleted, domain.StatusOnHold, domain.StatusCancelled},
	domain.StatusContractCompleted: {},
	domain.StatusOnHold:            {domain.StatusSitePreparation, domain.StatusOnGoing, domain.StatusCancelled},
	domain.StatusCancelled:         {},
}

// ValidateTransition reports whether an operator may move a project from
// current to requested.
func ValidateTransition(current, requested domain.Status) bool {
	for _, s := range transitions[current] {
		if s == requested {
			return true
		}
	}
	return false
}

// CheckTransition is ValidateTransition with a descriptive error.
func CheckTransition(current, requested domain.Status) error {
	if ValidateTransition(current, requested) {
		return nil
	}
	return &TransitionError{From: current, To: requested}
}

// Targets returns the legal manual targets of a status.
func Targets(current domain.Status) []domain.Status {
	out := make([]domain.Status, len(transitions[current]))
	copy(out, transitions[current])
	return out
}
