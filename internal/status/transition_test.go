package status_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteline/internal/domain"
	"siteline/internal/status"
)

func TestValidateTransitionTable(t *testing.T) {
	allowed := map[domain.Status][]domain.Status{
		domain.StatusUpcoming:          {domain.StatusSitePreparation, domain.StatusOnHold, domain.StatusCancelled},
		domain.StatusSitePreparation:   {domain.StatusOnGoing, domain.StatusOnHold, domain.StatusCancelled},
		domain.StatusOnGoing:           {domain.StatusCompletedDuration, domain.StatusOnHold, domain.StatusCancelled},
		domain.StatusCompletedDuration: {domain.StatusContractCompleted, domain.StatusOnHold, domain.StatusCancelled},
		domain.StatusOnHold:            {domain.StatusSitePreparation, domain.StatusOnGoing, domain.StatusCancelled},
	}
	for _, from := range domain.Statuses() {
		for _, to := range domain.Statuses() {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, status.ValidateTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesHaveNoTargets(t *testing.T) {
	for _, terminal := range []domain.Status{domain.StatusContractCompleted, domain.StatusCancelled} {
		for _, to := range domain.Statuses() {
			assert.False(t, status.ValidateTransition(terminal, to))
		}
		assert.Empty(t, status.Targets(terminal))
	}
	assert.False(t, status.ValidateTransition(domain.StatusContractCompleted, "anything"))
}

func TestCheckTransitionError(t *testing.T) {
	err := status.CheckTransition(domain.StatusOnGoing, domain.StatusUpcoming)
	require.Error(t, err)
	require.True(t, errors.Is(err, status.ErrInvalidTransition))

	var te *status.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.StatusOnGoing, te.From)
	assert.Equal(t, domain.StatusUpcoming, te.To)
	assert.Equal(t, "no such transition on-going -> upcoming", err.Error())

	require.NoError(t, status.CheckTransition(domain.StatusOnHold, domain.StatusOnGoing))
}

func TestTargetsReturnsCopy(t *testing.T) {
	targets := status.Targets(domain.StatusUpcoming)
	targets[0] = domain.StatusCancelled
	assert.Equal(t, domain.StatusSitePreparation, status.Targets(domain.StatusUpcoming)[0])
}
