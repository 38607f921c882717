package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"siteline/internal/domain"
)

func TestRecordRecompute(t *testing.T) {
	before := testutil.ToFloat64(RecomputeTotal.WithLabelValues(OutcomeSkipped))
	RecordRecompute(OutcomeSkipped)
	assert.Equal(t, before+1, testutil.ToFloat64(RecomputeTotal.WithLabelValues(OutcomeSkipped)))
}

func TestSetStatusDistributionResetsMissingStatuses(t *testing.T) {
	SetStatusDistribution(map[domain.Status]int{domain.StatusOnGoing: 3, domain.StatusCancelled: 1})
	SetStatusDistribution(map[domain.Status]int{domain.StatusOnGoing: 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(ProjectStatus.WithLabelValues(string(domain.StatusOnGoing))))
	assert.Equal(t, 0.0, testutil.ToFloat64(ProjectStatus.WithLabelValues(string(domain.StatusCancelled))))
}

func TestRecordCache(t *testing.T) {
	before := testutil.ToFloat64(CacheRequests.WithLabelValues("activities", "hit"))
	RecordCache("activities", true)
	assert.Equal(t, before+1, testutil.ToFloat64(CacheRequests.WithLabelValues("activities", "hit")))
}
