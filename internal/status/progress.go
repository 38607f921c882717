package status

import (
	"time"

	"siteline/internal/domain"
)

// UnscheduledActualPercent is the progress credited to an activity that has
// actual records but no planned records.
// TODO: confirm the 50% partial-credit value with the product owner.
const UnscheduledActualPercent = 50.0

// Progress is the evaluated state of one activity.
type Progress struct {
	Started   bool    `json:"started"`
	Completed bool    `json:"completed"`
	Percent   float64 `json:"percent"`
}

// Evaluator turns an activity's matched records into Progress.
type Evaluator interface {
	Evaluate(a domain.Activity, m Matches, now time.Time) Progress
}

// RecordEvaluator derives progress from progress records only. Activity unit
// totals are never consulted.
type RecordEvaluator struct{}

func (RecordEvaluator) Evaluate(_ domain.Activity, m Matches, now time.Time) Progress {
	planned := sumQuantity(m.Planned)
	actual := sumQuantity(m.Actual)

	var p Progress
	p.Started = hasQualifyingActual(m.Actual, now)
	p.Completed = len(m.Planned) > 0 && len(m.Actual) > 0 && planned > 0 && actual >= planned

	switch {
	case len(m.Planned) > 0 && len(m.Actual) > 0 && planned > 0:
		p.Percent = min(100, 100*actual/planned)
	case len(m.Actual) > 0 && len(m.Planned) == 0:
		p.Percent = UnscheduledActualPercent
	}
	return p
}

// hasQualifyingActual reports an actual record with a positive quantity or an
// activity date on or before the current day. Activity dates are calendar
// dates and are compared as written, without zone conversion. Records without
// a date only qualify through their quantity.
func hasQualifyingActual(actual []domain.ProgressRecord, now time.Time) bool {
	today := calendarDate(now)
	for _, r := range actual {
		if r.Quantity > 0 {
			return true
		}
		if !r.ActivityDate.IsZero() && !calendarDate(r.ActivityDate).After(today) {
			return true
		}
	}
	return false
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sumQuantity(records []domain.ProgressRecord) float64 {
	var total float64
	for _, r := range records {
		total += r.Quantity
	}
	return total
}

// LegacyUnitEvaluator falls back to the activity's own planned/actual unit
// totals when no progress record matched.
//
// Deprecated: unit totals are not authoritative and can mark an activity as
// started without any recorded work. Use RecordEvaluator.
type LegacyUnitEvaluator struct {
	Records RecordEvaluator
}

func (l LegacyUnitEvaluator) Evaluate(a domain.Activity, m Matches, now time.Time) Progress {
	if !m.Empty() {
		return l.Records.Evaluate(a, m, now)
	}
	return LegacyUnitProgress(a)
}

// LegacyUnitProgress computes progress from unit totals alone.
//
// Deprecated: kept for callers that still read unit totals directly.
func LegacyUnitProgress(a domain.Activity) Progress {
	p := Progress{
		Started:   a.ActualUnits > 0,
		Completed: a.PlannedUnits > 0 && a.ActualUnits >= a.PlannedUnits,
	}
	if a.PlannedUnits > 0 {
		p.Percent = min(100, 100*a.ActualUnits/a.PlannedUnits)
	}
	return p
}

// PhaseAggregate summarizes one phase of a project.
type PhaseAggregate struct {
	Activities int     `json:"activities"`
	Started    int     `json:"started"`
	Completed  int     `json:"completed"`
	Progress   float64 `json:"progress"`
}

// AllCompleted reports whether the phase is non-empty and every activity in it
// is completed.
func (a PhaseAggregate) AllCompleted() bool {
	return a.Activities > 0 && a.Completed == a.Activities
}

// aggregatePhase averages progress over activities that contributed a non-zero
// percentage. An empty phase is vacuously complete at 100.
func aggregatePhase(progress []Progress) PhaseAggregate {
	agg := PhaseAggregate{Activities: len(progress)}
	if len(progress) == 0 {
		agg.Progress = 100
		return agg
	}
	var (
		sum          float64
		contributors int
	)
	for _, p := range progress {
		if p.Started {
			agg.Started++
		}
		if p.Completed {
			agg.Completed++
		}
		if p.Percent > 0 {
			sum += p.Percent
			contributors++
		}
	}
	if contributors > 0 {
		agg.Progress = sum / float64(contributors)
	}
	return agg
}
