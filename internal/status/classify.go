package status

import (
	"fmt"
	"time"

	"siteline/internal/domain"
)

const (
	// ConfidenceDefinite accompanies every rule-derived classification.
	ConfidenceDefinite = 100
	// ConfidenceDefault accompanies the upcoming fallback, where nothing in
	// the data positively supports a status.
	ConfidenceDefault = 0
)

// Result is the outcome of classifying one project.
type Result struct {
	Status     domain.Status  `json:"status"`
	Confidence int            `json:"confidence"`
	Reason     string         `json:"reason"`
	Pre        PhaseAggregate `json:"pre_commencement"`
	Post       PhaseAggregate `json:"post_commencement"`
	Completion PhaseAggregate `json:"post_completion"`
}

// Classifier runs the status pipeline. The zero value matches records by
// normalized name and evaluates progress from records only.
type Classifier struct {
	NewMatcher MatcherFactory
	Evaluator  Evaluator
}

// Classify runs the default Classifier.
func Classify(p domain.Project, activities []domain.Activity, records []domain.ProgressRecord, now time.Time) Result {
	return Classifier{}.Classify(p, activities, records, now)
}

// Classify infers the project's status. Completion states are checked before
// in-progress states so a finished project is never reported as on-going.
func (c Classifier) Classify(_ domain.Project, activities []domain.Activity, records []domain.ProgressRecord, now time.Time) Result {
	phases := SplitPhases(activities)
	if phases.Len() == 0 {
		return Result{
			Status:     domain.StatusUpcoming,
			Confidence: ConfidenceDefault,
			Reason:     "no activities",
			Pre:        aggregatePhase(nil),
			Post:       aggregatePhase(nil),
			Completion: aggregatePhase(nil),
		}
	}

	newMatcher := c.NewMatcher
	if newMatcher == nil {
		newMatcher = newNameIndex
	}
	eval := c.Evaluator
	if eval == nil {
		eval = RecordEvaluator{}
	}
	matcher := newMatcher(records)
	evaluate := func(acts []domain.Activity) PhaseAggregate {
		progress := make([]Progress, 0, len(acts))
		for _, a := range acts {
			progress = append(progress, eval.Evaluate(a, matcher.Match(a), now))
		}
		return aggregatePhase(progress)
	}

	res := Result{
		Confidence: ConfidenceDefinite,
		Pre:        evaluate(phases.Pre),
		Post:       evaluate(phases.Post),
		Completion: evaluate(phases.Completion),
	}
	switch {
	case res.Completion.AllCompleted():
		res.Status = domain.StatusContractCompleted
		res.Reason = fmt.Sprintf("all %d post-completion activities completed", res.Completion.Activities)
	case res.Post.AllCompleted():
		res.Status = domain.StatusCompletedDuration
		res.Reason = fmt.Sprintf("all %d post-commencement activities completed", res.Post.Activities)
	case res.Post.Started > 0:
		res.Status = domain.StatusOnGoing
		res.Reason = fmt.Sprintf("%d of %d post-commencement activities started", res.Post.Started, res.Post.Activities)
	case res.Pre.Started > 0:
		res.Status = domain.StatusSitePreparation
		res.Reason = fmt.Sprintf("%d of %d pre-commencement activities started", res.Pre.Started, res.Pre.Activities)
	default:
		res.Status = domain.StatusUpcoming
		res.Confidence = ConfidenceDefault
		res.Reason = "no activities started"
	}
	return res
}
