package status

import "siteline/internal/domain"

// Phases holds a project's activities split by timing tag.
type Phases struct {
	Pre        []domain.Activity
	Post       []domain.Activity
	Completion []domain.Activity
}

// SplitPhases partitions activities by timing, preserving input order.
// Timing values outside the closed enum are expected to be rejected on
// ingestion and are not placed in any phase.
func SplitPhases(activities []domain.Activity) Phases {
	var p Phases
	for _, a := range activities {
		switch a.Timing {
		case domain.TimingPreCommencement:
			p.Pre = append(p.Pre, a)
		case domain.TimingPostCommencement:
			p.Post = append(p.Post, a)
		case domain.TimingPostCompletion:
			p.Completion = append(p.Completion, a)
		}
	}
	return p
}

// Len returns the number of classified activities.
func (p Phases) Len() int {
	return len(p.Pre) + len(p.Post) + len(p.Completion)
}
