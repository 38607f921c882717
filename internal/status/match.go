package status

import (
	"strings"

	"siteline/internal/domain"
)

// Matches are the progress records belonging to one activity.
type Matches struct {
	Planned []domain.ProgressRecord
	Actual  []domain.ProgressRecord
}

// Empty reports whether no record matched.
func (m Matches) Empty() bool {
	return len(m.Planned) == 0 && len(m.Actual) == 0
}

// Matcher finds the progress records for an activity. Records are joined by
// name; an id-based join can replace NameIndex without touching Classify.
type Matcher interface {
	Match(a domain.Activity) Matches
}

// MatcherFactory builds a Matcher over one project's records.
type MatcherFactory func(records []domain.ProgressRecord) Matcher

// NormalizeName trims and lower-cases an activity name for matching.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NameIndex buckets records by normalized activity name.
type NameIndex map[string]Matches

// IndexByName builds a NameIndex in one pass over records.
func IndexByName(records []domain.ProgressRecord) NameIndex {
	idx := make(NameIndex)
	for _, r := range records {
		key := NormalizeName(r.ActivityName)
		if key == "" {
			continue
		}
		idx[key] = appendRecord(idx[key], r)
	}
	return idx
}

func newNameIndex(records []domain.ProgressRecord) Matcher {
	return IndexByName(records)
}

// Match returns the records whose normalized name equals the activity's.
// An activity without a name matches nothing.
func (idx NameIndex) Match(a domain.Activity) Matches {
	key := NormalizeName(a.Name)
	if key == "" {
		return Matches{}
	}
	return idx[key]
}

// MatchRecords scans records for one activity without building an index.
func MatchRecords(a domain.Activity, records []domain.ProgressRecord) Matches {
	key := NormalizeName(a.Name)
	if key == "" {
		return Matches{}
	}
	var m Matches
	for _, r := range records {
		if NormalizeName(r.ActivityName) == key {
			m = appendRecord(m, r)
		}
	}
	return m
}

func appendRecord(m Matches, r domain.ProgressRecord) Matches {
	switch r.InputType {
	case domain.InputPlanned:
		m.Planned = append(m.Planned, r)
	case domain.InputActual:
		m.Actual = append(m.Actual, r)
	}
	return m
}
