package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Timing is the construction phase an activity belongs to.
type Timing string

const (
	TimingPreCommencement  Timing = "pre-commencement"
	TimingPostCommencement Timing = "post-commencement"
	TimingPostCompletion   Timing = "post-completion"
)

// InputType distinguishes planned from actual progress records.
type InputType string

const (
	InputPlanned InputType = "planned"
	InputActual  InputType = "actual"
)

// Status is the lifecycle phase of a project.
type Status string

const (
	StatusUpcoming          Status = "upcoming"
	StatusSitePreparation   Status = "site-preparation"
	StatusOnGoing           Status = "on-going"
	StatusCompletedDuration Status = "completed-duration"
	StatusContractCompleted Status = "contract-completed"
	StatusOnHold            Status = "on-hold"
	StatusCancelled         Status = "cancelled"
)

// Status sources recorded alongside a written status.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"
)

var (
	ErrInvalidTiming    = errors.New("invalid activity timing")
	ErrInvalidInputType = errors.New("invalid input type")
	ErrInvalidStatus    = errors.New("invalid project status")
	ErrNegativeQuantity = errors.New("quantity must not be negative")
	ErrInvalidQuantity  = errors.New("quantity must be a finite number")
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusUpcoming,
		StatusSitePreparation,
		StatusOnGoing,
		StatusCompletedDuration,
		StatusContractCompleted,
		StatusOnHold,
		StatusCancelled,
	}
}

// ParseTiming accepts a timing tag case-insensitively.
func ParseTiming(s string) (Timing, error) {
	t := Timing(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TimingPreCommencement, TimingPostCommencement, TimingPostCompletion:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTiming, s)
}

func ParseInputType(s string) (InputType, error) {
	t := InputType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case InputPlanned, InputActual:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidInputType, s)
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Statuses() {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsManual reports whether the status can only be set by an operator.
func (s Status) IsManual() bool {
	return s == StatusOnHold || s == StatusCancelled
}

func (s Status) String() string { return string(s) }

type Project struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	StartDate       string    `json:"start_date,omitempty" format:"date"`
	EndDate         string    `json:"end_date,omitempty" format:"date"`
	Status          Status    `json:"status" enum:"upcoming,site-preparation,on-going,completed-duration,contract-completed,on-hold,cancelled"`
	Confidence      int       `json:"confidence"`
	Reason          string    `json:"reason,omitempty"`
	StatusSource    string    `json:"status_source,omitempty" enum:"auto,manual"`
	StatusUpdatedAt time.Time `json:"status_updated_at,omitempty" format:"date-time"`
	CreatedAt       time.Time `json:"created_at" format:"date-time"`
}

type Activity struct {
	ID           string  `json:"id"`
	ProjectCode  string  `json:"project_code"`
	Name         string  `json:"name"`
	Timing       Timing  `json:"timing" enum:"pre-commencement,post-commencement,post-completion"`
	Unit         string  `json:"unit,omitempty"`
	PlannedUnits float64 `json:"planned_units,omitempty"`
	ActualUnits  float64 `json:"actual_units,omitempty"`
}

// ProgressRecord is a dated planned or actual quantity for an activity.
// Records join to activities by name, not by id.
type ProgressRecord struct {
	ID           string    `json:"id"`
	ProjectCode  string    `json:"project_code"`
	ActivityName string    `json:"activity_name"`
	InputType    InputType `json:"input_type" enum:"planned,actual"`
	Quantity     float64   `json:"quantity"`
	ActivityDate time.Time `json:"activity_date" format:"date"`
}

// StatusUpdate is a single atomic status write-back for one project. When
// Expected is set the write only applies if the stored status still equals it.
type StatusUpdate struct {
	ProjectID   string
	ProjectCode string
	Expected    Status
	Status      Status
	Confidence  int
	Reason      string
	Source      string
	At          time.Time
}

// Validate checks the closed enums on an activity before it is stored. Only
// canonical values pass; callers normalise input with ParseTiming first.
func (a Activity) Validate() error {
	if strings.TrimSpace(a.ProjectCode) == "" {
		return errors.New("activity project code is required")
	}
	t, err := ParseTiming(string(a.Timing))
	if err != nil {
		return err
	}
	if t != a.Timing {
		return fmt.Errorf("%w: %q is not canonical, use %q", ErrInvalidTiming, a.Timing, t)
	}
	return nil
}

func (r ProgressRecord) Validate() error {
	if strings.TrimSpace(r.ProjectCode) == "" {
		return errors.New("progress record project code is required")
	}
	in, err := ParseInputType(string(r.InputType))
	if err != nil {
		return err
	}
	if in != r.InputType {
		return fmt.Errorf("%w: %q is not canonical, use %q", ErrInvalidInputType, r.InputType, in)
	}
	if math.IsNaN(r.Quantity) || math.IsInf(r.Quantity, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, r.Quantity)
	}
	if r.Quantity < 0 {
		return ErrNegativeQuantity
	}
	return nil
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
