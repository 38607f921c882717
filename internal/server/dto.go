package server

import (
	"fmt"
	"time"

	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/status"
)

const dateLayout = "2006-01-02"

// Request payloads

type CreateProjectRequest struct {
	ID        string `json:"id,omitempty"`
	Code      string `json:"code"`
	Name      string `json:"name,omitempty"`
	StartDate string `json:"start_date,omitempty" format:"date"`
	EndDate   string `json:"end_date,omitempty" format:"date"`
}

type CreateActivityRequest struct {
	Name         string  `json:"name"`
	Timing       string  `json:"timing" doc:"pre-commencement, post-commencement or post-completion (case-insensitive)"`
	Unit         string  `json:"unit,omitempty"`
	PlannedUnits float64 `json:"planned_units,omitempty"`
	ActualUnits  float64 `json:"actual_units,omitempty"`
}

type CreateProgressRecordRequest struct {
	ActivityName string  `json:"activity_name"`
	InputType    string  `json:"input_type" doc:"planned or actual (case-insensitive)"`
	Quantity     float64 `json:"quantity" minimum:"0"`
	ActivityDate string  `json:"activity_date,omitempty" format:"date"`
}

type TransitionRequest struct {
	Status string `json:"status" doc:"target status (case-insensitive)"`
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type ProjectResponse domain.Project

type ActivityResponse domain.Activity

type ProgressRecordResponse struct {
	ID           string  `json:"id"`
	ProjectCode  string  `json:"project_code"`
	ActivityName string  `json:"activity_name"`
	InputType    string  `json:"input_type"`
	Quantity     float64 `json:"quantity"`
	ActivityDate string  `json:"activity_date,omitempty" format:"date"`
}

type StatusResponse struct {
	ProjectID    string        `json:"project_id"`
	ProjectCode  string        `json:"project_code"`
	StoredStatus domain.Status `json:"stored_status"`
	status.Result
}

type RecomputeResponse struct {
	ProjectID   string        `json:"project_id"`
	ProjectCode string        `json:"project_code"`
	Previous    domain.Status `json:"previous_status"`
	Skipped     bool          `json:"skipped"`
	Changed     bool          `json:"changed"`
	Error       string        `json:"error,omitempty"`
	status.Result
}

type RecomputeAllResponse struct {
	Total    int                 `json:"total"`
	Changed  int                 `json:"changed"`
	Skipped  int                 `json:"skipped"`
	Failed   int                 `json:"failed"`
	Statuses map[string]int      `json:"statuses"`
	Results  []RecomputeResponse `json:"results"`
}

type TransitionsResponse struct {
	Status  domain.Status   `json:"status"`
	Targets []domain.Status `json:"targets"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func mapActivities(items []domain.Activity) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		out = append(out, ActivityResponse(a))
	}
	return out
}

func progressRecordResponse(r domain.ProgressRecord) ProgressRecordResponse {
	resp := ProgressRecordResponse{
		ID:           r.ID,
		ProjectCode:  r.ProjectCode,
		ActivityName: r.ActivityName,
		InputType:    string(r.InputType),
		Quantity:     r.Quantity,
	}
	if !r.ActivityDate.IsZero() {
		resp.ActivityDate = r.ActivityDate.Format(dateLayout)
	}
	return resp
}

func recomputeResponse(r engine.RecomputeResult) RecomputeResponse {
	resp := RecomputeResponse{
		ProjectID:   r.ProjectID,
		ProjectCode: r.ProjectCode,
		Previous:    r.Previous,
		Skipped:     r.Skipped,
		Changed:     r.Changed,
		Result:      r.Result,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

func recomputeAllResponse(results []engine.RecomputeResult) RecomputeAllResponse {
	sum := engine.Summarize(results)
	resp := RecomputeAllResponse{
		Total:    sum.Total,
		Changed:  sum.Changed,
		Skipped:  sum.Skipped,
		Failed:   sum.Failed,
		Statuses: make(map[string]int, len(sum.Statuses)),
		Results:  make([]RecomputeResponse, 0, len(results)),
	}
	for s, n := range sum.Statuses {
		resp.Statuses[string(s)] = n
	}
	for _, r := range results {
		resp.Results = append(resp.Results, recomputeResponse(r))
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse(e)
}

func parseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want YYYY-MM-DD", field, v)
	}
	return t, nil
}
