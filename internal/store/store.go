// Package store defines the data-store contract the status engine reads from
// and writes back to.
package store

import (
	"context"
	"errors"

	"siteline/internal/domain"
)

var (
	// ErrNotFound is returned for unknown project ids.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a status update's expected status no
	// longer matches the stored one.
	ErrStatusConflict = errors.New("project status changed concurrently")
)

// Store supplies projects, activities and progress records and receives
// status write-backs. UpdateProjectStatus must be atomic per project and must
// reject the write with ErrStatusConflict when StatusUpdate.Expected is set and
// differs from the stored status.
type Store interface {
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	ListActivities(ctx context.Context, projectCode string) ([]domain.Activity, error)
	ListProgressRecords(ctx context.Context, projectCode string) ([]domain.ProgressRecord, error)
	UpdateProjectStatus(ctx context.Context, u domain.StatusUpdate) error
}

// Seeder creates the records the engine reads. Both SQL backends implement it.
type Seeder interface {
	InsertProject(ctx context.Context, p domain.Project, actorID string) (domain.Project, error)
	InsertActivity(ctx context.Context, a domain.Activity) (domain.Activity, error)
	InsertProgressRecord(ctx context.Context, r domain.ProgressRecord) (domain.ProgressRecord, error)
}

// EventLog exposes the audit trail written alongside status changes.
type EventLog interface {
	LatestEvents(ctx context.Context, limit int, projectID, evtType string) ([]domain.Event, error)
}
