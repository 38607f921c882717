// Package storetest provides an in-memory store for tests.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"siteline/internal/domain"
	"siteline/internal/store"
)

// Memory is a concurrency-safe in-memory store.Store and store.Seeder.
// FailUpdate injects write errors by project id, FailList read errors by
// project code.
type Memory struct {
	mu         sync.Mutex
	projects   []domain.Project
	activities map[string][]domain.Activity
	records    map[string][]domain.ProgressRecord
	updates    []domain.StatusUpdate
	nextID     int

	FailUpdate map[string]error
	FailList   map[string]error
	ListCalls  int
}

var (
	_ store.Store  = (*Memory)(nil)
	_ store.Seeder = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		activities: make(map[string][]domain.Activity),
		records:    make(map[string][]domain.ProgressRecord),
		FailUpdate: make(map[string]error),
		FailList:   make(map[string]error),
	}
}

func (m *Memory) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *Memory) InsertProject(_ context.Context, p domain.Project, _ string) (domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = m.id("prj")
	}
	if p.Status == "" {
		p.Status = domain.StatusUpcoming
	}
	m.projects = append(m.projects, p)
	return p, nil
}

func (m *Memory) InsertActivity(_ context.Context, a domain.Activity) (domain.Activity, error) {
	if err := a.Validate(); err != nil {
		return domain.Activity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = m.id("act")
	}
	m.activities[a.ProjectCode] = append(m.activities[a.ProjectCode], a)
	return a, nil
}

func (m *Memory) InsertProgressRecord(_ context.Context, r domain.ProgressRecord) (domain.ProgressRecord, error) {
	if err := r.Validate(); err != nil {
		return domain.ProgressRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = m.id("kpi")
	}
	m.records[r.ProjectCode] = append(m.records[r.ProjectCode], r)
	return r, nil
}

func (m *Memory) GetProject(_ context.Context, id string) (domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.ID == id || p.Code == id {
			return p, nil
		}
	}
	return domain.Project{}, store.ErrNotFound
}

func (m *Memory) ListProjects(context.Context) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Project(nil), m.projects...), nil
}

func (m *Memory) ListActivities(_ context.Context, projectCode string) ([]domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if err := m.FailList[projectCode]; err != nil {
		return nil, err
	}
	return append([]domain.Activity(nil), m.activities[projectCode]...), nil
}

func (m *Memory) ListProgressRecords(_ context.Context, projectCode string) ([]domain.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if err := m.FailList[projectCode]; err != nil {
		return nil, err
	}
	return append([]domain.ProgressRecord(nil), m.records[projectCode]...), nil
}

func (m *Memory) UpdateProjectStatus(_ context.Context, u domain.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailUpdate[u.ProjectID]; err != nil {
		return err
	}
	for i := range m.projects {
		if m.projects[i].ID != u.ProjectID {
			continue
		}
		if u.Expected != "" && m.projects[i].Status != u.Expected {
			return fmt.Errorf("%w: expected %s, found %s", store.ErrStatusConflict, u.Expected, m.projects[i].Status)
		}
		m.projects[i].Status = u.Status
		m.projects[i].Confidence = u.Confidence
		m.projects[i].Reason = u.Reason
		m.projects[i].StatusSource = u.Source
		m.projects[i].StatusUpdatedAt = u.At
		m.updates = append(m.updates, u)
		return nil
	}
	return store.ErrNotFound
}

// Updates returns the status writes applied so far.
func (m *Memory) Updates() []domain.StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StatusUpdate(nil), m.updates...)
}
