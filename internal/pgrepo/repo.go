// Package pgrepo is the PostgreSQL implementation of the project store.
package pgrepo

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"siteline/internal/domain"
	"siteline/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Repo struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

var (
	_ store.Store    = (*Repo)(nil)
	_ store.Seeder   = (*Repo)(nil)
	_ store.EventLog = (*Repo)(nil)
)

func NewRepo(db *pgxpool.Pool, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{db: db, logger: logger}
}

// Connect opens a pool against dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	if logger != nil {
		logger.Info("PostgreSQL connection established",
			zap.String("host", poolCfg.ConnConfig.Host),
			zap.String("db", poolCfg.ConnConfig.Database),
			zap.Int32("max_conns", poolCfg.MaxConns),
		)
	}
	return pool, nil
}

// EnsureSchema creates the tables if they do not exist.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const projectColumns = `id, code, name, COALESCE(to_char(start_date, 'YYYY-MM-DD'), ''), COALESCE(to_char(end_date, 'YYYY-MM-DD'), ''),
        status, confidence, COALESCE(reason, ''), status_source, status_updated_at, created_at`

func scanProject(row pgx.Row) (domain.Project, error) {
	var (
		p         domain.Project
		status    string
		updatedAt *time.Time
	)
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.StartDate, &p.EndDate, &status, &p.Confidence, &p.Reason, &p.StatusSource, &updatedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, store.ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = domain.Status(status)
	if updatedAt != nil {
		p.StatusUpdatedAt = updatedAt.UTC()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (r *Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	query := `SELECT ` + projectColumns + `
        FROM projects
        WHERE id = $1 OR code = $1
        ORDER BY (id = $1) DESC
        LIMIT 1`
	p, err := scanProject(r.db.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Error("Failed to get project", zap.String("project_id", id), zap.Error(err))
	}
	return p, err
}

func (r *Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.db.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY code`)
	if err != nil {
		r.logger.Error("Failed to list projects", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			r.logger.Error("Failed to scan project", zap.Error(err))
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *Repo) ListActivities(ctx context.Context, projectCode string) ([]domain.Activity, error) {
	query := `
        SELECT id, project_code, name, timing, COALESCE(unit, ''), planned_units, actual_units
        FROM activities
        WHERE project_code = $1
        ORDER BY position ASC
    `
	rows, err := r.db.Query(ctx, query, projectCode)
	if err != nil {
		r.logger.Error("Failed to list activities", zap.String("project_code", projectCode), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var (
			a      domain.Activity
			timing string
		)
		if err := rows.Scan(&a.ID, &a.ProjectCode, &a.Name, &timing, &a.Unit, &a.PlannedUnits, &a.ActualUnits); err != nil {
			r.logger.Error("Failed to scan activity", zap.Error(err))
			return nil, err
		}
		a.Timing = domain.Timing(timing)
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (r *Repo) ListProgressRecords(ctx context.Context, projectCode string) ([]domain.ProgressRecord, error) {
	query := `
        SELECT id, project_code, activity_name, input_type, quantity, activity_date
        FROM progress_records
        WHERE project_code = $1
        ORDER BY activity_date ASC NULLS FIRST, position ASC
    `
	rows, err := r.db.Query(ctx, query, projectCode)
	if err != nil {
		r.logger.Error("Failed to list progress records", zap.String("project_code", projectCode), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var records []domain.ProgressRecord
	for rows.Next() {
		var (
			rec  domain.ProgressRecord
			in   string
			date *time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.ProjectCode, &rec.ActivityName, &in, &rec.Quantity, &date); err != nil {
			r.logger.Error("Failed to scan progress record", zap.Error(err))
			return nil, err
		}
		rec.InputType = domain.InputType(in)
		if date != nil {
			rec.ActivityDate = *date
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateProjectStatus locks the project row, updates it and records the
// change in one transaction.
func (r *Repo) UpdateProjectStatus(ctx context.Context, u domain.StatusUpdate) error {
	if _, err := domain.ParseStatus(string(u.Status)); err != nil {
		return err
	}
	if u.Source == "" {
		u.Source = domain.SourceAuto
	}
	if u.At.IsZero() {
		u.At = time.Now()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var previous string
	err = tx.QueryRow(ctx, `SELECT status FROM projects WHERE id = $1 FOR UPDATE`, u.ProjectID).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if u.Expected != "" && domain.Status(previous) != u.Expected {
		return fmt.Errorf("%w: expected %s, found %s", store.ErrStatusConflict, u.Expected, previous)
	}
	if _, err := tx.Exec(ctx, `
        UPDATE projects
        SET status = $1, confidence = $2, reason = NULLIF($3, ''), status_source = $4, status_updated_at = $5
        WHERE id = $6
    `, string(u.Status), u.Confidence, u.Reason, u.Source, u.At.UTC(), u.ProjectID); err != nil {
		r.logger.Error("Failed to update project status", zap.String("project_id", u.ProjectID), zap.Error(err))
		return fmt.Errorf("update project status: %w", err)
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO project_status_events (project_id, from_status, to_status, confidence, reason, source, created_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
    `, u.ProjectID, previous, string(u.Status), u.Confidence, u.Reason, u.Source, u.At.UTC()); err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	r.logger.Debug("Project status updated",
		zap.String("project_id", u.ProjectID),
		zap.String("from", previous),
		zap.String("to", string(u.Status)),
	)
	return nil
}

func (r *Repo) InsertProject(ctx context.Context, p domain.Project, _ string) (domain.Project, error) {
	if strings.TrimSpace(p.Code) == "" {
		return domain.Project{}, errors.New("project code is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Name == "" {
		p.Name = p.Code
	}
	if p.Status == "" {
		p.Status = domain.StatusUpcoming
	}
	if p.StatusSource == "" {
		p.StatusSource = domain.SourceAuto
	}
	query := `
        INSERT INTO projects (id, code, name, start_date, end_date, status, confidence, reason, status_source)
        VALUES ($1, $2, $3, NULLIF($4, '')::date, NULLIF($5, '')::date, $6, $7, NULLIF($8, ''), $9)
        RETURNING created_at
    `
	if err := r.db.QueryRow(ctx, query,
		p.ID, p.Code, p.Name, p.StartDate, p.EndDate, string(p.Status), p.Confidence, p.Reason, p.StatusSource,
	).Scan(&p.CreatedAt); err != nil {
		r.logger.Error("Failed to insert project", zap.String("code", p.Code), zap.Error(err))
		return domain.Project{}, err
	}
	r.logger.Info("Project inserted", zap.String("id", p.ID), zap.String("code", p.Code))
	return p, nil
}

func (r *Repo) InsertActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	timing, err := domain.ParseTiming(string(a.Timing))
	if err != nil {
		return domain.Activity{}, err
	}
	a.Timing = timing
	if err := a.Validate(); err != nil {
		return domain.Activity{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, err := r.db.Exec(ctx, `
        INSERT INTO activities (id, project_code, name, timing, unit, planned_units, actual_units)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
    `, a.ID, a.ProjectCode, a.Name, string(a.Timing), a.Unit, a.PlannedUnits, a.ActualUnits); err != nil {
		r.logger.Error("Failed to insert activity", zap.String("project_code", a.ProjectCode), zap.Error(err))
		return domain.Activity{}, err
	}
	return a, nil
}

func (r *Repo) InsertProgressRecord(ctx context.Context, rec domain.ProgressRecord) (domain.ProgressRecord, error) {
	in, err := domain.ParseInputType(string(rec.InputType))
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	rec.InputType = in
	if err := rec.Validate(); err != nil {
		return domain.ProgressRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var date *time.Time
	if !rec.ActivityDate.IsZero() {
		d := rec.ActivityDate
		date = &d
	}
	if _, err := r.db.Exec(ctx, `
        INSERT INTO progress_records (id, project_code, activity_name, input_type, quantity, activity_date)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, rec.ID, rec.ProjectCode, rec.ActivityName, string(rec.InputType), rec.Quantity, date); err != nil {
		r.logger.Error("Failed to insert progress record", zap.String("project_code", rec.ProjectCode), zap.Error(err))
		return domain.ProgressRecord{}, err
	}
	return rec, nil
}

// LatestEvents returns status changes newest first. Only project.status
// events are kept in PostgreSQL.
func (r *Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	if evtType != "" && evtType != "project.status" {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
        SELECT id, created_at, project_id, from_status, to_status, confidence, COALESCE(reason, ''), source
        FROM project_status_events
        WHERE $1 = '' OR project_id = $1
        ORDER BY id DESC
        LIMIT $2
    `, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Event
	for rows.Next() {
		var (
			e                domain.Event
			at               time.Time
			from, to, reason string
			confidence       int
		)
		if err := rows.Scan(&e.ID, &at, &e.ProjectID, &from, &to, &confidence, &reason, &e.ActorID); err != nil {
			return nil, err
		}
		payload, err := json.Marshal(map[string]any{
			"from":       from,
			"to":         to,
			"confidence": confidence,
			"reason":     reason,
			"source":     e.ActorID,
		})
		if err != nil {
			return nil, err
		}
		e.TS = at.UTC().Format(time.RFC3339)
		e.Type = "project.status"
		e.EntityKind = "project"
		e.EntityID = e.ProjectID
		e.Payload = string(payload)
		res = append(res, e)
	}
	return res, rows.Err()
}
