package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"siteline/internal/domain"
	"siteline/internal/events"
	"siteline/internal/store"
)

const dateLayout = "2006-01-02"

// Repo is the SQLite-backed project store.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var (
	_ store.Store    = Repo{}
	_ store.Seeder   = Repo{}
	_ store.EventLog = Repo{}
)

var ErrNotFound = store.ErrNotFound

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

const projectColumns = `id,code,name,COALESCE(start_date,''),COALESCE(end_date,''),status,confidence,COALESCE(reason,''),status_source,COALESCE(status_updated_at,''),created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var (
		p         domain.Project
		status    string
		updatedAt string
		createdAt string
	)
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.StartDate, &p.EndDate, &status, &p.Confidence, &p.Reason, &p.StatusSource, &updatedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = domain.Status(status)
	p.StatusUpdatedAt = parseTime(updatedAt)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// InsertProject stores a new project. Missing ids are generated and the
// status starts as upcoming.
func (r Repo) InsertProject(ctx context.Context, p domain.Project, actorID string) (domain.Project, error) {
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
	if _, err := domain.ParseStatus(string(p.Status)); err != nil {
		return domain.Project{}, err
	}
	if p.StatusSource == "" {
		p.StatusSource = domain.SourceAuto
	}
	p.CreatedAt = r.now().UTC().Truncate(time.Second)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,code,name,start_date,end_date,status,confidence,reason,status_source,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Name, nullable(p.StartDate), nullable(p.EndDate), string(p.Status), p.Confidence, nullable(p.Reason), p.StatusSource, formatTime(p.CreatedAt)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, "project", p.ID, actorOrDefault(actorID), events.EventPayload{"code": p.Code, "status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// GetProject looks a project up by id, falling back to its code.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=? OR code=? ORDER BY id=? DESC LIMIT 1`, id, id, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectStatus writes the status fields and the audit event in one
// transaction.
func (r Repo) UpdateProjectStatus(ctx context.Context, u domain.StatusUpdate) error {
	if _, err := domain.ParseStatus(string(u.Status)); err != nil {
		return err
	}
	if u.Source == "" {
		u.Source = domain.SourceAuto
	}
	if u.At.IsZero() {
		u.At = r.now()
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT status FROM projects WHERE id=?`, u.ProjectID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if u.Expected != "" && domain.Status(previous) != u.Expected {
		return fmt.Errorf("%w: expected %s, found %s", store.ErrStatusConflict, u.Expected, previous)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, confidence=?, reason=?, status_source=?, status_updated_at=? WHERE id=?`,
		string(u.Status), u.Confidence, nullable(u.Reason), u.Source, formatTime(u.At), u.ProjectID); err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	payload := events.EventPayload{
		"from":       previous,
		"to":         u.Status,
		"confidence": u.Confidence,
		"reason":     u.Reason,
		"source":     u.Source,
	}
	if err := r.Events.Append(ctx, tx, events.TypeProjectStatus, u.ProjectID, "project", u.ProjectID, u.Source, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
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
	if _, err := r.DB.ExecContext(ctx, `INSERT INTO activities(id,project_code,name,timing,unit,planned_units,actual_units) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.ProjectCode, a.Name, string(a.Timing), nullable(a.Unit), a.PlannedUnits, a.ActualUnits); err != nil {
		return domain.Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	return a, nil
}

func (r Repo) ListActivities(ctx context.Context, projectCode string) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_code,name,timing,COALESCE(unit,''),planned_units,actual_units FROM activities WHERE project_code=? ORDER BY rowid`, projectCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var (
			a      domain.Activity
			timing string
		)
		if err := rows.Scan(&a.ID, &a.ProjectCode, &a.Name, &timing, &a.Unit, &a.PlannedUnits, &a.ActualUnits); err != nil {
			return nil, err
		}
		a.Timing = domain.Timing(timing)
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertProgressRecord(ctx context.Context, rec domain.ProgressRecord) (domain.ProgressRecord, error) {
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
	if _, err := r.DB.ExecContext(ctx, `INSERT INTO progress_records(id,project_code,activity_name,input_type,quantity,activity_date) VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.ProjectCode, rec.ActivityName, string(rec.InputType), rec.Quantity, formatDate(rec.ActivityDate)); err != nil {
		return domain.ProgressRecord{}, fmt.Errorf("insert progress record: %w", err)
	}
	return rec, nil
}

func (r Repo) ListProgressRecords(ctx context.Context, projectCode string) ([]domain.ProgressRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_code,activity_name,input_type,quantity,COALESCE(activity_date,'') FROM progress_records WHERE project_code=? ORDER BY activity_date, rowid`, projectCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressRecord
	for rows.Next() {
		var (
			rec  domain.ProgressRecord
			in   string
			date string
		)
		if err := rows.Scan(&rec.ID, &rec.ProjectCode, &rec.ActivityName, &in, &rec.Quantity, &date); err != nil {
			return nil, err
		}
		rec.InputType = domain.InputType(in)
		if date != "" {
			if rec.ActivityDate, err = time.Parse(dateLayout, date); err != nil {
				return nil, fmt.Errorf("progress record %s: bad activity_date %q: %w", rec.ID, date, err)
			}
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// LatestEvents returns the newest events first, optionally for one project.
func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		clauses []string
		args    []any
	)
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	query := `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func actorOrDefault(actorID string) string {
	if actorID == "" {
		return "local-user"
	}
	return actorID
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(dateLayout)
}
