package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/events"
	"siteline/internal/migrate"
	"siteline/internal/repo"
	"siteline/internal/store"
)

var fixedNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := func() time.Time { return fixedNow }
	return repo.Repo{DB: conn, Events: events.Writer{Now: now}, Now: now}, conn
}

func TestMigrateIsRepeatable(t *testing.T) {
	_, conn := newTestRepo(t)
	v, err := migrate.Migrate(context.Background(), conn)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected schema version 1, got %d", v)
	}
}

func TestProjectLookupByIDOrCode(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	p, err := r.InsertProject(ctx, domain.Project{Code: "P1", Name: "Bridge"}, "tester")
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if p.ID == "" || p.Status != domain.StatusUpcoming {
		t.Fatalf("unexpected project defaults: %+v", p)
	}
	byID, err := r.GetProject(ctx, p.ID)
	if err != nil || byID.Code != "P1" {
		t.Fatalf("get by id: %+v %v", byID, err)
	}
	byCode, err := r.GetProject(ctx, "P1")
	if err != nil || byCode.ID != p.ID {
		t.Fatalf("get by code: %+v %v", byCode, err)
	}
	if _, err := r.GetProject(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.InsertProject(ctx, domain.Project{Code: "P1"}, "tester"); err == nil {
		t.Fatalf("expected duplicate code error")
	}
}

func TestActivitiesAndRecordsRejectMalformedEnums(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.InsertProject(ctx, domain.Project{Code: "P1"}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := r.InsertActivity(ctx, domain.Activity{ProjectCode: "P1", Name: "Slab", Timing: "mid-construction"}); !errors.Is(err, domain.ErrInvalidTiming) {
		t.Fatalf("expected invalid timing, got %v", err)
	}
	if _, err := r.InsertProgressRecord(ctx, domain.ProgressRecord{ProjectCode: "P1", ActivityName: "Slab", InputType: "forecast"}); !errors.Is(err, domain.ErrInvalidInputType) {
		t.Fatalf("expected invalid input type, got %v", err)
	}
	if _, err := r.InsertProgressRecord(ctx, domain.ProgressRecord{ProjectCode: "P1", ActivityName: "Slab", InputType: "actual", Quantity: -1}); !errors.Is(err, domain.ErrNegativeQuantity) {
		t.Fatalf("expected negative quantity error, got %v", err)
	}
}

func TestListActivitiesAndRecords(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.InsertProject(ctx, domain.Project{Code: "P1"}, ""); err != nil {
		t.Fatal(err)
	}
	for _, a := range []domain.Activity{
		{ProjectCode: "P1", Name: "Site Clearance", Timing: "PRE-COMMENCEMENT"},
		{ProjectCode: "P1", Name: "Foundation Pour", Timing: domain.TimingPostCommencement, PlannedUnits: 10},
	} {
		if _, err := r.InsertActivity(ctx, a); err != nil {
			t.Fatalf("insert activity: %v", err)
		}
	}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := r.InsertProgressRecord(ctx, domain.ProgressRecord{ProjectCode: "P1", ActivityName: "Site Clearance", InputType: "Actual", Quantity: 10, ActivityDate: day}); err != nil {
		t.Fatalf("insert record: %v", err)
	}
	if _, err := r.InsertProgressRecord(ctx, domain.ProgressRecord{ProjectCode: "P1", ActivityName: "Site Clearance", InputType: "planned", Quantity: 20}); err != nil {
		t.Fatalf("insert undated record: %v", err)
	}

	acts, err := r.ListActivities(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 2 || acts[0].Timing != domain.TimingPreCommencement || acts[1].PlannedUnits != 10 {
		t.Fatalf("unexpected activities: %+v", acts)
	}
	recs, err := r.ListProgressRecords(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	var dated, undated int
	for _, rec := range recs {
		if rec.ActivityDate.IsZero() {
			undated++
			continue
		}
		dated++
		if !rec.ActivityDate.Equal(day) || rec.InputType != domain.InputActual {
			t.Fatalf("unexpected dated record: %+v", rec)
		}
	}
	if dated != 1 || undated != 1 {
		t.Fatalf("dated=%d undated=%d", dated, undated)
	}
}

func TestUpdateProjectStatusWritesEvent(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	p, err := r.InsertProject(ctx, domain.Project{Code: "P1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	at := fixedNow.Add(time.Hour)
	if err := r.UpdateProjectStatus(ctx, domain.StatusUpdate{
		ProjectID: p.ID, Status: domain.StatusSitePreparation, Confidence: 100, Reason: "1 of 1 pre-commencement activities started", At: at,
	}); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := r.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusSitePreparation || got.Confidence != 100 || !got.StatusUpdatedAt.Equal(at) || got.StatusSource != domain.SourceAuto {
		t.Fatalf("unexpected project after update: %+v", got)
	}
	evts, err := r.LatestEvents(ctx, 10, p.ID, "project.status")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one status event, got %d", len(evts))
	}
	if err := r.UpdateProjectStatus(ctx, domain.StatusUpdate{ProjectID: "nope", Status: domain.StatusOnGoing}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := r.UpdateProjectStatus(ctx, domain.StatusUpdate{ProjectID: p.ID, Status: "paused"}); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestUpdateProjectStatusRejectsStaleExpected(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	p, err := r.InsertProject(ctx, domain.Project{Code: "P1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateProjectStatus(ctx, domain.StatusUpdate{
		ProjectID: p.ID, Expected: domain.StatusUpcoming, Status: domain.StatusOnGoing, Confidence: 100,
	}); err != nil {
		t.Fatalf("update with matching expected status: %v", err)
	}
	err = r.UpdateProjectStatus(ctx, domain.StatusUpdate{
		ProjectID: p.ID, Expected: domain.StatusUpcoming, Status: domain.StatusOnHold, Confidence: 100, Source: domain.SourceManual,
	})
	if !errors.Is(err, store.ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}
	got, err := r.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusOnGoing {
		t.Fatalf("stale write applied: %+v", got)
	}
	evts, err := r.LatestEvents(ctx, 10, p.ID, "project.status")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected only the first status event, got %d", len(evts))
	}
}

func TestInsertActivityNormalisesTiming(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.InsertProject(ctx, domain.Project{Code: "P1"}, ""); err != nil {
		t.Fatal(err)
	}
	a, err := r.InsertActivity(ctx, domain.Activity{ProjectCode: "P1", Name: "Clearing", Timing: "Pre-Commencement"})
	if err != nil {
		t.Fatalf("insert activity: %v", err)
	}
	if a.Timing != domain.TimingPreCommencement {
		t.Fatalf("timing not normalised: %q", a.Timing)
	}
	acts, err := r.ListActivities(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 1 || acts[0].Timing != domain.TimingPreCommencement {
		t.Fatalf("unexpected stored activities: %+v", acts)
	}
}
