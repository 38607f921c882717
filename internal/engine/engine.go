package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/metrics"
	"siteline/internal/notify"
	"siteline/internal/status"
	"siteline/internal/store"
)

// ReasonManualPreserved is reported for projects whose manual status was left
// untouched by a recomputation.
const ReasonManualPreserved = "manual status preserved"

// Engine recomputes project statuses against a store and applies manual
// transitions.
type Engine struct {
	Store      store.Store
	Classifier status.Classifier
	Notifier   notify.Notifier
	Logger     *zap.Logger
	Now        func() time.Time

	Workers        int
	WriteDelay     time.Duration
	Deadline       time.Duration
	PreserveManual bool
}

func New(st store.Store, cfg *config.Config, n notify.Notifier, logger *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if n == nil {
		n = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := Engine{
		Store:          st,
		Notifier:       n,
		Logger:         logger,
		Now:            time.Now,
		Workers:        cfg.Recompute.Workers,
		WriteDelay:     cfg.Recompute.WriteDelay.Std(),
		Deadline:       cfg.Recompute.Deadline.Std(),
		PreserveManual: cfg.Recompute.PreserveManual,
	}
	if cfg.Recompute.LegacyUnitFallback {
		e.Classifier.Evaluator = status.LegacyUnitEvaluator{}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) notifier() notify.Notifier {
	if e.Notifier != nil {
		return e.Notifier
	}
	return notify.Nop{}
}

// RecomputeResult is the outcome of recomputing one project.
type RecomputeResult struct {
	ProjectID   string
	ProjectCode string
	Previous    domain.Status
	Result      status.Result
	Skipped     bool
	Changed     bool
	Err         error
}

// ClassifyProject infers a status without touching the store.
func (e Engine) ClassifyProject(p domain.Project, activities []domain.Activity, records []domain.ProgressRecord, now time.Time) status.Result {
	return e.Classifier.Classify(p, activities, records, now)
}

// Preview loads a project and classifies it without writing anything back.
func (e Engine) Preview(ctx context.Context, id string) (domain.Project, status.Result, error) {
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, status.Result{}, err
	}
	res, err := e.classifyStored(ctx, p)
	return p, res, err
}

func (e Engine) classifyStored(ctx context.Context, p domain.Project) (status.Result, error) {
	acts, err := e.Store.ListActivities(ctx, p.Code)
	if err != nil {
		return status.Result{}, fmt.Errorf("list activities for %s: %w", p.Code, err)
	}
	recs, err := e.Store.ListProgressRecords(ctx, p.Code)
	if err != nil {
		return status.Result{}, fmt.Errorf("list progress records for %s: %w", p.Code, err)
	}
	return e.ClassifyProject(p, acts, recs, e.now()), nil
}

// RecomputeProject classifies one project and writes the result back.
func (e Engine) RecomputeProject(ctx context.Context, id string) (status.Result, error) {
	rr, err := e.Recompute(ctx, id)
	if err != nil {
		return status.Result{}, err
	}
	return rr.Result, nil
}

// Recompute is RecomputeProject with the full outcome.
func (e Engine) Recompute(ctx context.Context, id string) (RecomputeResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveRecomputeDuration("project", time.Since(start)) }()

	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		metrics.RecordRecompute(metrics.OutcomeFailed)
		return RecomputeResult{ProjectID: id}, err
	}
	rr := e.recompute(ctx, p, 0)
	return rr, rr.Err
}

func (e Engine) recompute(ctx context.Context, p domain.Project, delay time.Duration) RecomputeResult {
	rr := RecomputeResult{ProjectID: p.ID, ProjectCode: p.Code, Previous: p.Status}
	fail := func(err error) RecomputeResult {
		rr.Err = err
		metrics.RecordRecompute(metrics.OutcomeFailed)
		e.logger().Warn("recompute failed", zap.String("project_code", p.Code), zap.Error(err))
		return rr
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if e.PreserveManual && p.Status.IsManual() {
		rr.Skipped = true
		rr.Result = status.Result{Status: p.Status, Confidence: p.Confidence, Reason: ReasonManualPreserved}
		metrics.RecordRecompute(metrics.OutcomeSkipped)
		return rr
	}

	res, err := e.classifyStored(ctx, p)
	if err != nil {
		return fail(err)
	}
	rr.Result = res

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fail(ctx.Err())
		case <-t.C:
		}
	}

	u := domain.StatusUpdate{
		ProjectID:   p.ID,
		ProjectCode: p.Code,
		Expected:    p.Status,
		Status:      res.Status,
		Confidence:  res.Confidence,
		Reason:      res.Reason,
		Source:      domain.SourceAuto,
		At:          e.now(),
	}
	if err := e.Store.UpdateProjectStatus(ctx, u); err != nil {
		return fail(fmt.Errorf("write status for %s: %w", p.Code, err))
	}
	rr.Changed = res.Status != p.Status
	if !rr.Changed {
		metrics.RecordRecompute(metrics.OutcomeUnchanged)
		return rr
	}
	metrics.RecordRecompute(metrics.OutcomeUpdated)
	e.logger().Info("project status changed",
		zap.String("project_code", p.Code),
		zap.String("from", string(p.Status)),
		zap.String("to", string(res.Status)),
		zap.String("reason", res.Reason),
	)
	e.publish(ctx, p, u)
	return rr
}

func (e Engine) publish(ctx context.Context, p domain.Project, u domain.StatusUpdate) {
	msg := notify.StatusChanged{
		ProjectID:   p.ID,
		ProjectCode: p.Code,
		From:        p.Status,
		To:          u.Status,
		Confidence:  u.Confidence,
		Reason:      u.Reason,
		Source:      u.Source,
		At:          u.At,
	}
	if err := e.notifier().StatusChanged(ctx, msg); err != nil {
		e.logger().Warn("status notification failed", zap.String("project_code", p.Code), zap.Error(err))
	}
}

// RecomputeAll recomputes every project on a bounded worker pool. Results are
// returned in project order; a failing project never stops the others. The
// error is non-nil only when the project list cannot be read.
func (e Engine) RecomputeAll(ctx context.Context) ([]RecomputeResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveRecomputeDuration("all", time.Since(start)) }()

	if e.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Deadline)
		defer cancel()
	}
	projects, err := e.Store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}
	results := make([]RecomputeResult, len(projects))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, p := range projects {
		g.Go(func() error {
			results[i] = e.recompute(ctx, p, e.WriteDelay)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summarize(results)
	metrics.SetStatusDistribution(summary.Statuses)
	e.logger().Info("recomputed projects",
		zap.Int("total", summary.Total),
		zap.Int("changed", summary.Changed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// Summary counts the outcomes of a bulk recomputation.
type Summary struct {
	Total    int                   `json:"total"`
	Changed  int                   `json:"changed"`
	Skipped  int                   `json:"skipped"`
	Failed   int                   `json:"failed"`
	Statuses map[domain.Status]int `json:"statuses"`
}

// Summarize tallies results. Failed projects count under their previous
// status.
func Summarize(results []RecomputeResult) Summary {
	s := Summary{Total: len(results), Statuses: make(map[domain.Status]int)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Failed++
			s.Statuses[r.Previous]++
			continue
		case r.Skipped:
			s.Skipped++
		case r.Changed:
			s.Changed++
		}
		s.Statuses[r.Result.Status]++
	}
	return s
}

// SetStatus applies an operator transition. Requests the transition table
// rejects are never written, and the write fails with store.ErrStatusConflict
// if the status changed after it was checked.
func (e Engine) SetStatus(ctx context.Context, id string, requested domain.Status, reason string) (domain.Project, error) {
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := status.CheckTransition(p.Status, requested); err != nil {
		return domain.Project{}, err
	}
	if reason == "" {
		reason = fmt.Sprintf("manual transition from %s", p.Status)
	}
	u := domain.StatusUpdate{
		ProjectID:   p.ID,
		ProjectCode: p.Code,
		Expected:    p.Status,
		Status:      requested,
		Confidence:  status.ConfidenceDefinite,
		Reason:      reason,
		Source:      domain.SourceManual,
		At:          e.now(),
	}
	if err := e.Store.UpdateProjectStatus(ctx, u); err != nil {
		return domain.Project{}, err
	}
	e.publish(ctx, p, u)
	previous := p.Status
	p.Status = u.Status
	p.Confidence = u.Confidence
	p.Reason = u.Reason
	p.StatusSource = u.Source
	p.StatusUpdatedAt = u.At
	e.logger().Info("manual status transition",
		zap.String("project_code", p.Code),
		zap.String("from", string(previous)),
		zap.String("to", string(requested)),
	)
	return p, nil
}

// IsInvalidTransition reports whether err is a rejected manual transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, status.ErrInvalidTransition)
}
