package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/notify"
	"siteline/internal/status"
	"siteline/internal/store"
	"siteline/internal/store/storetest"
)

var now = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.StatusChanged
	err  error
}

func (n *recordingNotifier) StatusChanged(_ context.Context, msg notify.StatusChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) messages() []notify.StatusChanged {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.StatusChanged(nil), n.msgs...)
}

type testEnv struct {
	Engine   engine.Engine
	Store    *storetest.Memory
	Notifier *recordingNotifier
	Ctx      context.Context
}

func newTestEnv(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
		cfg.Recompute.WriteDelay = 0
	}
	mem := storetest.NewMemory()
	n := &recordingNotifier{}
	eng := engine.New(mem, cfg, n, zaptest.NewLogger(t))
	eng.Now = func() time.Time { return now }
	return testEnv{Engine: eng, Store: mem, Notifier: n, Ctx: context.Background()}
}

func (env testEnv) project(t *testing.T, code string, st domain.Status) domain.Project {
	t.Helper()
	p, err := env.Store.InsertProject(env.Ctx, domain.Project{Code: code, Status: st}, "tester")
	require.NoError(t, err)
	return p
}

func (env testEnv) activity(t *testing.T, code, name string, timing domain.Timing) {
	t.Helper()
	_, err := env.Store.InsertActivity(env.Ctx, domain.Activity{ProjectCode: code, Name: name, Timing: timing})
	require.NoError(t, err)
}

func (env testEnv) record(t *testing.T, code, name string, in domain.InputType, qty float64) {
	t.Helper()
	_, err := env.Store.InsertProgressRecord(env.Ctx, domain.ProgressRecord{
		ProjectCode:  code,
		ActivityName: name,
		InputType:    in,
		Quantity:     qty,
		ActivityDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

// seedOnGoing creates a project whose single post-commencement activity has
// started but not finished.
func (env testEnv) seedOnGoing(t *testing.T, code string) domain.Project {
	t.Helper()
	p := env.project(t, code, domain.StatusUpcoming)
	env.activity(t, code, "Foundation", domain.TimingPostCommencement)
	env.record(t, code, "Foundation", domain.InputPlanned, 10)
	env.record(t, code, "Foundation", domain.InputActual, 4)
	return p
}

func TestRecomputeProjectWritesAndNotifies(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.seedOnGoing(t, "P1")

	res, err := env.Engine.RecomputeProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnGoing, res.Status)
	assert.Equal(t, status.ConfidenceDefinite, res.Confidence)

	stored, err := env.Store.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnGoing, stored.Status)
	assert.Equal(t, res.Reason, stored.Reason)
	assert.Equal(t, domain.SourceAuto, stored.StatusSource)
	assert.Equal(t, now, stored.StatusUpdatedAt)

	msgs := env.Notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusUpcoming, msgs[0].From)
	assert.Equal(t, domain.StatusOnGoing, msgs[0].To)
	assert.Equal(t, "P1", msgs[0].ProjectCode)
}

func TestRecomputeProjectByCode(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedOnGoing(t, "P1")

	res, err := env.Engine.RecomputeProject(env.Ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnGoing, res.Status)
}

func TestRecomputeUnchangedStatusDoesNotNotify(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.project(t, "P1", domain.StatusUpcoming)

	rr, err := env.Engine.Recompute(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, rr.Changed)
	assert.Equal(t, "no activities", rr.Result.Reason)
	assert.Empty(t, env.Notifier.messages())
	// the write still happens so confidence and reason are current
	require.Len(t, env.Store.Updates(), 1)
}

func TestRecomputeUnknownProject(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Engine.RecomputeProject(env.Ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecomputePreservesManualStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.project(t, "P1", domain.StatusOnHold)
	env.activity(t, "P1", "Foundation", domain.TimingPostCommencement)
	env.record(t, "P1", "Foundation", domain.InputActual, 4)

	rr, err := env.Engine.Recompute(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, rr.Skipped)
	assert.Equal(t, domain.StatusOnHold, rr.Result.Status)
	assert.Equal(t, engine.ReasonManualPreserved, rr.Result.Reason)
	assert.Empty(t, env.Store.Updates())
}

func TestRecomputeOverridesManualWhenNotPreserved(t *testing.T) {
	cfg := config.Default()
	cfg.Recompute.WriteDelay = 0
	cfg.Recompute.PreserveManual = false
	env := newTestEnv(t, cfg)
	p := env.project(t, "P1", domain.StatusCancelled)
	env.activity(t, "P1", "Foundation", domain.TimingPostCommencement)
	env.record(t, "P1", "Foundation", domain.InputActual, 4)

	res, err := env.Engine.RecomputeProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnGoing, res.Status)
}

func TestLegacyUnitFallbackFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Recompute.WriteDelay = 0
	cfg.Recompute.LegacyUnitFallback = true
	env := newTestEnv(t, cfg)
	p := env.project(t, "P1", domain.StatusUpcoming)
	_, err := env.Store.InsertActivity(env.Ctx, domain.Activity{
		ProjectCode: "P1", Name: "Clearing", Timing: domain.TimingPreCommencement, PlannedUnits: 10, ActualUnits: 2,
	})
	require.NoError(t, err)

	res, err := env.Engine.RecomputeProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSitePreparation, res.Status)

	// without the fallback unit totals are ignored
	plain := newTestEnv(t, nil)
	q := plain.project(t, "P1", domain.StatusUpcoming)
	_, err = plain.Store.InsertActivity(plain.Ctx, domain.Activity{
		ProjectCode: "P1", Name: "Clearing", Timing: domain.TimingPreCommencement, PlannedUnits: 10, ActualUnits: 2,
	})
	require.NoError(t, err)
	res, err = plain.Engine.RecomputeProject(plain.Ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUpcoming, res.Status)
}

func TestPreviewDoesNotWrite(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.seedOnGoing(t, "P1")

	got, res, err := env.Engine.Preview(env.Ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, domain.StatusOnGoing, res.Status)
	assert.Empty(t, env.Store.Updates())
}

func TestRecomputeAllContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.seedOnGoing(t, "A")
	b := env.seedOnGoing(t, "B")
	c := env.project(t, "C", domain.StatusUpcoming)
	boom := errors.New("disk full")
	env.Store.FailUpdate[b.ID] = boom

	results, err := env.Engine.RecomputeAll(env.Ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, a.ID, results[0].ProjectID)
	assert.Equal(t, b.ID, results[1].ProjectID)
	assert.Equal(t, c.ID, results[2].ProjectID)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, domain.StatusOnGoing, results[0].Result.Status)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.NoError(t, results[2].Err)

	stored, err := env.Store.GetProject(env.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUpcoming, stored.Status)

	sum := engine.Summarize(results)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Changed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Statuses[domain.StatusOnGoing])
	assert.Equal(t, 2, sum.Statuses[domain.StatusUpcoming])
}

func TestRecomputeAllReadFailureIsPerProject(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.seedOnGoing(t, "A")
	env.seedOnGoing(t, "B")
	env.Store.FailList["A"] = errors.New("timeout")

	results, err := env.Engine.RecomputeAll(env.Ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, a.ID, results[0].ProjectID)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, domain.StatusOnGoing, results[1].Result.Status)
}

func TestRecomputeAllManyWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.Recompute.Workers = 8
	cfg.Recompute.WriteDelay = config.Duration(time.Millisecond)
	env := newTestEnv(t, cfg)
	codes := []string{"P01", "P02", "P03", "P04", "P05", "P06", "P07", "P08", "P09", "P10", "P11", "P12"}
	for _, code := range codes {
		env.seedOnGoing(t, code)
	}

	results, err := env.Engine.RecomputeAll(env.Ctx)
	require.NoError(t, err)
	require.Len(t, results, len(codes))
	for i, r := range results {
		assert.Equal(t, codes[i], r.ProjectCode)
		assert.NoError(t, r.Err)
		assert.Equal(t, domain.StatusOnGoing, r.Result.Status)
	}
	assert.Len(t, env.Store.Updates(), len(codes))
	assert.Len(t, env.Notifier.messages(), len(codes))
}

func TestRecomputeAllHonoursDeadline(t *testing.T) {
	cfg := config.Default()
	cfg.Recompute.Workers = 1
	cfg.Recompute.WriteDelay = config.Duration(time.Second)
	cfg.Recompute.Deadline = config.Duration(20 * time.Millisecond)
	env := newTestEnv(t, cfg)
	env.seedOnGoing(t, "A")
	env.seedOnGoing(t, "B")

	results, err := env.Engine.RecomputeAll(env.Ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
	}
	assert.Empty(t, env.Store.Updates())
}

func TestNotificationFailureDoesNotFailRecompute(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Notifier.err = errors.New("broker down")
	p := env.seedOnGoing(t, "P1")

	_, err := env.Engine.RecomputeProject(env.Ctx, p.ID)
	require.NoError(t, err)
	stored, err := env.Store.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnGoing, stored.Status)
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.project(t, "P1", domain.StatusOnGoing)

	got, err := env.Engine.SetStatus(env.Ctx, p.ID, domain.StatusOnHold, "funding review")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnHold, got.Status)
	assert.Equal(t, domain.SourceManual, got.StatusSource)
	assert.Equal(t, status.ConfidenceDefinite, got.Confidence)
	assert.Equal(t, "funding review", got.Reason)

	got, err = env.Engine.SetStatus(env.Ctx, p.ID, domain.StatusOnGoing, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnGoing, got.Status)
	assert.Equal(t, "manual transition from on-hold", got.Reason)
	assert.Len(t, env.Notifier.messages(), 2)
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.project(t, "P1", domain.StatusContractCompleted)

	_, err := env.Engine.SetStatus(env.Ctx, p.ID, domain.StatusOnGoing, "")
	require.Error(t, err)
	assert.True(t, engine.IsInvalidTransition(err))
	var te *status.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.StatusContractCompleted, te.From)
	assert.Empty(t, env.Store.Updates())
	assert.Empty(t, env.Notifier.messages())
}

func TestCaseVariantTimingRejectedAtIngestion(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.project(t, "P1", domain.StatusUpcoming)
	_, err := env.Store.InsertActivity(env.Ctx, domain.Activity{ProjectCode: "P1", Name: "Clearing", Timing: "Pre-Commencement"})
	require.ErrorIs(t, err, domain.ErrInvalidTiming)

	env.activity(t, "P1", "Clearing", domain.TimingPreCommencement)
	env.record(t, "P1", "Clearing", domain.InputActual, 10)
	res, err := env.Engine.RecomputeProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSitePreparation, res.Status)
}

// interleavedStore applies a competing status write right after the engine
// reads a project, before the engine writes its own.
type interleavedStore struct {
	*storetest.Memory
	competing domain.StatusUpdate
	once      sync.Once
}

func (s *interleavedStore) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := s.Memory.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	s.once.Do(func() {
		u := s.competing
		u.ProjectID = p.ID
		u.ProjectCode = p.Code
		if err := s.Memory.UpdateProjectStatus(ctx, u); err != nil {
			panic(err)
		}
	})
	return p, nil
}

func TestSetStatusRejectsStaleStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.project(t, "P1", domain.StatusOnGoing)
	st := &interleavedStore{
		Memory:    env.Store,
		competing: domain.StatusUpdate{Status: domain.StatusContractCompleted, Source: domain.SourceAuto, At: now},
	}
	eng := env.Engine
	eng.Store = st

	// on-going -> on-hold is legal, but the stored status is now terminal
	_, err := eng.SetStatus(env.Ctx, p.ID, domain.StatusOnHold, "funding review")
	require.ErrorIs(t, err, store.ErrStatusConflict)

	stored, err := env.Store.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusContractCompleted, stored.Status)
	require.Len(t, env.Store.Updates(), 1)
	assert.Empty(t, env.Notifier.messages())
}

func TestRecomputeDoesNotOverwriteConcurrentManualStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.seedOnGoing(t, "P1")
	st := &interleavedStore{
		Memory:    env.Store,
		competing: domain.StatusUpdate{Status: domain.StatusOnHold, Source: domain.SourceManual, At: now},
	}
	eng := env.Engine
	eng.Store = st

	_, err := eng.RecomputeProject(env.Ctx, p.ID)
	require.ErrorIs(t, err, store.ErrStatusConflict)

	stored, err := env.Store.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnHold, stored.Status)
	assert.Equal(t, domain.SourceManual, stored.StatusSource)
}
