package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutlab/pubscout/internal/config"
	"github.com/scoutlab/pubscout/internal/model"
	"github.com/scoutlab/pubscout/internal/portal"
	"github.com/scoutlab/pubscout/internal/resilience"
	"github.com/scoutlab/pubscout/internal/store"
)

// --- fakes ---

type fakeStore struct {
	existing map[string]bool
	inserted map[string]*model.ScoreResult
	notified map[string]bool
	cursors  map[string]string

	pingErr   error
	existsErr error
	insertErr error
}

func newFakeStore(existing ...string) *fakeStore {
	f := &fakeStore{
		existing: map[string]bool{},
		inserted: map[string]*model.ScoreResult{},
		notified: map[string]bool{},
		cursors:  map[string]string{},
	}
	for _, id := range existing {
		f.existing[id] = true
	}
	return f
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) Exists(_ context.Context, sourceID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.existing[sourceID], nil
}

func (f *fakeStore) Insert(_ context.Context, rec model.PublicationRecord, score *model.ScoreResult) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if f.existing[rec.SourceID] {
		return store.ErrDuplicate
	}
	f.existing[rec.SourceID] = true
	f.inserted[rec.SourceID] = score
	return nil
}

func (f *fakeStore) MarkNotified(_ context.Context, sourceID string) error {
	if !f.existing[sourceID] {
		return store.ErrNotFound
	}
	f.notified[sourceID] = true
	return nil
}

func (f *fakeStore) LoadCursor(_ context.Context, name string) (string, error) {
	return f.cursors[name], nil
}

func (f *fakeStore) SaveCursor(_ context.Context, name, value string) error {
	f.cursors[name] = value
	return nil
}

func (f *fakeStore) ClearCursor(_ context.Context, name string) error {
	delete(f.cursors, name)
	return nil
}

func (f *fakeStore) CountPublications(context.Context) (int, error) {
	return len(f.inserted), nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

type fakeSource struct {
	pages map[string]*portal.Page
	errs  map[string]error
	calls []string
}

func (f *fakeSource) FetchPage(_ context.Context, cursor string) (*portal.Page, error) {
	f.calls = append(f.calls, cursor)
	if err := f.errs[cursor]; err != nil {
		return nil, err
	}
	page, ok := f.pages[cursor]
	if !ok {
		return &portal.Page{}, nil
	}
	return page, nil
}

type fakeScorer struct {
	scores map[string]float64
	errs   map[string]error
}

func (f *fakeScorer) Score(_ context.Context, rec model.PublicationRecord) (*model.ScoreResult, error) {
	if err := f.errs[rec.SourceID]; err != nil {
		return nil, err
	}
	return &model.ScoreResult{
		Score:     f.scores[rec.SourceID],
		Rationale: "test rationale",
		Model:     "test-model",
		ScoredAt:  time.Now().UTC(),
	}, nil
}

type fakeAlerter struct {
	enabled  bool
	fail     bool
	notified []string
}

func (f *fakeAlerter) Enabled() bool { return f.enabled }

func (f *fakeAlerter) Notify(_ context.Context, rec model.PublicationRecord, _ model.ScoreResult) (int, int) {
	if f.fail {
		return 0, 1
	}
	f.notified = append(f.notified, rec.SourceID)
	return 1, 0
}

// --- helpers ---

func record(id string) model.PublicationRecord {
	return model.PublicationRecord{
		SourceID:  id,
		Title:     "Title " + id,
		Authors:   []string{"Author, A."},
		ScrapedAt: time.Now().UTC(),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Score: config.ScoreConfig{Threshold: 7.0},
		Run:   config.RunConfig{BudgetSecs: 600, StoreFailureLimit: 5},
	}
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func newTestPipeline(cfg *config.Config, st store.Store, src Source, sc Scorer, al Alerter) *Pipeline {
	p := New(cfg, st, src, sc, al)
	p.storePolicy = fastPolicy()
	p.fetchPolicy = fastPolicy()
	return p
}

func singlePage(records ...model.PublicationRecord) *fakeSource {
	return &fakeSource{pages: map[string]*portal.Page{
		"": {Records: records},
	}}
}

// --- tests ---

func TestRun_ScoresPersistsAndNotifies(t *testing.T) {
	st := newFakeStore("dup-1")
	src := singlePage(record("dup-1"), record("new-1"), record("new-2"))
	scorer := &fakeScorer{scores: map[string]float64{"new-1": 8.5, "new-2": 3.0}}
	alerter := &fakeAlerter{enabled: true}

	report, err := newTestPipeline(testConfig(), st, src, scorer, alerter).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, report.Status)
	assert.Equal(t, 3, report.CandidatesSeen)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 2, report.NewRecords)
	assert.Equal(t, 2, report.Scored)
	assert.Equal(t, 2, report.Persisted)
	assert.Equal(t, 1, report.AboveThreshold)
	assert.Equal(t, 1, report.NotificationsSent)
	assert.Zero(t, report.NotifyFailed)

	assert.Equal(t, []string{"new-1"}, alerter.notified)
	assert.True(t, st.notified["new-1"])
	assert.False(t, st.notified["new-2"])
	require.NotNil(t, st.inserted["new-1"])
	assert.Equal(t, 8.5, st.inserted["new-1"].Score)
}

func TestRun_ScoringFailureSkipsRecordOnly(t *testing.T) {
	st := newFakeStore()
	src := singlePage(record("ok-1"), record("bad"), record("ok-2"))
	scorer := &fakeScorer{
		scores: map[string]float64{"ok-1": 5.0, "ok-2": 6.0},
		errs:   map[string]error{"bad": eris.New("model returned garbage")},
	}

	report, err := newTestPipeline(testConfig(), st, src, scorer, &fakeAlerter{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, report.Status)
	assert.Equal(t, 3, report.NewRecords)
	assert.Equal(t, 1, report.ScoreFailed)
	assert.Equal(t, 2, report.Persisted)
	assert.NotContains(t, st.inserted, "bad")
}

func TestRun_UnscoredRecoveryPersistsWithoutScore(t *testing.T) {
	cfg := testConfig()
	cfg.Store.AllowUnscored = true

	st := newFakeStore()
	src := singlePage(record("bad"))
	scorer := &fakeScorer{errs: map[string]error{"bad": eris.New("model down")}}

	report, err := newTestPipeline(cfg, st, src, scorer, &fakeAlerter{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.ScoreFailed)
	assert.Equal(t, 1, report.Persisted)
	assert.Equal(t, 1, report.PersistedUnscored)
	require.Contains(t, st.inserted, "bad")
	assert.Nil(t, st.inserted["bad"])
}

func TestRun_StoreUnreachableFailsRun(t *testing.T) {
	st := newFakeStore()
	st.pingErr = eris.New("connection refused")
	src := singlePage(record("new-1"))

	report, err := newTestPipeline(testConfig(), st, src, &fakeScorer{}, &fakeAlerter{}).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, report.Status)
	assert.NotEmpty(t, report.Error)
	assert.Empty(t, st.inserted)
	assert.Empty(t, src.calls)
}

func TestRun_IdempotentRerun(t *testing.T) {
	st := newFakeStore()
	src := singlePage(record("a"), record("b"))
	scorer := &fakeScorer{scores: map[string]float64{"a": 8.0, "b": 9.0}}
	alerter := &fakeAlerter{enabled: true}
	cfg := testConfig()

	report, err := newTestPipeline(cfg, st, src, scorer, alerter).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Persisted)
	assert.Equal(t, 2, report.NotificationsSent)

	report, err = newTestPipeline(cfg, st, src, scorer, alerter).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, report.Status)
	assert.Equal(t, 2, report.Duplicates)
	assert.Zero(t, report.NewRecords)
	assert.Zero(t, report.Persisted)
	assert.Len(t, alerter.notified, 2)
}

func TestRun_FirstPageFetchFailure(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{errs: map[string]error{"": eris.New("portal returned 404 Not Found")}}

	report, err := newTestPipeline(testConfig(), st, src, &fakeScorer{}, &fakeAlerter{}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, report.Status)
}

func TestRun_LaterPageFetchFailureCompletesRun(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{
		pages: map[string]*portal.Page{
			"": {Records: []model.PublicationRecord{record("a")}, Next: "2"},
		},
		errs: map[string]error{"2": eris.New("portal returned 404 Not Found")},
	}
	scorer := &fakeScorer{scores: map[string]float64{"a": 5.0}}

	report, err := newTestPipeline(testConfig(), st, src, scorer, &fakeAlerter{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, report.Status)
	assert.Equal(t, 1, report.PagesFetched)
	assert.Equal(t, 1, report.Persisted)
	// The checkpoint points at the failed page for the next run.
	assert.Equal(t, "2", st.cursors[cursorName])
}

func TestRun_CursorCheckpointAndClear(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{pages: map[string]*portal.Page{
		"":  {Records: []model.PublicationRecord{record("a")}, Next: "2"},
		"2": {Records: []model.PublicationRecord{record("b")}, Next: "3"},
		"3": {},
	}}
	scorer := &fakeScorer{scores: map[string]float64{"a": 1.0, "b": 2.0}}

	report, err := newTestPipeline(testConfig(), st, src, scorer, &fakeAlerter{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.PagesFetched)
	assert.Equal(t, []string{"", "2", "3"}, src.calls)
	assert.NotContains(t, st.cursors, cursorName)
}

func TestRun_ResumesFromSavedCursor(t *testing.T) {
	st := newFakeStore()
	st.cursors[cursorName] = "4"
	src := &fakeSource{pages: map[string]*portal.Page{
		"4": {Records: []model.PublicationRecord{record("late")}},
	}}
	scorer := &fakeScorer{scores: map[string]float64{"late": 2.0}}

	report, err := newTestPipeline(testConfig(), st, src, scorer, &fakeAlerter{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"4"}, src.calls)
	assert.Equal(t, 1, report.Persisted)
}

func TestRun_BudgetExhaustedFinishesCompleted(t *testing.T) {
	cfg := testConfig()
	cfg.Run.BudgetSecs = 1 // under the reserve, stops before the first page

	st := newFakeStore()
	src := singlePage(record("a"))

	report, err := newTestPipeline(cfg, st, src, &fakeScorer{}, &fakeAlerter{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, report.Status)
	assert.Zero(t, report.PagesFetched)
	assert.Empty(t, src.calls)
}

func TestRun_MaxPagesLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Portal.MaxPages = 1

	st := newFakeStore()
	src := &fakeSource{pages: map[string]*portal.Page{
		"":  {Records: []model.PublicationRecord{record("a")}, Next: "2"},
		"2": {Records: []model.PublicationRecord{record("b")}, Next: "3"},
	}}
	scorer := &fakeScorer{scores: map[string]float64{"a": 1.0, "b": 2.0}}

	report, err := newTestPipeline(cfg, st, src, scorer, &fakeAlerter{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.PagesFetched)
	assert.Equal(t, "2", st.cursors[cursorName])
}

func TestRun_ConsecutiveStoreFailuresEscalate(t *testing.T) {
	cfg := testConfig()
	cfg.Run.StoreFailureLimit = 2

	st := newFakeStore()
	st.existsErr = eris.New("connection refused")
	src := singlePage(record("a"), record("b"), record("c"))

	report, err := newTestPipeline(cfg, st, src, &fakeScorer{}, &fakeAlerter{}).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, report.Status)
	assert.Equal(t, 2, report.FilterFailed)
	assert.Zero(t, report.PersistFailed)
}

func TestRun_DedupFailureCountedSeparately(t *testing.T) {
	cfg := testConfig()
	cfg.Run.StoreFailureLimit = 10

	st := newFakeStore()
	st.existsErr = eris.New("connection refused")
	src := singlePage(record("a"))

	report, err := newTestPipeline(cfg, st, src, &fakeScorer{}, &fakeAlerter{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilterFailed)
	assert.Zero(t, report.PersistFailed)
	assert.Equal(t, 1, report.Errored())
}

func TestRun_NotifyFailureDoesNotMarkNotified(t *testing.T) {
	st := newFakeStore()
	src := singlePage(record("hot"))
	scorer := &fakeScorer{scores: map[string]float64{"hot": 9.5}}
	alerter := &fakeAlerter{enabled: true, fail: true}

	report, err := newTestPipeline(testConfig(), st, src, scorer, alerter).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Persisted)
	assert.Equal(t, 1, report.AboveThreshold)
	assert.Zero(t, report.NotificationsSent)
	assert.Equal(t, 1, report.NotifyFailed)
	assert.False(t, st.notified["hot"])
}

func TestRun_PersistFailureCountsRecord(t *testing.T) {
	st := newFakeStore()
	st.insertErr = eris.New("disk I/O error")
	src := singlePage(record("a"))
	scorer := &fakeScorer{scores: map[string]float64{"a": 5.0}}

	report, err := newTestPipeline(testConfig(), st, src, scorer, &fakeAlerter{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, report.Status)
	assert.Equal(t, 1, report.PersistFailed)
	assert.Zero(t, report.Persisted)
}
