// Package pipeline orchestrates one harvest run: resume from the stored
// cursor, paginate the portal, then filter, score, persist, and notify
// per record.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scoutlab/pubscout/internal/config"
	"github.com/scoutlab/pubscout/internal/model"
	"github.com/scoutlab/pubscout/internal/portal"
	"github.com/scoutlab/pubscout/internal/resilience"
	"github.com/scoutlab/pubscout/internal/store"
)

// cursorName keys the pagination checkpoint in the store.
const cursorName = "portal"

// budgetReserve is held back from the run budget so an in-flight page
// can finish scoring and persisting before the deadline.
const budgetReserve = 30 * time.Second

// Source pulls one listing page per call.
type Source interface {
	FetchPage(ctx context.Context, cursor string) (*portal.Page, error)
}

// Scorer evaluates a single record.
type Scorer interface {
	Score(ctx context.Context, rec model.PublicationRecord) (*model.ScoreResult, error)
}

// Alerter fans an alert out to the configured channels.
type Alerter interface {
	Enabled() bool
	Notify(ctx context.Context, rec model.PublicationRecord, score model.ScoreResult) (sent, failed int)
}

// Pipeline wires the harvest stages together.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	source  Source
	scorer  Scorer
	alerter Alerter

	storePolicy resilience.Policy
	fetchPolicy resilience.Policy
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, source Source, scorer Scorer, alerter Alerter) *Pipeline {
	storePolicy := resilience.DefaultPolicy()
	storePolicy.OnRetry = resilience.RetryLogger("store", "query")

	fetchPolicy := resilience.DefaultPolicy()
	fetchPolicy.OnRetry = resilience.RetryLogger("portal", "fetch_page")

	return &Pipeline{
		cfg:         cfg,
		store:       st,
		source:      source,
		scorer:      scorer,
		alerter:     alerter,
		storePolicy: storePolicy,
		fetchPolicy: fetchPolicy,
	}
}

// Run executes one full harvest. The returned report is always non-nil;
// the error is non-nil only for run-level failures.
func (p *Pipeline) Run(ctx context.Context) (*model.RunReport, error) {
	report := model.NewRunReport()
	log := zap.L().With(zap.String("run_id", report.RunID))

	setState := func(state model.RunState) {
		log.Info("run state", zap.String("state", string(state)))
	}
	setState(model.StateStarted)

	fail := func(err error) (*model.RunReport, error) {
		setState(model.StateFailed)
		report.Finalize(model.RunStatusFailed, err)
		log.Error("run failed", zap.Error(err))
		return report, err
	}

	if err := resilience.Do(ctx, p.storePolicy, p.store.Ping); err != nil {
		return fail(eris.Wrap(err, "pipeline: store unreachable"))
	}

	cursor, err := p.store.LoadCursor(ctx, cursorName)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: load cursor"))
	}
	if cursor != "" {
		log.Info("resuming from checkpoint", zap.String("cursor", cursor))
	}

	budget := time.Duration(p.cfg.Run.BudgetSecs) * time.Second
	if budget <= 0 {
		budget = 14 * time.Minute
	}
	deadline := report.StartedAt.Add(budget)

	failureLimit := p.cfg.Run.StoreFailureLimit
	if failureLimit <= 0 {
		failureLimit = 5
	}
	consecutiveStoreFailures := 0

	maxPages := p.cfg.Portal.MaxPages
	done := false

	for !done {
		if maxPages > 0 && report.PagesFetched >= maxPages {
			log.Info("page limit reached", zap.Int("max_pages", maxPages))
			break
		}
		if time.Until(deadline) < budgetReserve {
			log.Info("run budget exhausted, stopping pagination",
				zap.Int("pages_fetched", report.PagesFetched))
			break
		}

		setState(model.StateFetching)
		page, err := resilience.DoVal(ctx, p.fetchPolicy, func(ctx context.Context) (*portal.Page, error) {
			return p.source.FetchPage(ctx, cursor)
		})
		if err != nil {
			if report.PagesFetched == 0 {
				return fail(eris.Wrap(err, "pipeline: first page fetch"))
			}
			// Progress was made; the saved cursor resumes the rest next run.
			log.Warn("page fetch failed after progress, finishing run", zap.Error(err))
			break
		}

		report.PagesFetched++
		report.CandidatesSeen += len(page.Records)
		report.ParseSkipped += page.ParseSkipped

		for _, rec := range page.Records {
			p.processRecord(ctx, rec, report, &consecutiveStoreFailures)
			if consecutiveStoreFailures >= failureLimit {
				return fail(eris.Errorf("pipeline: %d consecutive store failures", consecutiveStoreFailures))
			}
			if err := ctx.Err(); err != nil {
				return fail(eris.Wrap(err, "pipeline: cancelled"))
			}
		}

		if page.Next == "" {
			if err := p.store.ClearCursor(ctx, cursorName); err != nil {
				log.Warn("clear cursor failed", zap.Error(err))
			}
			done = true
			continue
		}
		if err := p.store.SaveCursor(ctx, cursorName, page.Next); err != nil {
			log.Warn("save cursor failed", zap.Error(err))
		}
		cursor = page.Next
	}

	setState(model.StateCompleted)
	report.Finalize(model.RunStatusCompleted, nil)
	log.Info("run completed",
		zap.Int("pages_fetched", report.PagesFetched),
		zap.Int("new_records", report.NewRecords),
		zap.Int("persisted", report.Persisted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("errored", report.Errored()),
		zap.Int("notifications_sent", report.NotificationsSent),
	)
	return report, nil
}

// processRecord takes one record through filter, score, persist, and
// notify. Failures are recorded on the report; only store connectivity
// problems are escalated through the consecutive-failure counter.
func (p *Pipeline) processRecord(ctx context.Context, rec model.PublicationRecord, report *model.RunReport, storeFailures *int) {
	log := zap.L().With(zap.String("run_id", report.RunID), zap.String("source_id", rec.SourceID))

	exists, err := resilience.DoVal(ctx, p.storePolicy, func(ctx context.Context) (bool, error) {
		return p.store.Exists(ctx, rec.SourceID)
	})
	if err != nil {
		*storeFailures++
		report.FilterFailed++
		log.Error("dedup check failed", zap.Error(err))
		return
	}
	*storeFailures = 0
	if exists {
		report.Duplicates++
		return
	}
	report.NewRecords++

	score, err := p.scorer.Score(ctx, rec)
	if err != nil {
		report.ScoreFailed++
		log.Error("scoring failed", zap.Error(err))
		if !p.cfg.Store.AllowUnscored {
			return
		}
		score = nil
	} else {
		report.Scored++
	}

	err = resilience.Do(ctx, p.storePolicy, func(ctx context.Context) error {
		return p.store.Insert(ctx, rec, score)
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Raced with a concurrent writer; not a failure.
		report.NewRecords--
		report.Duplicates++
		return
	}
	if err != nil {
		*storeFailures++
		report.PersistFailed++
		log.Error("persist failed", zap.Error(err))
		return
	}
	*storeFailures = 0
	report.Persisted++
	if score == nil {
		report.PersistedUnscored++
		return
	}

	if score.Score < p.cfg.Score.Threshold {
		return
	}
	report.AboveThreshold++
	if !p.alerter.Enabled() {
		return
	}

	sent, failed := p.alerter.Notify(ctx, rec, *score)
	report.NotificationsSent += sent
	report.NotifyFailed += failed
	if sent > 0 {
		if err := p.store.MarkNotified(ctx, rec.SourceID); err != nil {
			log.Warn("mark notified failed", zap.Error(err))
		}
	}
}
