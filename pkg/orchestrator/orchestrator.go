package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/auth"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/config"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/pool"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/report"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/tracker"
)

// WorkSite is the site-specific work item surface: searching for an item
// and reading its detail view. Implementations own selectors and bounded
// waits.
type WorkSite interface {
	// LocateAndOpen searches for code and opens its detail view. false
	// means the search completed but found nothing.
	LocateAndOpen(ctx context.Context, code string) (bool, error)

	// ClassifyFailure inspects the open detail view. failed reports
	// whether the item carries a failure marker; detail is the extracted
	// failure text when it does.
	ClassifyFailure(ctx context.Context) (failed bool, detail string, err error)
}

// Bind attaches the site-specific page objects to a live browser session.
// The command wiring supplies the concrete implementation; tests inject
// fakes.
type Bind func(session pool.Session) (auth.LoginPage, WorkSite, error)

// Config carries the orchestrator's policy knobs.
type Config struct {
	Auth     config.AuthConfig
	FailOpen bool
}

// Orchestrator runs one full pass over the accounts. A single session is
// checked out for the whole run and reused across accounts; between
// accounts the session is logged out, never relaunched. Account and item
// failures are contained; one broken account never aborts the run.
type Orchestrator struct {
	pool    *pool.Pool
	bind    Bind
	codes   auth.CodeProvider
	tracker *tracker.Tracker
	cfg     Config
	logger  *logging.Logger
}

// New creates an orchestrator over pool and tracker.
func New(p *pool.Pool, bind Bind, codes auth.CodeProvider, trk *tracker.Tracker, cfg Config, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Auth.MaxAttempts < 1 {
		cfg.Auth.MaxAttempts = 1
	}
	return &Orchestrator{
		pool:    p,
		bind:    bind,
		codes:   codes,
		tracker: trk,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run processes every account in order on one shared session and returns
// the run report. Failing to obtain a session at all is the only fatal
// outcome.
func (o *Orchestrator) Run(ctx context.Context, accounts []config.Account) (*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	o.logger.Infof("run %s starting: %d accounts, %d work items", runID, len(accounts), o.tracker.UniverseSize())

	slot, err := o.pool.Allocate(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to check out a session for the run: %w", err)
	}

	// Protection brackets the whole run; the final step always lifts it
	o.pool.Protect(slot)
	defer func() {
		o.pool.Unprotect(slot)
		o.pool.Release(slot, false)
	}()

	page, site, err := o.bind(slot.Session())
	if err != nil {
		return nil, fmt.Errorf("failed to bind session: %w", err)
	}

	var records []report.OutcomeRecord
	var runs []report.AccountRun

	for _, account := range accounts {
		if ctx.Err() != nil {
			o.logger.Warnf("run %s cancelled before account %s", runID, account.Username)
			break
		}

		accountRecords, accountRun := o.runAccount(ctx, page, site, account)
		records = append(records, accountRecords...)
		runs = append(runs, accountRun)

		// The next account must start from a logged-out session
		if err := page.Logout(ctx); err != nil {
			o.logger.Warnf("account %s: end-of-turn logout failed: %v", account.Username, err)
		}
	}

	rep := &report.Report{
		RunID:       runID,
		GeneratedAt: time.Now(),
		Records:     records,
		NotFound:    o.tracker.NotFound(),
	}
	rep.Summary = report.Aggregate(records, runs)

	o.logger.Infof("run %s finished: %d success, %d failure, %d not found",
		runID, rep.Summary.TotalSuccess, rep.Summary.TotalFailure, len(rep.NotFound))
	return rep, nil
}

// runAccount handles one account's turn on the shared session: login with
// retries, then item processing. Errors are absorbed into the AccountRun
// flags.
func (o *Orchestrator) runAccount(ctx context.Context, page auth.LoginPage, site WorkSite, account config.Account) ([]report.OutcomeRecord, report.AccountRun) {
	run := report.AccountRun{Account: account.Username}

	if err := o.login(ctx, page, account); err != nil {
		o.logger.Errorf("account %s: login abandoned: %v", account.Username, err)
		run.LoginFailed = true
		return nil, run
	}

	records, located := o.processItems(ctx, site, account)
	run.NoItems = located == 0
	return records, run
}

// login runs the attempt loop: up to MaxAttempts tries, with a logout and
// fresh entry-page navigation before every retry and a linearly growing
// delay between attempts.
func (o *Orchestrator) login(ctx context.Context, page auth.LoginPage, account config.Account) error {
	flow := auth.NewFlow(page, o.codes, o.cfg.Auth.ChallengeGrace(), o.logger)

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Auth.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := o.cfg.Auth.BackoffBase() + time.Duration(attempt-2)*o.cfg.Auth.BackoffStep()
			o.logger.Infof("account %s: retrying login in %s (attempt %d/%d)",
				account.Username, delay, attempt, o.cfg.Auth.MaxAttempts)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			// A half-completed attempt can leave the page in any state;
			// log out and start over from the entry page
			if err := page.Logout(ctx); err != nil {
				o.logger.Warnf("account %s: pre-retry logout failed: %v", account.Username, err)
			}
		}

		if err := page.Open(ctx); err != nil {
			lastErr = fmt.Errorf("failed to open entry page: %w", err)
			o.logger.Warnf("account %s: attempt %d: %v", account.Username, attempt, lastErr)
			continue
		}

		result := flow.Attempt(ctx, account, attempt > 1)
		if result.Success {
			return nil
		}
		lastErr = result.Err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Warnf("account %s: attempt %d failed: %v", account.Username, attempt, lastErr)
	}
	return fmt.Errorf("all %d login attempts failed: %w", o.cfg.Auth.MaxAttempts, lastErr)
}

// processItems walks this account's candidate snapshot. Items located get
// a terminal outcome; items the search cannot find go to the local
// not-found list, merged into the tracker at the end of the turn.
func (o *Orchestrator) processItems(ctx context.Context, site WorkSite, account config.Account) ([]report.OutcomeRecord, int) {
	candidates := o.tracker.Candidates()
	o.logger.Infof("account %s: %d candidate items", account.Username, len(candidates))

	var records []report.OutcomeRecord
	var localNotFound []string
	located := 0

	for _, code := range candidates {
		if ctx.Err() != nil {
			break
		}
		if o.tracker.IsProcessed(code) {
			continue
		}

		found, err := site.LocateAndOpen(ctx, code)
		if err != nil {
			// Leave the item unprocessed so a later account can retry it
			o.logger.Warnf("account %s: item %s: search failed: %v", account.Username, code, err)
			continue
		}
		if !found {
			localNotFound = append(localNotFound, code)
			continue
		}
		located++

		record := report.OutcomeRecord{
			Code:      code,
			Account:   account.Username,
			Status:    report.StatusSuccess,
			Timestamp: time.Now(),
		}

		failed, detail, err := site.ClassifyFailure(ctx)
		switch {
		case err != nil && o.cfg.FailOpen:
			o.logger.Warnf("account %s: item %s: classification failed, recording success: %v",
				account.Username, code, err)
		case err != nil:
			record.Status = report.StatusFailure
			record.FailureDetail = fmt.Sprintf("classification failed: %v", err)
		case failed:
			record.Status = report.StatusFailure
			record.FailureDetail = detail
		}

		records = append(records, record)
		o.tracker.MarkProcessed(code)
		o.logger.Infof("account %s: item %s: %s", account.Username, code, record.Status)
	}

	o.tracker.MergeNotFound(localNotFound)
	return records, located
}
