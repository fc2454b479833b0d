package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/config"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

// ErrCodeUnavailable means every verification code source came up empty for
// this attempt. It fails the attempt and feeds the outer retry loop.
var ErrCodeUnavailable = errors.New("verification code unavailable")

// ErrNotAuthenticated means the authenticated-state indicator stayed absent
// after the attempt ran to completion.
var ErrNotAuthenticated = errors.New("login not confirmed")

// LoginPage is the site-specific login surface the flow drives. The
// concrete implementation owns selectors and bounded waits; every method
// must return rather than wait indefinitely.
type LoginPage interface {
	// Open navigates to the site entry page
	Open(ctx context.Context) error

	// SubmitCredentials fills and submits the credential form
	SubmitCredentials(ctx context.Context, account config.Account) error

	// AwaitChallenge waits (bounded) for the 2FA challenge input to appear.
	// false means no challenge showed up in time, which is not an error:
	// the attempt is then resolved by the authenticated-state check.
	AwaitChallenge(ctx context.Context) (bool, error)

	// SubmitChallenge fills and submits the verification code
	SubmitChallenge(ctx context.Context, code string) error

	// Authenticated checks the authenticated-state indicator. With no
	// indicator configured it reports true: reaching this point without
	// error counts as success.
	Authenticated(ctx context.Context) (bool, error)

	// Logout performs the site logout / cleanup action
	Logout(ctx context.Context) error
}

// CodeProvider acquires a verification code. ("", nil) means exhausted.
type CodeProvider interface {
	GetCode(ctx context.Context, account config.Account) (string, error)
}

// Result is the outcome of one login attempt, consumed immediately by the
// retry loop.
type Result struct {
	Success bool
	Err     error
}

// Flow drives one login attempt against one session: credential submission,
// challenge detection, code acquisition and submission, result
// verification. Retry orchestration lives with the task orchestrator, not
// here.
type Flow struct {
	page   LoginPage
	codes  CodeProvider
	grace  time.Duration
	logger *logging.Logger
}

// NewFlow creates an authentication flow. grace is how long to wait after a
// challenge appears before the first acquisition; querying the inbox too
// early fails deterministically and must not count as "not found".
func NewFlow(page LoginPage, codes CodeProvider, grace time.Duration, logger *logging.Logger) *Flow {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Flow{
		page:   page,
		codes:  codes,
		grace:  grace,
		logger: logger,
	}
}

// Attempt runs one login attempt for account. isRetry is informational;
// cleanup between attempts is the orchestrator's job.
func (f *Flow) Attempt(ctx context.Context, account config.Account, isRetry bool) Result {
	f.logger.Infof("login attempt for %s (retry=%v)", account.Username, isRetry)

	if err := f.page.SubmitCredentials(ctx, account); err != nil {
		return Result{Err: fmt.Errorf("credential submission failed: %w", err)}
	}

	challenged, err := f.page.AwaitChallenge(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("challenge detection failed: %w", err)}
	}

	if challenged {
		f.logger.Infof("challenge detected for %s, waiting %s for code delivery", account.Username, f.grace)
		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		case <-time.After(f.grace):
		}

		code, err := f.codes.GetCode(ctx, account)
		if err != nil {
			return Result{Err: fmt.Errorf("code acquisition failed: %w", err)}
		}
		if code == "" {
			return Result{Err: ErrCodeUnavailable}
		}

		if err := f.page.SubmitChallenge(ctx, code); err != nil {
			return Result{Err: fmt.Errorf("code submission failed: %w", err)}
		}
	}

	// Submitting is not success; the indicator decides either way
	ok, err := f.page.Authenticated(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("login verification failed: %w", err)}
	}
	if !ok {
		return Result{Err: ErrNotAuthenticated}
	}

	f.logger.Infof("login confirmed for %s", account.Username)
	return Result{Success: true}
}
