// Package site drives the target establishment site through a browser
// session. All selectors come from configuration; nothing here is
// hard-coded to one site's markup.
package site

import (
	"context"
	"fmt"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/browser"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/config"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

// Interaction timeouts in milliseconds. The challenge and logout waits are
// deliberately short: their absence is an expected outcome, not a fault.
const (
	formTimeout      = 15000.0
	challengeTimeout = 10000.0
	logoutTimeout    = 5000.0
	searchTimeout    = 15000.0
	classifyTimeout  = 10000.0
)

// Site binds a live browser session to the configured selector set. It
// implements both the login surface and the work item surface.
type Site struct {
	session *browser.Session
	cfg     config.SiteConfig
	logger  *logging.Logger
}

// New creates a Site over session.
func New(session *browser.Session, cfg config.SiteConfig, logger *logging.Logger) *Site {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Site{
		session: session,
		cfg:     cfg,
		logger:  logger,
	}
}

// Open navigates to the configured entry page.
func (s *Site) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.session.Navigate(s.cfg.EntryURL, browser.NavigateOptions{WaitUntil: "load"})
}

// SubmitCredentials fills and submits the login form.
func (s *Site) SubmitCredentials(ctx context.Context, account config.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sel := s.cfg.Selectors
	visible, err := s.session.WaitVisible(sel.UsernameField, formTimeout)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("login form did not appear")
	}

	if err := s.session.Type(sel.UsernameField, account.Username, formTimeout); err != nil {
		return fmt.Errorf("failed to fill username: %w", err)
	}
	if err := s.session.Type(sel.SecretField, account.Secret, formTimeout); err != nil {
		return fmt.Errorf("failed to fill secret: %w", err)
	}
	return s.session.Click(sel.LoginSubmit, formTimeout)
}

// AwaitChallenge waits briefly for the verification code input. Its
// absence is a normal outcome on trusted sessions.
func (s *Site) AwaitChallenge(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.session.WaitVisible(s.cfg.Selectors.ChallengeField, challengeTimeout)
}

// SubmitChallenge fills and submits the verification code.
func (s *Site) SubmitChallenge(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sel := s.cfg.Selectors
	if err := s.session.Type(sel.ChallengeField, code, formTimeout); err != nil {
		return fmt.Errorf("failed to fill challenge: %w", err)
	}
	return s.session.Click(sel.ChallengeSubmit, formTimeout)
}

// Authenticated checks the post-login indicator. With no indicator
// configured, reaching this point without error counts as success.
func (s *Site) Authenticated(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.cfg.Selectors.SuccessIndicator == "" {
		return true, nil
	}
	return s.session.WaitVisible(s.cfg.Selectors.SuccessIndicator, formTimeout)
}

// Logout clicks the logout control if it is present. A missing control is
// not an error; the page may already be logged out.
func (s *Site) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sel := s.cfg.Selectors
	if sel.LogoutButton == "" {
		return nil
	}
	visible, err := s.session.WaitVisible(sel.LogoutButton, logoutTimeout)
	if err != nil || !visible {
		return err
	}
	return s.session.Click(sel.LogoutButton, logoutTimeout)
}

// LocateAndOpen searches for a work item code and opens its detail view.
// false means the search completed without a matching row.
func (s *Site) LocateAndOpen(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sel := s.cfg.Selectors
	if err := s.session.Type(sel.SearchBox, code, formTimeout); err != nil {
		return false, fmt.Errorf("failed to fill search box: %w", err)
	}
	if err := s.session.Click(sel.SearchSubmit, formTimeout); err != nil {
		return false, fmt.Errorf("failed to submit search: %w", err)
	}

	found, err := s.session.WaitVisible(sel.ResultRow, searchTimeout)
	if err != nil {
		return false, err
	}
	if !found {
		s.logger.Debugf("no result row for %s", code)
		return false, nil
	}

	if err := s.session.Click(sel.DetailLink, formTimeout); err != nil {
		return false, fmt.Errorf("failed to open detail view: %w", err)
	}
	return true, nil
}

// ClassifyFailure inspects the open detail view for the failure marker and
// extracts the failure text when one is present.
func (s *Site) ClassifyFailure(ctx context.Context) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	sel := s.cfg.Selectors
	if sel.FailureMarker == "" {
		return false, "", nil
	}

	marked, err := s.session.WaitVisible(sel.FailureMarker, classifyTimeout)
	if err != nil {
		return false, "", err
	}
	if !marked {
		return false, "", nil
	}
	if sel.FailureDetail == "" {
		return true, "", nil
	}

	detail, err := s.innerText(sel.FailureDetail)
	if err != nil {
		return false, "", fmt.Errorf("failed to read failure detail: %w", err)
	}
	return true, detail, nil
}

func (s *Site) innerText(selector string) (string, error) {
	result, err := s.session.Evaluate(fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return el ? el.innerText : ""; })()`, selector))
	if err != nil {
		return "", err
	}
	text, _ := result.(string)
	return text, nil
}
