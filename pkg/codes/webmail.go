package codes

import (
	"context"
	"fmt"
	"strings"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/browser"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/config"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

// PageProvider hands the webmail source a page to drive, typically a fresh
// tab in the run's browser context so the main page stays undisturbed.
type PageProvider func() (*browser.Session, error)

// WebmailSource reads the verification inbox through its web UI. It is the
// fallback strategy for inboxes without usable IMAP access.
type WebmailSource struct {
	cfg     config.WebmailConfig
	pages   PageProvider
	timeout float64
	logger  *logging.Logger
}

// NewWebmailSource creates a UI-driven code source.
func NewWebmailSource(cfg config.WebmailConfig, pages PageProvider, logger *logging.Logger) *WebmailSource {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebmailSource{
		cfg:     cfg,
		pages:   pages,
		timeout: browser.DefaultTimeout,
		logger:  logger,
	}
}

// Name identifies the source in logs.
func (s *WebmailSource) Name() string { return "webmail" }

// GetCode opens the webmail UI in a side tab and scans the newest message
// text for a code. Returns ("", nil) when the inbox shows nothing usable.
func (s *WebmailSource) GetCode(ctx context.Context, account config.Account) (string, error) {
	tab, err := s.pages()
	if err != nil {
		return "", fmt.Errorf("webmail: no page available: %w", err)
	}
	defer func() {
		if err := tab.Close(); err != nil {
			s.logger.Debugf("webmail: tab close failed: %v", err)
		}
	}()

	if err := tab.Navigate(s.cfg.URL, browser.NavigateOptions{WaitUntil: "domcontentloaded"}); err != nil {
		return "", fmt.Errorf("webmail: navigation failed: %w", err)
	}

	visible, err := tab.WaitVisible(s.cfg.BodySelector, s.timeout)
	if err != nil {
		return "", fmt.Errorf("webmail: wait failed: %w", err)
	}
	if !visible {
		// Inbox rendered nothing in time: that is "no code yet", not an error
		return "", nil
	}

	result, err := tab.Evaluate(fmt.Sprintf("document.querySelector(%q).innerText", s.cfg.BodySelector))
	if err != nil {
		return "", fmt.Errorf("webmail: text extraction failed: %w", err)
	}
	text, _ := result.(string)
	if text == "" {
		return "", nil
	}
	if account.InboxLabel != "" && !strings.Contains(text, account.InboxLabel) {
		return "", nil
	}

	return ExtractCode(text), nil
}
