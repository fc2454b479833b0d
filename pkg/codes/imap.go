package codes

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/config"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

// IMAPSource queries the verification inbox over IMAP. It is the primary,
// API-based strategy: a fresh connection per call keeps it safe to invoke
// repeatedly from the acquisition retry loop.
type IMAPSource struct {
	cfg    config.IMAPConfig
	logger *logging.Logger
}

// NewIMAPSource creates an IMAP-backed code source.
func NewIMAPSource(cfg config.IMAPConfig, logger *logging.Logger) *IMAPSource {
	if logger == nil {
		logger = logging.Discard()
	}
	return &IMAPSource{cfg: cfg, logger: logger}
}

// Name identifies the source in logs.
func (s *IMAPSource) Name() string { return "imap" }

// GetCode searches recent inbox messages for a verification code. The
// account's inbox label, when set, narrows the search by subject. Returns
// ("", nil) when no matching message carries a code yet.
func (s *IMAPSource) GetCode(ctx context.Context, account config.Account) (string, error) {
	c, err := client.DialTLS(s.cfg.Server, nil)
	if err != nil {
		return "", fmt.Errorf("imap dial failed: %w", err)
	}
	c.Timeout = 30 * time.Second
	defer c.Logout()

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return "", fmt.Errorf("imap login failed: %w", err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		return "", fmt.Errorf("imap select failed: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().Add(-s.cfg.Lookback())
	if account.InboxLabel != "" {
		criteria.Header.Add("Subject", account.InboxLabel)
	}

	seqNums, err := c.Search(criteria)
	if err != nil {
		return "", fmt.Errorf("imap search failed: %w", err)
	}
	if len(seqNums) == 0 {
		return "", nil
	}

	// Only the newest few messages matter; codes expire quickly
	if len(seqNums) > s.cfg.FetchWindow {
		seqNums = seqNums[len(seqNums)-s.cfg.FetchWindow:]
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}
	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var code string
	var newest time.Time
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			s.logger.Debugf("imap: failed to read message body: %v", err)
			continue
		}
		found := ExtractCode(string(raw))
		if found == "" {
			continue
		}
		var when time.Time
		if msg.Envelope != nil {
			when = msg.Envelope.Date
		}
		// Keep the code from the most recent message
		if code == "" || when.After(newest) {
			code = found
			newest = when
		}
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("imap fetch failed: %w", err)
	}

	return code, nil
}
