package browser

import (
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrDetached indicates the underlying page reference became invalid and
// could not be recovered.
var ErrDetached = errors.New("browser session detached")

// Session represents a live browser session backed by a persistent profile
// directory. One session is shared across a whole multi-account run; no
// other component touches it concurrently.
type Session struct {
	// ProfileDir is the persistent profile directory backing this session
	ProfileDir string

	// Context is the persistent browser context
	Context playwright.BrowserContext

	// Page is the current active page
	Page playwright.Page

	// Headless indicates if the browser is running in headless mode
	Headless bool

	// CreatedAt is the timestamp when the session was launched
	CreatedAt time.Time

	// LastUsedAt is the timestamp of the last operation on this session
	LastUsedAt time.Time

	timeout float64

	// tab marks a secondary-page view; closing it closes only the page
	tab bool
}

// UpdateLastUsed updates the LastUsedAt timestamp to the current time.
func (s *Session) UpdateLastUsed() {
	s.LastUsedAt = time.Now()
}

// livePage returns a usable page, recovering once when the current page
// reference has been closed out from under us: it adopts another live page
// from the context, or opens a fresh one. A second failure surfaces
// ErrDetached.
func (s *Session) livePage() (playwright.Page, error) {
	if s.Page != nil && !s.Page.IsClosed() {
		return s.Page, nil
	}

	for _, page := range s.Context.Pages() {
		if !page.IsClosed() {
			s.Page = page
			s.Page.SetDefaultTimeout(s.timeout)
			return s.Page, nil
		}
	}

	page, err := s.Context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetached, err)
	}
	page.SetDefaultTimeout(s.timeout)
	s.Page = page
	return page, nil
}

// Navigate navigates the session's page to the specified URL.
func (s *Session) Navigate(url string, opts NavigateOptions) error {
	s.UpdateLastUsed()

	page, err := s.livePage()
	if err != nil {
		return err
	}

	playwrightOpts := playwright.PageGotoOptions{}
	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		playwrightOpts.WaitUntil = &waitUntil
	}
	if opts.Timeout > 0 {
		playwrightOpts.Timeout = &opts.Timeout
	}

	if _, err := page.Goto(url, playwrightOpts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// FindOne returns the first element matching the selector, or nil when no
// element matches.
func (s *Session) FindOne(selector string) (playwright.ElementHandle, error) {
	s.UpdateLastUsed()

	page, err := s.livePage()
	if err != nil {
		return nil, err
	}

	element, err := page.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	return element, nil
}

// FindAll returns every element matching the selector.
func (s *Session) FindAll(selector string) ([]playwright.ElementHandle, error) {
	s.UpdateLastUsed()

	page, err := s.livePage()
	if err != nil {
		return nil, err
	}

	elements, err := page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	return elements, nil
}

// Click clicks the element matching the selector.
func (s *Session) Click(selector string, timeout float64) error {
	s.UpdateLastUsed()

	page, err := s.livePage()
	if err != nil {
		return err
	}

	playwrightOpts := playwright.PageClickOptions{}
	if timeout > 0 {
		playwrightOpts.Timeout = &timeout
	}

	if err := page.Click(selector, playwrightOpts); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

// Type fills the input element matching the selector with the given text.
func (s *Session) Type(selector, text string, timeout float64) error {
	s.UpdateLastUsed()

	page, err := s.livePage()
	if err != nil {
		return err
	}

	playwrightOpts := playwright.PageFillOptions{}
	if timeout > 0 {
		playwrightOpts.Timeout = &timeout
	}

	if err := page.Fill(selector, text, playwrightOpts); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

// Evaluate runs a JavaScript expression in the page and returns its result.
func (s *Session) Evaluate(code string) (interface{}, error) {
	s.UpdateLastUsed()

	page, err := s.livePage()
	if err != nil {
		return nil, err
	}

	result, err := page.Evaluate(code)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

// WaitVisible waits until an element matching the selector is visible.
// It returns false (not an error) when the timeout elapses first, so
// callers can fall through to their fallback path.
func (s *Session) WaitVisible(selector string, timeout float64) (bool, error) {
	s.UpdateLastUsed()

	page, err := s.livePage()
	if err != nil {
		return false, err
	}

	state := playwright.WaitForSelectorStateVisible
	playwrightOpts := playwright.PageWaitForSelectorOptions{State: state}
	if timeout > 0 {
		playwrightOpts.Timeout = &timeout
	}

	if _, err := page.WaitForSelector(selector, playwrightOpts); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return false, nil
		}
		return false, fmt.Errorf("wait failed: %w", err)
	}
	return true, nil
}

// CurrentURL returns the URL of the active page.
func (s *Session) CurrentURL() string {
	page, err := s.livePage()
	if err != nil {
		return ""
	}
	return page.URL()
}

// Screenshot captures the current page as PNG bytes.
func (s *Session) Screenshot() ([]byte, error) {
	s.UpdateLastUsed()

	page, err := s.livePage()
	if err != nil {
		return nil, err
	}

	fullPage := true
	data, err := page.Screenshot(playwright.PageScreenshotOptions{FullPage: &fullPage})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

// OpenTab opens an additional page in the same browser context and returns
// a session view over it. Used for side trips (webmail) that must not
// disturb the main page. Close the returned session when done.
func (s *Session) OpenTab() (*Session, error) {
	s.UpdateLastUsed()

	page, err := s.Context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	page.SetDefaultTimeout(s.timeout)

	now := time.Now()
	return &Session{
		ProfileDir: s.ProfileDir,
		Context:    s.Context,
		Page:       page,
		Headless:   s.Headless,
		CreatedAt:  now,
		LastUsedAt: now,
		timeout:    s.timeout,
		tab:        true,
	}, nil
}

// Close releases the session. For a tab view only the page is closed; for
// the primary session the whole context (and its browser process) goes.
func (s *Session) Close() error {
	if s.tab {
		if s.Page != nil {
			return s.Page.Close()
		}
		return nil
	}

	if s.Page != nil {
		_ = s.Page.Close() // Ignore errors, continue cleanup
	}
	if s.Context != nil {
		return s.Context.Close()
	}
	return nil
}
