package browser

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Driver owns the Playwright runtime and launches persistent-profile
// browser sessions for the pool.
type Driver struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	initialized bool
}

// NewDriver creates a new driver. Initialize must be called before any
// session is launched.
func NewDriver() *Driver {
	return &Driver{}
}

// Initialize installs (if needed) and starts the Playwright runtime.
func (d *Driver) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	// Discard driver output so it does not interleave with our own logs
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	d.playwright = pw
	d.initialized = true
	return nil
}

// Launch starts a Chromium instance bound to the given persistent profile
// directory and returns a session wrapping its first page.
func (d *Driver) Launch(profileDir string, opts SessionOptions) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, fmt.Errorf("driver not initialized")
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: &opts.Headless,
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	}
	context, err := d.playwright.Chromium.LaunchPersistentContext(profileDir, launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	// A persistent context opens with one blank page; reuse it when present
	var page playwright.Page
	if pages := context.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = context.NewPage()
		if err != nil {
			context.Close()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
	}
	page.SetDefaultTimeout(opts.Timeout)

	now := time.Now()
	return &Session{
		ProfileDir: profileDir,
		Context:    context,
		Page:       page,
		Headless:   opts.Headless,
		CreatedAt:  now,
		LastUsedAt: now,
		timeout:    opts.Timeout,
	}, nil
}

// Shutdown stops the Playwright runtime. Sessions must be closed first.
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized && d.playwright != nil {
		if err := d.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		d.initialized = false
	}
	return nil
}
