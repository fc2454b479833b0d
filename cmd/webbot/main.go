// Package main provides the webbot command: a multi-account browser
// automation runner that logs in to the target site, works through the
// day's work items across accounts, and writes a run report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/auth"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/browser"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/codes"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/config"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/orchestrator"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/pool"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/report"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/schedule"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/site"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/tracker"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	Date        string
	Accounts    string
	Once        bool
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("webbot v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		cancel()
		log.Printf("Execution failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (default ~/.webbot/config.yaml)")
	flag.StringVar(&cli.Date, "date", "", "Work item date override (YYYY-MM-DD)")
	flag.StringVar(&cli.Accounts, "accounts", "", "Glob filter on account usernames")
	flag.BoolVar(&cli.Once, "once", false, "Run one pass and exit, ignoring the configured schedule")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "webbot - multi-account site automation runner\n\n")
		fmt.Fprintf(os.Stderr, "Usage: webbot [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Run one pass for today's items\n")
		fmt.Fprintf(os.Stderr, "  webbot -once\n\n")
		fmt.Fprintf(os.Stderr, "  # Reprocess a past day with a subset of accounts\n")
		fmt.Fprintf(os.Stderr, "  webbot -once -date 2026-08-20 -accounts \"qa-*\"\n\n")
	}

	flag.Parse()
	return cli
}

// sessionHolder tracks the browser session of the account currently being
// processed so side-trip consumers (the webmail code source) can open tabs
// in the same context. Accounts are processed one at a time.
type sessionHolder struct {
	mu      sync.Mutex
	current *browser.Session
}

func (h *sessionHolder) set(s *browser.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = s
}

func (h *sessionHolder) openTab() (*browser.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil, fmt.Errorf("no active browser session")
	}
	return h.current.OpenTab()
}

// driverLauncher adapts the browser driver to the pool's launcher contract.
type driverLauncher struct {
	driver *browser.Driver
	opts   browser.SessionOptions
}

func (l *driverLauncher) Launch(profileDir string) (pool.Session, error) {
	return l.driver.Launch(profileDir, l.opts)
}

func run(ctx context.Context, cli *CLIConfig) error {
	configPath := cli.ConfigFile
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cli.Date != "" {
		if _, err := time.Parse("2006-01-02", cli.Date); err != nil {
			return fmt.Errorf("-date must be YYYY-MM-DD: %w", err)
		}
		cfg.WorkItems.Date = cli.Date
	}

	accounts, err := config.FilterAccounts(cfg.Accounts, cli.Accounts)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("no accounts match filter %q", cli.Accounts)
	}

	logger, logErr := logging.NewLogger("webbot")
	if logErr != nil {
		log.Printf("File logging unavailable, using stderr: %v", logErr)
	}
	defer logger.Close()
	logger.Infof("webbot v%s starting (config %s, date %s, %d accounts)",
		version, configPath, cfg.WorkItems.Date, len(accounts))

	driver := browser.NewDriver()
	if err := driver.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser driver: %w", err)
	}
	defer driver.Shutdown()

	launcher := &driverLauncher{
		driver: driver,
		opts:   browser.SessionOptions{Headless: cfg.Headless},
	}
	sessions, err := pool.New(pool.Config{
		Size:        cfg.Pool.Size,
		ProfileRoot: cfg.Pool.ProfileRoot,
	}, launcher, logger)
	if err != nil {
		return err
	}
	defer sessions.Shutdown()

	// Age-based eviction runs on its own timer, independent of the pipeline
	go sessions.RunEvictionLoop(ctx, cfg.Pool.EvictionInterval(), cfg.Pool.MaxSessionAge())

	holder := &sessionHolder{}
	bind := func(session pool.Session) (auth.LoginPage, orchestrator.WorkSite, error) {
		browserSession, ok := session.(*browser.Session)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected session type %T", session)
		}
		holder.set(browserSession)
		pages := site.New(browserSession, cfg.Site, logger)
		return pages, pages, nil
	}

	var sources []codes.Source
	if cfg.Codes.IMAP.Server != "" {
		sources = append(sources, codes.NewIMAPSource(cfg.Codes.IMAP, logger))
	}
	if cfg.Codes.Webmail.URL != "" {
		sources = append(sources, codes.NewWebmailSource(cfg.Codes.Webmail, holder.openTab, logger))
	}
	chain := codes.NewChain(sources, cfg.Auth.CodeRetries, cfg.Auth.CodeRetryDelay(), logger)

	runOnce := func() error {
		universe, err := cfg.WorkUniverse()
		if err != nil {
			return err
		}
		if len(universe) == 0 {
			logger.Warnf("no work items for %s, nothing to do", cfg.WorkItems.Date)
			return nil
		}

		orch := orchestrator.New(sessions, bind, chain, tracker.New(universe), orchestrator.Config{
			Auth:     cfg.Auth,
			FailOpen: cfg.Classification.FailOpenEnabled(),
		}, logger)
		rep, err := orch.Run(ctx, accounts)
		if err != nil {
			return err
		}

		path, err := rep.WriteFile(cfg.Report.Dir)
		if err != nil {
			return err
		}
		logger.Infof("report written to %s", path)
		fmt.Printf("Run %s: %d succeeded, %d failed, %d not found (report: %s)\n",
			rep.RunID, rep.Summary.TotalSuccess, rep.Summary.TotalFailure, len(rep.NotFound), path)

		if cfg.Report.UploadURL != "" {
			raw, err := rep.Marshal()
			if err != nil {
				return err
			}
			report.Dispatch(report.NewHTTPUploader(cfg.Report.UploadURL), raw, logger)
		}
		return nil
	}

	if cfg.Schedule.Cron == "" || cli.Once {
		return runOnce()
	}

	scheduler := schedule.New(logger)
	if err := scheduler.Start(cfg.Schedule.Cron, func() {
		if err := runOnce(); err != nil {
			logger.Errorf("scheduled run failed: %v", err)
		}
	}); err != nil {
		return err
	}
	logger.Infof("waiting for scheduled runs on %q", cfg.Schedule.Cron)

	<-ctx.Done()
	scheduler.Stop()
	return nil
}
