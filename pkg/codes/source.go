package codes

import (
	"context"
	"time"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/config"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

// Source retrieves a verification code for an account from an out-of-band
// channel. Implementations must be safe to call repeatedly and must return
// ("", nil) when no code is present yet; an error means a hard transport
// failure, never "not found".
type Source interface {
	Name() string
	GetCode(ctx context.Context, account config.Account) (string, error)
}

// Chain tries an ordered list of sources. Each source is retried up to the
// configured bound with a fixed delay before the chain falls back to the
// next one. Adding a strategy needs no change to the login flow.
type Chain struct {
	sources []Source
	tries   int
	delay   time.Duration
	logger  *logging.Logger
}

// NewChain builds a chain over sources in priority order. tries is the
// per-source attempt bound (minimum 1); delay separates attempts.
func NewChain(sources []Source, tries int, delay time.Duration, logger *logging.Logger) *Chain {
	if tries < 1 {
		tries = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Chain{
		sources: sources,
		tries:   tries,
		delay:   delay,
		logger:  logger,
	}
}

// GetCode walks the sources in order and returns the first code found.
// Returns ("", nil) when every source comes up empty: exhaustion is the
// caller's signal, not an error.
func (c *Chain) GetCode(ctx context.Context, account config.Account) (string, error) {
	for _, source := range c.sources {
		for attempt := 1; attempt <= c.tries; attempt++ {
			if attempt > 1 {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(c.delay):
				}
			}

			code, err := source.GetCode(ctx, account)
			if err != nil {
				c.logger.Warnf("code source %s failed for %s (attempt %d/%d): %v",
					source.Name(), account.Username, attempt, c.tries, err)
				continue
			}
			if code != "" {
				c.logger.Infof("code source %s produced a code for %s (attempt %d)",
					source.Name(), account.Username, attempt)
				return code, nil
			}
			c.logger.Debugf("code source %s: no code yet for %s (attempt %d/%d)",
				source.Name(), account.Username, attempt, c.tries)
		}
	}
	return "", nil
}
