package auth

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/codes"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/config"
	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

type fakePage struct {
	challenge      bool
	challengeErr   error
	authenticated  bool
	authErr        error
	credentialsErr error
	submitErr      error

	submittedCodes []string
	logouts        int
	opens          int
}

func (p *fakePage) Open(ctx context.Context) error { p.opens++; return nil }

func (p *fakePage) SubmitCredentials(ctx context.Context, account config.Account) error {
	return p.credentialsErr
}

func (p *fakePage) AwaitChallenge(ctx context.Context) (bool, error) {
	return p.challenge, p.challengeErr
}

func (p *fakePage) SubmitChallenge(ctx context.Context, code string) error {
	if p.submitErr != nil {
		return p.submitErr
	}
	p.submittedCodes = append(p.submittedCodes, code)
	return nil
}

func (p *fakePage) Authenticated(ctx context.Context) (bool, error) {
	return p.authenticated, p.authErr
}

func (p *fakePage) Logout(ctx context.Context) error { p.logouts++; return nil }

type staticProvider struct {
	code string
	err  error
}

func (s staticProvider) GetCode(ctx context.Context, account config.Account) (string, error) {
	return s.code, s.err
}

type scriptedSource struct {
	name    string
	replies []string
	calls   int
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) GetCode(ctx context.Context, account config.Account) (string, error) {
	reply := ""
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	return reply, nil
}

var account = config.Account{Username: "qa-main", Secret: "hunter2"}

func TestAttemptWithoutChallenge(t *testing.T) {
	page := &fakePage{challenge: false, authenticated: true}
	flow := NewFlow(page, staticProvider{}, 0, logging.Discard())

	result := flow.Attempt(context.Background(), account, false)
	assert.True(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Empty(t, page.submittedCodes)
}

func TestAttemptWithChallenge(t *testing.T) {
	page := &fakePage{challenge: true, authenticated: true}
	flow := NewFlow(page, staticProvider{code: "271828"}, 0, logging.Discard())

	result := flow.Attempt(context.Background(), account, false)
	require.True(t, result.Success)
	assert.Equal(t, []string{"271828"}, page.submittedCodes)
}

func TestAttemptFallsBackToSecondarySource(t *testing.T) {
	// Primary inbox query returns nothing twice; the UI fallback delivers
	primary := &scriptedSource{name: "primary", replies: []string{"", ""}}
	secondary := &scriptedSource{name: "secondary", replies: []string{"482913"}}
	chain := codes.NewChain([]codes.Source{primary, secondary}, 2, 0, logging.Discard())

	page := &fakePage{challenge: true, authenticated: true}
	flow := NewFlow(page, chain, 0, logging.Discard())

	result := flow.Attempt(context.Background(), account, false)
	require.True(t, result.Success)
	assert.Equal(t, []string{"482913"}, page.submittedCodes)
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestAttemptCodeUnavailable(t *testing.T) {
	page := &fakePage{challenge: true}
	flow := NewFlow(page, staticProvider{}, 0, logging.Discard())

	result := flow.Attempt(context.Background(), account, false)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrCodeUnavailable)
	assert.Empty(t, page.submittedCodes)
}

func TestAttemptAcquisitionTransportFailure(t *testing.T) {
	page := &fakePage{challenge: true}
	flow := NewFlow(page, staticProvider{err: fmt.Errorf("inbox unreachable")}, 0, logging.Discard())

	result := flow.Attempt(context.Background(), account, false)
	assert.False(t, result.Success)
	assert.NotErrorIs(t, result.Err, ErrCodeUnavailable)
	assert.Contains(t, result.Err.Error(), "inbox unreachable")
}

func TestAttemptIndicatorDecidesIndeterminateOutcome(t *testing.T) {
	// No challenge appeared and the indicator stayed absent: failed attempt
	page := &fakePage{challenge: false, authenticated: false}
	flow := NewFlow(page, staticProvider{}, 0, logging.Discard())

	result := flow.Attempt(context.Background(), account, false)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrNotAuthenticated)
}

func TestAttemptCredentialSubmissionFailure(t *testing.T) {
	page := &fakePage{credentialsErr: fmt.Errorf("form missing")}
	flow := NewFlow(page, staticProvider{}, 0, logging.Discard())

	result := flow.Attempt(context.Background(), account, false)
	assert.False(t, result.Success)
	assert.Error(t, result.Err)
}
