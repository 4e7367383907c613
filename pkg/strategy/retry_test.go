package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/browser"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/store"
)

// stubStrategy returns scripted results and counts Execute calls.
type stubStrategy struct {
	key      string
	results  []*FixResult
	errs     []error
	calls    int
	lastCtx  context.Context
	canApply bool
}

func (s *stubStrategy) Key() string  { return s.key }
func (s *stubStrategy) Name() string { return "stub " + s.key }
func (s *stubStrategy) CanHandle(v *store.Violation) bool {
	return s.canApply || v.Key == s.key
}

func (s *stubStrategy) Execute(ctx context.Context, v *store.Violation, a *store.FixAttempt, sess Session) (*FixResult, error) {
	i := s.calls
	s.calls++
	s.lastCtx = ctx
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return &FixResult{Success: false, Message: "unscripted"}, nil
}

// nullSession satisfies Session for tests that never touch the page.
type nullSession struct{}

func (nullSession) Page() playwright.Page            { return nil }
func (nullSession) BaseURL() string                  { return "https://dashboard.example.com" }
func (nullSession) EnsureLoggedIn() error            { return nil }
func (nullSession) CaptureScreenshot(string) string  { return "" }
func (nullSession) ScreenshotDir() string            { return "" }

func testViolation(key string) *store.Violation {
	return &store.Violation{ID: "v-1", DriverID: "d-1", Key: key, Message: "TEST"}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	s := &stubStrategy{
		key:     "noShutdownError",
		results: []*FixResult{{Success: true, Message: "done"}},
	}
	var slept []time.Duration
	sleep := func(d time.Duration) { slept = append(slept, d) }

	result := RetryWithBackoff(context.Background(), s, testViolation(s.key), &store.FixAttempt{}, nullSession{}, 3, sleep)

	assert.True(t, result.Success)
	assert.Equal(t, 1, s.calls)
	assert.Empty(t, slept)
}

func TestRetryBacksOffBetweenFailures(t *testing.T) {
	s := &stubStrategy{
		key: "noShutdownError",
		results: []*FixResult{
			{Success: false, Message: "first"},
			{Success: false, Message: "second"},
			{Success: true, Message: "third"},
		},
	}
	var slept []time.Duration
	sleep := func(d time.Duration) { slept = append(slept, d) }

	result := RetryWithBackoff(context.Background(), s, testViolation(s.key), &store.FixAttempt{}, nullSession{}, 3, sleep)

	assert.True(t, result.Success)
	assert.Equal(t, "third", result.Message)
	assert.Equal(t, 3, s.calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, slept)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	s := &stubStrategy{
		key: "noShutdownError",
		results: []*FixResult{
			{Success: false}, {Success: false}, {Success: false},
		},
	}
	var slept []time.Duration
	sleep := func(d time.Duration) { slept = append(slept, d) }

	result := RetryWithBackoff(context.Background(), s, testViolation(s.key), &store.FixAttempt{}, nullSession{}, 3, sleep)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "max retries")
	assert.Equal(t, 3, s.calls)
	// No sleep after the final attempt.
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, slept)
}

func TestRetryConvertsFaultsToFailedResults(t *testing.T) {
	boom := errors.New("page crashed")
	s := &stubStrategy{
		key:  "noShutdownError",
		errs: []error{boom, boom, boom},
	}
	sleep := func(time.Duration) {}

	result := RetryWithBackoff(context.Background(), s, testViolation(s.key), &store.FixAttempt{}, nullSession{}, 3, sleep)

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "page crashed")
	assert.Equal(t, 3, s.calls)
}

func TestRetryFaultThenSuccess(t *testing.T) {
	s := &stubStrategy{
		key:     "noShutdownError",
		errs:    []error{errors.New("transient")},
		results: []*FixResult{nil, {Success: true, Message: "recovered"}},
	}
	sleep := func(time.Duration) {}

	result := RetryWithBackoff(context.Background(), s, testViolation(s.key), &store.FixAttempt{}, nullSession{}, 3, sleep)

	assert.True(t, result.Success)
	assert.Equal(t, 2, s.calls)
}

func TestRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &stubStrategy{key: "noShutdownError"}
	result := RetryWithBackoff(ctx, s, testViolation(s.key), &store.FixAttempt{}, nullSession{}, 3, func(time.Duration) {})

	assert.False(t, result.Success)
	assert.Equal(t, 0, s.calls)
}

func TestRetryClampsMaxRetries(t *testing.T) {
	s := &stubStrategy{
		key:     "noShutdownError",
		results: []*FixResult{{Success: false, Message: "only"}},
	}
	result := RetryWithBackoff(context.Background(), s, testViolation(s.key), &store.FixAttempt{}, nullSession{}, 0, func(time.Duration) {})

	assert.False(t, result.Success)
	assert.Equal(t, 1, s.calls)
}

// panicStrategy blows up a scripted number of times, then succeeds.
type panicStrategy struct {
	key    string
	panics int
	calls  int
}

func (s *panicStrategy) Key() string                       { return s.key }
func (s *panicStrategy) Name() string                      { return "panic " + s.key }
func (s *panicStrategy) CanHandle(v *store.Violation) bool { return v.Key == s.key }

func (s *panicStrategy) Execute(ctx context.Context, v *store.Violation, a *store.FixAttempt, sess Session) (*FixResult, error) {
	s.calls++
	if s.calls <= s.panics {
		panic("selector handle is nil")
	}
	return &FixResult{Success: true, Message: "recovered"}, nil
}

func TestRetryRecoversPanickingStrategy(t *testing.T) {
	t.Run("persistent panic becomes a failed result", func(t *testing.T) {
		s := &panicStrategy{key: "noShutdownError", panics: 3}

		result := RetryWithBackoff(context.Background(), s, testViolation(s.key), &store.FixAttempt{}, nullSession{}, 3, func(time.Duration) {})

		require.NotNil(t, result)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "panicked")
		assert.Equal(t, 3, s.calls)
	})

	t.Run("panic counts as one attempt before a retry succeeds", func(t *testing.T) {
		s := &panicStrategy{key: "noShutdownError", panics: 1}

		result := RetryWithBackoff(context.Background(), s, testViolation(s.key), &store.FixAttempt{}, nullSession{}, 3, func(time.Duration) {})

		assert.True(t, result.Success)
		assert.Equal(t, 2, s.calls)
	})
}

// expiredSession reports a dead dashboard session on every check.
type expiredSession struct {
	checks int
}

func (s *expiredSession) Page() playwright.Page           { return nil }
func (s *expiredSession) BaseURL() string                 { return "https://dashboard.example.com" }
func (s *expiredSession) CaptureScreenshot(string) string { return "" }
func (s *expiredSession) ScreenshotDir() string           { return "" }

func (s *expiredSession) EnsureLoggedIn() error {
	s.checks++
	return fmt.Errorf("re-login failed: %w", browser.ErrSessionExpired)
}

func TestRetrySessionExpiryFailsGracefully(t *testing.T) {
	strategies := NewToolkitStrategies()
	require.NotEmpty(t, strategies)
	s := strategies[0]
	session := &expiredSession{}

	result := RetryWithBackoff(context.Background(), s, testViolation(s.Key()), &store.FixAttempt{}, session, 3, func(time.Duration) {})

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "session check failed")
	// Every attempt re-checks the session, each check attempting re-login.
	assert.Equal(t, 3, session.checks)
}
