// Package agent runs the remediation loop: poll the upstream monitoring
// API for violations, classify and persist them, then dispatch fix
// strategies against the dashboard through a shared browser session.
// Operator tuning lives in the store's config row and is reloaded every
// cycle, so state changes take effect without a restart.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/classifier"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/events"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/store"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/strategy"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/types"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/upstream"
)

const (
	// pendingBatchSize bounds how many violations one cycle dispatches.
	pendingBatchSize = 10

	// maxFixRetries is the per-strategy retry budget.
	maxFixRetries = 3

	pausedSleep = 10 * time.Second
	errorSleep  = 60 * time.Second
)

// ViolationSource is the slice of the upstream client the agent needs.
type ViolationSource interface {
	ListSubjects(ctx context.Context) ([]upstream.Subject, error)
	ViolationsForSubject(ctx context.Context, subjectID string) ([]upstream.RawViolation, error)
	ListSubjectsWithNames(ctx context.Context) ([]upstream.SubjectDrivers, error)
}

// Deps are the handles a Service is built from. Store and Registry are
// required; Session may be nil when the agent runs without a browser
// (dry-run detection only), Sink may be nil to disable events.
type Deps struct {
	Store    *store.DB
	Registry *strategy.Registry
	Upstream ViolationSource
	Session  strategy.Session
	Sink     events.Sink
}

// Service is the remediation agent. All verbs are safe for concurrent use.
type Service struct {
	violations *store.ViolationRepo
	attempts   *store.AttemptRepo
	configs    *store.ConfigRepo
	registry   *strategy.Registry
	upstream   ViolationSource
	session    strategy.Session
	sink       events.Sink
	logger     *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	filterMu   sync.Mutex
	companyIDs []string
	driverIDs  []string

	// sleep and retrySleep are replaceable in tests. retrySleep nil
	// means real backoff sleeps between fix attempts.
	sleep      func(ctx context.Context, d time.Duration)
	retrySleep func(d time.Duration)
}

// New builds a Service from its dependencies.
func New(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("agent: store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("agent: strategy registry is required")
	}
	if deps.Upstream == nil {
		return nil, errors.New("agent: upstream source is required")
	}

	logger, _ := logging.NewLogger("agent")
	return &Service{
		violations: store.NewViolationRepo(deps.Store),
		attempts:   store.NewAttemptRepo(deps.Store),
		configs:    store.NewConfigRepo(deps.Store),
		registry:   deps.Registry,
		upstream:   deps.Upstream,
		session:    deps.Session,
		sink:       deps.Sink,
		logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Start launches the agent loop. Calling Start on a running agent is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warnf("agent already running")
		return nil
	}

	if err := s.configs.SetState(ctx, store.AgentRunning); err != nil {
		return fmt.Errorf("set agent state: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	s.emit(types.NewAgentStatusEvent(store.AgentRunning, "agent started"))
	go s.run(loopCtx)

	s.logger.Infof("agent started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warnf("agent is not running")
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err := s.configs.SetState(ctx, store.AgentStopped); err != nil {
		return fmt.Errorf("set agent state: %w", err)
	}
	s.emit(types.NewAgentStatusEvent(store.AgentStopped, "agent stopped"))
	s.logger.Infof("agent stopped")
	return nil
}

// Pause suspends polling until Resume. The loop keeps running and
// re-checks the state every cycle.
func (s *Service) Pause(ctx context.Context) error {
	if err := s.configs.SetState(ctx, store.AgentPaused); err != nil {
		return err
	}
	s.emit(types.NewAgentStatusEvent(store.AgentPaused, "agent paused"))
	return nil
}

// Resume returns a paused agent to the running state.
func (s *Service) Resume(ctx context.Context) error {
	if err := s.configs.SetState(ctx, store.AgentRunning); err != nil {
		return err
	}
	s.emit(types.NewAgentStatusEvent(store.AgentRunning, "agent resumed"))
	return nil
}

// Running reports whether the loop goroutine is alive.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetCompanyIDs restricts polling to the given companies. Empty means all.
func (s *Service) SetCompanyIDs(ids []string) {
	s.filterMu.Lock()
	s.companyIDs = append([]string(nil), ids...)
	s.filterMu.Unlock()
	s.logger.Infof("monitoring %d specific companies", len(ids))
}

// SetDriverIDs restricts stored violations to the given drivers. Empty means all.
func (s *Service) SetDriverIDs(ids []string) {
	s.filterMu.Lock()
	s.driverIDs = append([]string(nil), ids...)
	s.filterMu.Unlock()
	s.logger.Infof("monitoring %d selected drivers", len(ids))
}

// DriverIDs returns the current driver filter.
func (s *Service) DriverIDs() []string {
	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	return append([]string(nil), s.driverIDs...)
}

func (s *Service) run(ctx context.Context) {
	// Reset the running flag before signalling done so a stored-state
	// stop leaves the service restartable.
	defer func() {
		s.mu.Lock()
		s.running = false
		done := s.done
		s.mu.Unlock()
		close(done)
	}()
	s.logger.Infof("agent main loop started")

	for {
		if ctx.Err() != nil {
			s.logger.Infof("agent main loop cancelled")
			return
		}

		cfg, err := s.configs.Load(ctx)
		if err != nil {
			s.logger.Errorf("load agent config: %v", err)
			s.sleep(ctx, errorSleep)
			continue
		}

		switch cfg.State {
		case store.AgentPaused:
			s.sleep(ctx, pausedSleep)
			continue
		case store.AgentStopped:
			s.logger.Infof("agent state is stopped, exiting main loop")
			return
		}

		if err := s.pollCycle(ctx, cfg); err != nil {
			s.logger.Errorf("poll cycle: %v", err)
			s.sleep(ctx, errorSleep)
			continue
		}

		s.dispatchPending(ctx, cfg)

		s.sleep(ctx, time.Duration(cfg.PollingIntervalSeconds)*time.Second)
	}
}

// pollCycle fetches violations for every monitored subject, classifies
// them and persists the new ones.
func (s *Service) pollCycle(ctx context.Context, cfg *store.AgentConfig) error {
	s.filterMu.Lock()
	companyIDs := append([]string(nil), s.companyIDs...)
	driverIDs := append([]string(nil), s.driverIDs...)
	s.filterMu.Unlock()

	driverFilter := make(map[string]bool, len(driverIDs))
	for _, id := range driverIDs {
		driverFilter[id] = true
	}

	companyNames := make(map[string]string)
	if len(companyIDs) == 0 {
		subjects, err := s.upstream.ListSubjects(ctx)
		if err != nil {
			return fmt.Errorf("list subjects: %w", err)
		}
		for _, subj := range subjects {
			if subj.HasViolations() {
				companyIDs = append(companyIDs, subj.ID)
			}
			companyNames[subj.ID] = subj.Name
		}
		s.logger.Infof("no company filter set, monitoring %d companies with violations", len(companyIDs))
	}

	names := s.loadDriverNames(ctx, companyNames)

	inserted := 0
	for _, companyID := range companyIDs {
		raws, err := s.upstream.ViolationsForSubject(ctx, companyID)
		if err != nil {
			s.logger.Errorf("fetch violations for company %s: %v", companyID, err)
			continue
		}

		for _, raw := range raws {
			if len(driverFilter) > 0 && !driverFilter[raw.DriverID] {
				continue
			}
			if s.storeIfNew(ctx, companyID, raw, names, companyNames) {
				inserted++
			}
		}
	}

	s.logger.Infof("poll cycle complete, %d new violations", inserted)
	return nil
}

// loadDriverNames fetches the driver roster for display-name enrichment.
// Failure is non-fatal; violations are stored without names.
func (s *Service) loadDriverNames(ctx context.Context, companyNames map[string]string) map[string]string {
	names := make(map[string]string)
	subjects, err := s.upstream.ListSubjectsWithNames(ctx)
	if err != nil {
		s.logger.Warnf("load driver names: %v", err)
		return names
	}
	for _, subj := range subjects {
		if _, ok := companyNames[subj.ID]; !ok {
			companyNames[subj.ID] = subj.Name
		}
		for _, d := range subj.Drivers {
			names[d.ID] = d.Name
		}
	}
	return names
}

// storeIfNew classifies the raw violation and inserts it unless an open
// record already exists. Returns true when a new record was created.
func (s *Service) storeIfNew(ctx context.Context, companyID string, raw upstream.RawViolation, driverNames, companyNames map[string]string) bool {
	classification := classifier.Classify(raw.Message)
	if classification == nil {
		s.logger.Warnf("unclassified violation message: %q", raw.Message)
		return false
	}

	driverName := raw.DriverName
	if driverName == "" {
		driverName = driverNames[raw.DriverID]
	}

	v := &store.Violation{
		LogID:       raw.LogID,
		EventID:     raw.EventID,
		DriverID:    raw.DriverID,
		DriverName:  driverName,
		CompanyID:   companyID,
		CompanyName: companyNames[companyID],
		Key:         classification.Key,
		Name:        classification.Name,
		Message:     raw.Message,
		Severity:    string(classification.Severity),
		Category:    string(classification.Category),
		Metadata:    raw.Metadata,
	}

	inserted, err := s.violations.InsertIfNew(ctx, v)
	if err != nil {
		s.logger.Errorf("store violation: %v", err)
		return false
	}
	if !inserted {
		return false
	}

	s.logger.Infof("new violation %s for driver %s (%s)", v.Key, v.DriverName, v.ID)
	s.emit(types.NewViolationDiscoveredEvent(v.ID, v.Key, v.DriverName, v.CompanyName))
	return true
}

// dispatchPending fixes the oldest pending violations, bounded by the
// configured concurrency. Per-item failures never abort the batch.
func (s *Service) dispatchPending(ctx context.Context, cfg *store.AgentConfig) {
	pending, err := s.violations.ListPending(ctx, pendingBatchSize)
	if err != nil {
		s.logger.Errorf("list pending violations: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	s.logger.Infof("dispatching %d pending violations", len(pending))

	concurrent := int64(cfg.MaxConcurrentFixes)
	if concurrent < 1 {
		concurrent = 1
	}
	sem := semaphore.NewWeighted(concurrent)

	var wg sync.WaitGroup
	for _, v := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(v *store.Violation) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					s.logger.Errorf("dispatch panic for violation %s: %v", v.ID, r)
				}
			}()
			s.dispatchOne(ctx, cfg, v)
		}(v)
	}
	wg.Wait()
}

// dispatchOne runs the full fix lifecycle for a single violation.
func (s *Service) dispatchOne(ctx context.Context, cfg *store.AgentConfig, v *store.Violation) {
	strat := s.registry.Match(v)
	if strat == nil {
		s.logger.Warnf("no strategy registered for violation key %s", v.Key)
		return
	}

	// An attempt approved since the last cycle executes now; otherwise
	// the approval gate parks a fresh attempt and waits.
	attempt, err := s.attempts.FindApproved(ctx, v.ID)
	if err != nil {
		s.logger.Errorf("find approved attempt for %s: %v", v.ID, err)
		return
	}

	if attempt == nil {
		attempt = &store.FixAttempt{
			ViolationID:  v.ID,
			StrategyName: strat.Name(),
		}
		if err := s.attempts.Create(ctx, attempt); err != nil {
			s.logger.Errorf("create fix attempt: %v", err)
			return
		}

		if cfg.RequireApproval {
			if err := s.attempts.SetStatus(ctx, attempt.ID, store.AttemptPendingApproval); err != nil {
				s.logger.Errorf("park attempt for approval: %v", err)
				return
			}
			s.logger.Infof("fix %s requires approval, skipping execution", attempt.ID)
			s.emit(types.NewFixApprovalRequiredEvent(v.ID, attempt.ID, strat.Name()))
			return
		}
	}

	if err := s.violations.SetStatus(ctx, v.ID, store.ViolationFixing); err != nil {
		s.logger.Errorf("mark violation fixing: %v", err)
		return
	}
	s.emit(types.NewFixStartedEvent(v.ID, attempt.ID, strat.Name()))

	result := s.execute(ctx, strat, v, attempt, cfg)

	status := store.AttemptFailed
	if result.Success {
		status = store.AttemptSuccess
	}
	if err := s.attempts.Complete(ctx, attempt.ID, status, result.Message,
		result.ExecutionTimeMs, maxFixRetries, result.ScreenshotPath); err != nil {
		s.logger.Errorf("persist attempt result: %v", err)
	}

	if result.Success {
		if err := s.violations.MarkFixed(ctx, v.ID, time.Now().UTC()); err != nil {
			s.logger.Errorf("mark violation fixed: %v", err)
		}
		s.emit(types.NewFixSuccessEvent(v.ID, attempt.ID, result.Message))
	} else {
		if err := s.violations.SetStatus(ctx, v.ID, store.ViolationFailed); err != nil {
			s.logger.Errorf("mark violation failed: %v", err)
		}
		s.emit(types.NewFixFailedEvent(v.ID, attempt.ID, result.Message))
	}

	s.logger.Infof("fix complete for violation %s: success=%v", v.ID, result.Success)
}

// execute produces the fix result, honoring dry-run mode and the
// browser-less configuration.
func (s *Service) execute(ctx context.Context, strat strategy.Strategy, v *store.Violation, attempt *store.FixAttempt, cfg *store.AgentConfig) *strategy.FixResult {
	if cfg.DryRunMode {
		s.logger.Infof("dry run: simulating fix for %s", v.ID)
		return &strategy.FixResult{
			Success: true,
			Message: fmt.Sprintf("[DRY RUN] would execute %s for %s", strat.Name(), v.Key),
		}
	}

	if s.session == nil {
		s.logger.Warnf("browser session not available, cannot fix %s", v.ID)
		return &strategy.FixResult{
			Success: false,
			Message: "browser session not initialized",
		}
	}

	return strategy.RetryWithBackoff(ctx, strat, v, attempt, s.session, maxFixRetries, s.retrySleep)
}

func (s *Service) emit(event *types.AgentEvent) {
	if s.sink != nil {
		s.sink.Publish(event)
	}
}
