package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/store"
)

var retryLogger = logging.ComponentLogger("strategy-retry")

// RetryWithBackoff runs the strategy up to maxRetries times, sleeping
// 1s, 2s, 4s... between failed attempts. Faults from Execute are converted
// into failed FixResults so the caller always gets an outcome. The sleep
// function is injectable for tests; pass nil for time.Sleep.
func RetryWithBackoff(ctx context.Context, s Strategy, v *store.Violation, attempt *store.FixAttempt, session Session, maxRetries int, sleep func(time.Duration)) *FixResult {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if sleep == nil {
		sleep = time.Sleep
	}

	for i := 0; i < maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return &FixResult{
				Success: false,
				Message: fmt.Sprintf("canceled before attempt %d: %v", i+1, err),
			}
		}

		retryLogger.Infof("Executing %s for violation %s (attempt %d/%d)",
			s.Name(), v.ID, i+1, maxRetries)

		result, err := runAttempt(ctx, s, v, attempt, session)
		if err != nil {
			retryLogger.Errorf("Attempt %d faulted: %v", i+1, err)
			if i == maxRetries-1 {
				return &FixResult{
					Success: false,
					Message: fmt.Sprintf("fault after %d attempts: %v", maxRetries, err),
				}
			}
			sleep(time.Duration(1<<i) * time.Second)
			continue
		}

		if result.Success {
			retryLogger.Infof("Fix successful on attempt %d", i+1)
			return result
		}

		if i < maxRetries-1 {
			wait := time.Duration(1<<i) * time.Second
			retryLogger.Warnf("Fix failed, retrying in %v (message: %s)", wait, result.Message)
			sleep(wait)
		}
	}

	return &FixResult{
		Success: false,
		Message: fmt.Sprintf("max retries (%d) exceeded", maxRetries),
	}
}

// runAttempt invokes Execute with a recover guard. A panicking strategy
// counts as one faulted attempt instead of unwinding past the dispatcher
// and stranding the violation mid-fix.
func runAttempt(ctx context.Context, s Strategy, v *store.Violation, attempt *store.FixAttempt, session Session) (result *FixResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	return s.Execute(ctx, v, attempt, session)
}
