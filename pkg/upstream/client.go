// Package upstream talks to the compliance platform's read API. The API is
// the violation source: the overview lists subjects with open counters and
// the per-subject analysis returns the raw violation rows the classifier
// consumes.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
)

const (
	defaultTimeout     = 30 * time.Second
	maxRequestRetries  = 3
	maxRateBurst       = 5
	requestsPerSecond  = 5
	maxRetryAfterDelay = 2 * time.Minute
)

// Client is the compliance platform API client. Requests carry the auth
// token and system name headers, are gated by a client-side rate limiter,
// and retry transient failures with exponential backoff.
type Client struct {
	baseURL    string
	token      string
	systemName string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// New creates a client for the API at baseURL. A zero timeout uses the
// default of 30 seconds.
func New(baseURL, token, systemName string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		systemName: systemName,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), maxRateBurst),
		logger:     logging.ComponentLogger("upstream"),
	}
}

// statusError carries an HTTP status for retry classification.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// doJSON performs one API request with rate limiting and retry. Server
// errors and timeouts retry with exponential backoff; 429 waits out the
// Retry-After header; other client errors fail immediately.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	url := c.baseURL + path
	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Authorization", c.token)
		req.Header.Set("x-system-name", c.systemName)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warnf("Request %s %s failed: %v", method, path, err)
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			delay := retryAfter(resp)
			c.logger.Warnf("Rate limited by server, waiting %v", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
			return &statusError{status: resp.StatusCode}

		case resp.StatusCode >= 500:
			c.logger.Warnf("Server error %d on %s %s, retrying", resp.StatusCode, method, path)
			return &statusError{status: resp.StatusCode}

		case resp.StatusCode >= 400:
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(&statusError{status: resp.StatusCode, body: string(data)})
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRequestRetries),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// retryAfter parses the Retry-After header, either delay-seconds or an
// HTTP-date, defaulting to 60s and capping runaway values.
func retryAfter(resp *http.Response) time.Duration {
	delay := 60 * time.Second
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			delay = time.Duration(seconds) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			delay = time.Until(at)
			if delay < 0 {
				delay = 0
			}
		}
	}
	if delay > maxRetryAfterDelay {
		delay = maxRetryAfterDelay
	}
	return delay
}

// ListSubjects returns the monitoring overview: every subject with its
// open-violation count.
func (c *Client) ListSubjects(ctx context.Context) ([]Subject, error) {
	c.logger.Infof("Fetching monitoring overview")

	var ov overview
	if err := c.doJSON(ctx, http.MethodGet, "/monitoring", nil, &ov); err != nil {
		return nil, err
	}
	c.logger.Infof("Retrieved %d subjects, total violations: %d", len(ov.Companies), ov.TotalCount)
	return ov.Companies, nil
}

// ViolationsForSubject returns the raw violation rows for one subject from
// its per-subject analysis.
func (c *Client) ViolationsForSubject(ctx context.Context, subjectID string) ([]RawViolation, error) {
	c.logger.Infof("Fetching analysis for subject %s", subjectID)

	var drivers []driverLog
	if err := c.doJSON(ctx, http.MethodGet, "/monitoring/smart-analyze/"+subjectID, nil, &drivers); err != nil {
		return nil, err
	}

	var violations []RawViolation
	for _, d := range drivers {
		for _, e := range d.LogErrors {
			violations = append(violations, RawViolation{
				LogID:      e.ID,
				EventID:    e.ID,
				DriverID:   d.driverID(),
				DriverName: d.DriverName,
				Message:    e.Message,
				Type:       e.Type,
				Timestamp:  string(e.Time),
				Metadata: map[string]interface{}{
					"eventCode": e.EventCode,
				},
			})
		}
	}
	c.logger.Infof("Subject %s: %d drivers, %d violations", subjectID, len(drivers), len(violations))
	return violations, nil
}

// ListSubjectsWithNames returns subjects with their driver rosters for
// display-name enrichment. Callers treat a failure here as non-fatal:
// violations still dispatch, just without friendly names.
func (c *Client) ListSubjectsWithNames(ctx context.Context) ([]SubjectDrivers, error) {
	var subjects []SubjectDrivers
	if err := c.doJSON(ctx, http.MethodGet, "/monitoring/companies", nil, &subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

// AnalyzeDriver triggers a fresh analysis for one driver over a date range.
// Dates are YYYY-MM-DD.
func (c *Client) AnalyzeDriver(ctx context.Context, driverID, dateFrom, dateTo string) (map[string]interface{}, error) {
	c.logger.Infof("Running analysis for driver %s from %s to %s", driverID, dateFrom, dateTo)

	payload := map[string]string{
		"driverId": driverID,
		"dateFrom": dateFrom,
		"dateTo":   dateTo,
	}
	var result map[string]interface{}
	if err := c.doJSON(ctx, http.MethodPost, "/monitoring/smart-analyze", payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Healthy reports whether the API answers the overview request.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.ListSubjects(ctx)
	if err != nil {
		c.logger.Errorf("Health check failed: %v", err)
	}
	return err == nil
}
