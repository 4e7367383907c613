// Package browser drives the compliance dashboard through a real browser.
//
// The dashboard has no remediation API, so fixes happen the way a human
// performs them: navigate, click, fill, submit. The Manager owns the browser
// lifecycle and login session; Actions wraps per-page interactions with
// retries and failure screenshots.
package browser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/playwright-community/playwright-go"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/artifacts"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
)

// Default selectors for the dashboard login form.
const (
	DefaultUsernameSelector = "input[name='username']"
	DefaultPasswordSelector = "input[name='password']"
	DefaultSubmitSelector   = "button[type='submit']"
	DefaultSuccessPattern   = "**/dashboard**"
)

const (
	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	loginWaitTimeoutMs    = 15000
	sessionProbeTimeoutMs = 5000
)

// Launch flags that keep the automation stable: no notification or first-run
// prompts, no popup blocking, and the AutomationControlled blink feature off
// so the dashboard does not flag the session.
var launchArgs = []string{
	"--disable-notifications",
	"--disable-default-apps",
	"--disable-extensions",
	"--disable-sync",
	"--no-default-browser-check",
	"--disable-popup-blocking",
	"--disable-infobars",
	"--disable-blink-features=AutomationControlled",
	"--disable-web-security",
	"--disable-features=IsolateOrigins,site-per-process",
	"--allow-running-insecure-content",
	"--disable-site-isolation-trials",
	"--no-first-run",
	"--no-service-autorun",
	"--password-store=basic",
	"--use-mock-keychain",
}

// loginRedirectGlob matches URLs the dashboard bounces expired sessions to.
var loginRedirectGlob = glob.MustCompile("*login*")

// Credentials holds a stored dashboard login.
type Credentials struct {
	LoginURL string
	Username string
	Password string
}

// Manager owns the Playwright instance, browser, context, and primary page.
// Login state persists to disk so restarts reuse the previous session
// instead of logging in again.
type Manager struct {
	mu            sync.Mutex
	headless      bool
	stateDir      string
	screenshotDir string
	sessionFile   string

	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	shots       *artifacts.Dir
	creds       Credentials
	initialized bool
	logger      *logging.Logger
}

// NewManager creates a browser manager. stateDir holds the persisted session
// state; screenshotDir receives failure screenshots.
func NewManager(headless bool, stateDir, screenshotDir string) *Manager {
	return &Manager{
		headless:      headless,
		stateDir:      stateDir,
		screenshotDir: screenshotDir,
		sessionFile:   filepath.Join(stateDir, "session_state.json"),
		logger:        logging.ComponentLogger("browser"),
	}
}

// Initialize installs and starts Playwright, launches the browser, and
// creates the primary page. When a persisted session exists it is restored
// into the new context.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	if err := os.MkdirAll(m.stateDir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", m.stateDir, err)
	}
	shots, err := artifacts.New(m.screenshotDir)
	if err != nil {
		return fmt.Errorf("failed to prepare screenshot directory: %w", err)
	}
	m.shots = shots

	m.logger.Infof("Initializing Playwright (headless=%v)", m.headless)

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

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.headless),
		Args:     launchArgs,
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  defaultViewportWidth,
			Height: defaultViewportHeight,
		},
		UserAgent:         playwright.String(defaultUserAgent),
		AcceptDownloads:   playwright.Bool(true),
		BypassCSP:         playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if _, err := os.Stat(m.sessionFile); err == nil {
		m.logger.Infof("Restoring session state from %s", m.sessionFile)
		contextOpts.StorageStatePath = playwright.String(m.sessionFile)
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		pw.Stop()
		return fmt.Errorf("failed to create page: %w", err)
	}

	m.pw = pw
	m.browser = browser
	m.context = context
	m.page = page
	m.initialized = true

	m.logger.Infof("Playwright initialized")
	return nil
}

// Page returns the primary page.
func (m *Manager) Page() playwright.Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page
}

// Context returns the browser context. Scans open additional tabs on it.
func (m *Manager) Context() playwright.BrowserContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.context
}

// Login authenticates against the dashboard and persists the session state.
// Credentials are retained for later re-authentication.
func (m *Manager) Login(creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}

	m.logger.Infof("Logging in to %s", creds.LoginURL)
	m.creds = creds

	if _, err := m.page.Goto(creds.LoginURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	if err := m.page.Fill(DefaultUsernameSelector, creds.Username); err != nil {
		return fmt.Errorf("failed to fill username: %w", err)
	}
	if err := m.page.Fill(DefaultPasswordSelector, creds.Password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}
	if err := m.page.Click(DefaultSubmitSelector); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}

	if err := m.page.WaitForURL(DefaultSuccessPattern, playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(loginWaitTimeoutMs),
	}); err != nil {
		m.captureScreenshotLocked("login_failed")
		return fmt.Errorf("login did not reach dashboard: %w", err)
	}

	if _, err := m.context.StorageState(m.sessionFile); err != nil {
		m.logger.Warnf("Failed to persist session state: %v", err)
	} else {
		m.logger.Infof("Login successful, session saved")
	}
	return nil
}

// IsLoggedIn probes dashboardURL and reports whether the session is still
// valid. A redirect to any login URL means the session expired. An empty
// URL cannot be verified and is treated as logged in.
func (m *Manager) IsLoggedIn(dashboardURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false
	}
	if dashboardURL == "" {
		return true
	}

	if _, err := m.page.Goto(dashboardURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(sessionProbeTimeoutMs),
	}); err != nil {
		m.logger.Warnf("Session check failed: %v", err)
		return false
	}

	if loginRedirectGlob.Match(strings.ToLower(m.page.URL())) {
		m.logger.Warnf("Session expired, redirected to login")
		return false
	}
	return true
}

// EnsureLoggedIn verifies the session and re-authenticates with the stored
// credentials when it has expired.
func (m *Manager) EnsureLoggedIn(dashboardURL string) error {
	if m.IsLoggedIn(dashboardURL) {
		return nil
	}

	m.logger.Infof("Session expired, attempting re-login")
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	if creds.Username == "" || creds.Password == "" || creds.LoginURL == "" {
		return ErrNoCredentials
	}
	if err := m.Login(creds); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return nil
}

// CaptureScreenshot saves a full-page screenshot of the primary page.
// Best effort: failures are logged, never returned.
func (m *Manager) CaptureScreenshot(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captureScreenshotLocked(name)
}

func (m *Manager) captureScreenshotLocked(name string) string {
	if m.page == nil || m.shots == nil {
		return ""
	}
	path, err := m.shots.Timestamped(name, "png")
	if err != nil {
		m.logger.Errorf("Invalid screenshot name %q: %v", name, err)
		return ""
	}
	if _, err := m.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	}); err != nil {
		m.logger.Errorf("Failed to capture screenshot: %v", err)
		return ""
	}
	m.logger.Infof("Screenshot saved: %s", path)
	return path
}

// Close shuts down the page, context, browser, and Playwright.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	m.logger.Infof("Closing browser")

	if m.page != nil {
		_ = m.page.Close()
	}
	if m.context != nil {
		_ = m.context.Close()
	}
	if m.browser != nil {
		_ = m.browser.Close()
	}
	var err error
	if m.pw != nil {
		err = m.pw.Stop()
	}
	m.initialized = false
	return err
}
