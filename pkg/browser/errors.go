package browser

import "errors"

var (
	// ErrNotInitialized is returned when browser operations run before Initialize.
	ErrNotInitialized = errors.New("browser manager not initialized")

	// ErrSessionExpired is returned when the dashboard session is no longer
	// valid and re-authentication failed.
	ErrSessionExpired = errors.New("browser session expired")

	// ErrNoCredentials is returned when re-authentication is needed but no
	// credentials were stored by a prior Login call.
	ErrNoCredentials = errors.New("no login credentials stored for re-authentication")
)
