package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		selector string
		want     string
	}{
		{"button[type='submit']", "button_type=submit_"},
		{"div > span.label", "div___span.label"},
		{".mat-checkbox:nth-child(2)", ".mat-checkbox_nth-child(2)"},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeName(tt.selector))
		})
	}
}

func TestSanitizeNameTruncates(t *testing.T) {
	long := strings.Repeat("a", 100)
	assert.Len(t, sanitizeName(long), 60)
}

func TestLoginRedirectGlob(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://dashboard.example.com/login", true},
		{"https://dashboard.example.com/login?next=/dashboard", true},
		{"https://dashboard.example.com/auth/login/expired", true},
		{"https://dashboard.example.com/dashboard", false},
		{"https://dashboard.example.com/drivers/42/logs", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, loginRedirectGlob.Match(strings.ToLower(tt.url)))
		})
	}
}

func TestManagerRequiresInitialize(t *testing.T) {
	m := NewManager(true, t.TempDir(), t.TempDir())

	err := m.Login(Credentials{LoginURL: "https://example.com/login", Username: "u", Password: "p"})
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.False(t, m.IsLoggedIn("https://example.com/dashboard"))

	// Close before Initialize is a no-op.
	assert.NoError(t, m.Close())
}
