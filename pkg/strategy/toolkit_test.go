package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolkitCheckboxMap(t *testing.T) {
	tests := []struct {
		key  string
		want []string
	}{
		{
			key: "missingIntermediateError",
			want: []string{
				"FIX INTERMEDIATE",
				"FIX INTERMEDIATE TIME OFFSET",
				"FIX INTERMEDIATE AFTER MAIN",
			},
		},
		{
			key: "noPowerUpError",
			want: []string{
				"FIX NO POWER UP",
				"FIX MISSING POWER UP / SHUT DOWN",
				"FIX NO SHUT DOWN",
			},
		},
		{
			key: "noShutdownError",
			want: []string{
				"FIX NO SHUT DOWN",
				"FIX MISSING POWER UP / SHUT DOWN",
				"FIX NO POWER UP",
			},
		},
		{
			key:  "twoIdenticalStatusesError",
			want: []string{"CLEAR TWIN EVENTS"},
		},
		{
			key:  "drivingOriginWarning",
			want: []string{"FIX EVENT ORIGIN"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ToolkitCheckboxMap[tt.key])
		})
	}
}

func TestNewToolkitStrategiesCoverEveryMappedKey(t *testing.T) {
	strategies := NewToolkitStrategies()
	require.Len(t, strategies, len(ToolkitCheckboxMap))

	seen := make(map[string]bool)
	for _, s := range strategies {
		ts, ok := s.(*ToolkitStrategy)
		require.True(t, ok)

		assert.NotEmpty(t, ts.Name())
		assert.True(t, ts.CanHandle(testViolation(ts.Key())))
		assert.False(t, ts.CanHandle(testViolation("somethingElse")))
		assert.Equal(t, ToolkitCheckboxMap[ts.Key()], ts.Checkboxes())
		seen[ts.Key()] = true
	}

	for key := range ToolkitCheckboxMap {
		assert.True(t, seen[key], "no strategy for %s", key)
	}
}

func TestWalkthroughHandlesAnything(t *testing.T) {
	s := NewWalkthroughStrategy()
	assert.Equal(t, "walkthrough", s.Key())
	assert.True(t, s.CanHandle(testViolation("noShutdownError")))
	assert.True(t, s.CanHandle(testViolation("anythingAtAll")))
}

func TestDuplicateEventStrategies(t *testing.T) {
	login := NewDuplicateLoginStrategy()
	logout := NewDuplicateLogoutStrategy()

	assert.Equal(t, "excessiveLogInWarning", login.Key())
	assert.Equal(t, "excessiveLogOutWarning", logout.Key())
	assert.True(t, login.CanHandle(testViolation("excessiveLogInWarning")))
	assert.False(t, login.CanHandle(testViolation("excessiveLogOutWarning")))
}
