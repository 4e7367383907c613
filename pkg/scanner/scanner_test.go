package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/events"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/types"
)

func TestParseLogRows(t *testing.T) {
	t.Run("parses ant design table rows", func(t *testing.T) {
		fragment := `<table><tbody>
			<tr class="ant-table-row">
				<td>08:15</td><td>Driving</td><td>2h 10m</td><td>Active</td><td>Dallas, TX</td><td>1204.5</td><td>88.2</td><td>morning run</td>
			</tr>
			<tr class="ant-table-row">
				<td>10:30</td><td>On Duty</td><td>0h 45m</td><td>Active</td><td>Fort Worth, TX</td>
			</tr>
		</tbody></table>`

		rows, err := ParseLogRows(fragment)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, "08:15", rows[0].Time)
		assert.Equal(t, "Driving", rows[0].Event)
		assert.Equal(t, "2h 10m", rows[0].Duration)
		assert.Equal(t, "Active", rows[0].Status)
		assert.Equal(t, "Dallas, TX", rows[0].Location)
		assert.Equal(t, "1204.5", rows[0].Odometer)
		assert.Equal(t, "88.2", rows[0].EngineHours)
		assert.Equal(t, "morning run", rows[0].Notes)

		assert.Equal(t, "10:30", rows[1].Time)
		assert.Empty(t, rows[1].Odometer)
	})

	t.Run("prefers patch table rows and skips header", func(t *testing.T) {
		fragment := `<div>
			<div class="patch-table-row patch-table-header">
				<div>Time</div><div>Event</div><div>Duration</div><div>Status</div><div>Location</div>
			</div>
			<div class="patch-table-row">
				<div>06:00</div><div>Power Up</div><div>-</div><div>OK</div><div>Yard</div>
			</div>
		</div>`

		rows, err := ParseLogRows(fragment)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Power Up", rows[0].Event)
	})

	t.Run("falls back to plain table body rows", func(t *testing.T) {
		fragment := `<table>
			<thead><tr><td>Time</td><td>Event</td><td>Dur</td><td>Status</td><td>Loc</td></tr></thead>
			<tbody>
				<tr><td>12:00</td><td>Off Duty</td><td>1h</td><td>OK</td><td>Austin, TX</td></tr>
			</tbody>
		</table>`

		rows, err := ParseLogRows(fragment)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Off Duty", rows[0].Event)
	})

	t.Run("filters calendar artifacts", func(t *testing.T) {
		fragment := `<table><tbody>
			<tr class="ant-table-row"><td>14</td><td>15</td><td>16</td><td>17</td><td>18</td></tr>
			<tr class="ant-table-row"><td></td><td></td><td></td><td></td><td></td></tr>
			<tr class="ant-table-row"><td>09:00</td><td>Driving</td><td>1h</td><td>OK</td><td>Waco, TX</td></tr>
		</tbody></table>`

		rows, err := ParseLogRows(fragment)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "09:00", rows[0].Time)
	})

	t.Run("skips rows with too few cells", func(t *testing.T) {
		fragment := `<table><tbody>
			<tr class="ant-table-row"><td>08:00</td><td>Driving</td></tr>
		</tbody></table>`

		rows, err := ParseLogRows(fragment)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("trims nested cell text", func(t *testing.T) {
		fragment := `<table><tbody>
			<tr class="ant-table-row">
				<td> 08:00 </td><td><span>Driving</span></td><td>1h</td><td>OK</td><td><b>Tyler</b>, TX</td>
			</tr>
		</tbody></table>`

		rows, err := ParseLogRows(fragment)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "08:00", rows[0].Time)
		assert.Equal(t, "Driving", rows[0].Event)
		assert.Equal(t, "Tyler, TX", rows[0].Location)
	})

	t.Run("empty fragment yields no rows", func(t *testing.T) {
		rows, err := ParseLogRows("<div></div>")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

// captureSink records published events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []*types.AgentEvent
}

func (c *captureSink) Publish(event *types.AgentEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSink) byType(eventType types.AgentEventType) []*types.AgentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.AgentEvent
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

var _ events.Sink = (*captureSink)(nil)

func TestTracker(t *testing.T) {
	t.Run("start registers running scan", func(t *testing.T) {
		tracker := NewTracker(nil)
		tracker.Start("scan-1", 4)

		p, ok := tracker.Get("scan-1")
		require.True(t, ok)
		assert.Equal(t, ScanStatusRunning, p.Status)
		assert.Equal(t, 4, p.TotalDrivers)
		assert.Zero(t, p.Completed)
		assert.Zero(t, p.Percent)
	})

	t.Run("complete driver advances percent", func(t *testing.T) {
		tracker := NewTracker(nil)
		tracker.Start("scan-1", 4)

		tracker.CompleteDriver("scan-1")
		p, _ := tracker.Get("scan-1")
		assert.Equal(t, 1, p.Completed)
		assert.Equal(t, 25, p.Percent)

		tracker.CompleteDriver("scan-1")
		tracker.CompleteDriver("scan-1")
		tracker.CompleteDriver("scan-1")
		p, _ = tracker.Get("scan-1")
		assert.Equal(t, 100, p.Percent)
	})

	t.Run("update driver and step are visible in snapshot", func(t *testing.T) {
		tracker := NewTracker(nil)
		tracker.Start("scan-1", 2)

		tracker.UpdateDriver("scan-1", "John Smith")
		tracker.UpdateStep("scan-1", "select-company", "selecting company Acme")

		p, _ := tracker.Get("scan-1")
		assert.Equal(t, "John Smith", p.CurrentDriver)
		assert.Equal(t, "select-company", p.Step)
		assert.Equal(t, "selecting company Acme", p.Message)
	})

	t.Run("complete marks terminal state", func(t *testing.T) {
		tracker := NewTracker(nil)
		tracker.Start("scan-1", 2)
		tracker.UpdateDriver("scan-1", "John Smith")

		tracker.Complete("scan-1", true, "all done")
		p, _ := tracker.Get("scan-1")
		assert.Equal(t, ScanStatusComplete, p.Status)
		assert.Equal(t, 100, p.Percent)
		assert.Empty(t, p.CurrentDriver)
		assert.Equal(t, "all done", p.Message)
	})

	t.Run("failed complete keeps percent", func(t *testing.T) {
		tracker := NewTracker(nil)
		tracker.Start("scan-1", 2)
		tracker.CompleteDriver("scan-1")

		tracker.Complete("scan-1", false, "1 driver failed")
		p, _ := tracker.Get("scan-1")
		assert.Equal(t, ScanStatusFailed, p.Status)
		assert.Equal(t, 50, p.Percent)
	})

	t.Run("remove drops the scan", func(t *testing.T) {
		tracker := NewTracker(nil)
		tracker.Start("scan-1", 1)
		tracker.Remove("scan-1")

		_, ok := tracker.Get("scan-1")
		assert.False(t, ok)
	})

	t.Run("updates to unknown scan are ignored", func(t *testing.T) {
		sink := &captureSink{}
		tracker := NewTracker(sink)

		tracker.UpdateDriver("missing", "nobody")
		tracker.CompleteDriver("missing")
		tracker.Complete("missing", true, "done")

		assert.Empty(t, sink.events)
	})

	t.Run("emits progress and complete events", func(t *testing.T) {
		sink := &captureSink{}
		tracker := NewTracker(sink)

		tracker.Start("scan-1", 2)
		tracker.UpdateDriver("scan-1", "John Smith")
		tracker.CompleteDriver("scan-1")
		tracker.Complete("scan-1", true, "finished")

		progress := sink.byType(types.EventTypeScanProgress)
		require.NotEmpty(t, progress)
		assert.Equal(t, "scan-1", progress[0].ScanID)

		complete := sink.byType(types.EventTypeScanComplete)
		require.Len(t, complete, 1)
		assert.Equal(t, "finished", complete[0].Message)
		assert.Equal(t, true, complete[0].Metadata["success"])
	})
}

func testTargets(n int) []DriverTarget {
	targets := make([]DriverTarget, n)
	for i := range targets {
		targets[i] = DriverTarget{
			DriverID:    fmt.Sprintf("d-%d", i+1),
			DriverName:  fmt.Sprintf("Driver %d", i+1),
			CompanyName: "Acme Carriers",
		}
	}
	return targets
}

func TestScanSubjects(t *testing.T) {
	t.Run("never runs more units than the tab cap", func(t *testing.T) {
		s := New(nil, "https://dashboard.example.com", NewTracker(nil))

		var mu sync.Mutex
		current, peak := 0, 0
		s.scan = func(ctx context.Context, scanID string, target DriverTarget, opts Options) ([]LogRow, error) {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			return []LogRow{{Event: target.DriverID}}, nil
		}

		results := s.ScanSubjects(context.Background(), "scan-1", testTargets(6), Options{})

		require.Len(t, results, 6)
		for i, r := range results {
			require.NoError(t, r.Err)
			assert.Equal(t, fmt.Sprintf("d-%d", i+1), r.Target.DriverID)
		}
		assert.LessOrEqual(t, peak, 2)
		assert.GreaterOrEqual(t, peak, 1)
	})

	t.Run("honors a larger explicit tab cap", func(t *testing.T) {
		s := New(nil, "https://dashboard.example.com", NewTracker(nil))

		var mu sync.Mutex
		current, peak := 0, 0
		s.scan = func(ctx context.Context, scanID string, target DriverTarget, opts Options) ([]LogRow, error) {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			return nil, nil
		}

		s.ScanSubjects(context.Background(), "scan-2", testTargets(8), Options{MaxTabs: 4})

		assert.LessOrEqual(t, peak, 4)
	})

	t.Run("leaves the completion signal to the caller", func(t *testing.T) {
		sink := &captureSink{}
		tracker := NewTracker(sink)
		s := New(nil, "https://dashboard.example.com", tracker)
		s.scan = func(ctx context.Context, scanID string, target DriverTarget, opts Options) ([]LogRow, error) {
			return nil, errors.New("work tab crashed")
		}

		results := s.ScanSubjects(context.Background(), "scan-3", testTargets(3), Options{})

		require.Len(t, results, 3)
		assert.Equal(t, 3, FailedCount(results))

		// The scan stays running until the caller reports the outcome.
		assert.Empty(t, sink.byType(types.EventTypeScanComplete))
		progress, ok := tracker.Get("scan-3")
		require.True(t, ok)
		assert.Equal(t, ScanStatusRunning, progress.Status)

		tracker.Complete("scan-3", false, "scanned 3 drivers, 3 failed")
		require.Len(t, sink.byType(types.EventTypeScanComplete), 1)
	})

	t.Run("per unit failures do not abort the run", func(t *testing.T) {
		s := New(nil, "https://dashboard.example.com", NewTracker(nil))
		s.scan = func(ctx context.Context, scanID string, target DriverTarget, opts Options) ([]LogRow, error) {
			if target.DriverID == "d-2" {
				return nil, errors.New("dropdown never appeared")
			}
			return []LogRow{{Event: "Driving"}}, nil
		}

		results := s.ScanSubjects(context.Background(), "scan-4", testTargets(3), Options{})

		require.Len(t, results, 3)
		assert.NoError(t, results[0].Err)
		assert.Error(t, results[1].Err)
		assert.NoError(t, results[2].Err)
		assert.Equal(t, 1, FailedCount(results))
	})

	t.Run("cancellation records the error for unstarted targets", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		s := New(nil, "https://dashboard.example.com", NewTracker(nil))
		s.scan = func(ctx context.Context, scanID string, target DriverTarget, opts Options) ([]LogRow, error) {
			return nil, nil
		}

		results := s.ScanSubjects(ctx, "scan-5", testTargets(2), Options{})

		require.Len(t, results, 2)
		for _, r := range results {
			assert.ErrorIs(t, r.Err, context.Canceled)
		}
	})
}
