package scanner

import (
	"sync"
	"time"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/events"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/types"
)

// Scan lifecycle states reported by the tracker.
const (
	ScanStatusRunning  = "running"
	ScanStatusComplete = "complete"
	ScanStatusFailed   = "failed"
)

// Progress is a point-in-time snapshot of a scan.
type Progress struct {
	ScanID        string    `json:"scan_id"`
	Status        string    `json:"status"`
	TotalDrivers  int       `json:"total_drivers"`
	Completed     int       `json:"completed"`
	CurrentDriver string    `json:"current_driver,omitempty"`
	Percent       int       `json:"percent"`
	Step          string    `json:"step,omitempty"`
	Message       string    `json:"message,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Tracker keeps in-memory progress state for active scans and mirrors
// updates onto the event sink. Snapshots are read by external layers
// polling for scan status, so Get returns a copy.
type Tracker struct {
	mu    sync.Mutex
	scans map[string]*Progress
	sink  events.Sink
}

// NewTracker creates a tracker. A nil sink disables event emission.
func NewTracker(sink events.Sink) *Tracker {
	return &Tracker{
		scans: make(map[string]*Progress),
		sink:  sink,
	}
}

// Start registers a new scan with the given driver count.
func (t *Tracker) Start(scanID string, totalDrivers int) {
	now := time.Now().UTC()

	t.mu.Lock()
	t.scans[scanID] = &Progress{
		ScanID:       scanID,
		Status:       ScanStatusRunning,
		TotalDrivers: totalDrivers,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	t.mu.Unlock()

	t.emitProgress(scanID, "scan started", 0)
}

// UpdateDriver records the driver currently being scanned.
func (t *Tracker) UpdateDriver(scanID, driverName string) {
	var percent int

	t.mu.Lock()
	p, ok := t.scans[scanID]
	if ok {
		p.CurrentDriver = driverName
		p.UpdatedAt = time.Now().UTC()
		percent = p.Percent
	}
	t.mu.Unlock()

	if ok {
		t.emitProgress(scanID, "scanning "+driverName, percent)
	}
}

// CompleteDriver increments the completed count and recomputes percent.
func (t *Tracker) CompleteDriver(scanID string) {
	var (
		percent int
		ok      bool
	)

	t.mu.Lock()
	p, found := t.scans[scanID]
	if found {
		p.Completed++
		if p.TotalDrivers > 0 {
			p.Percent = p.Completed * 100 / p.TotalDrivers
		}
		p.UpdatedAt = time.Now().UTC()
		percent = p.Percent
		ok = true
	}
	t.mu.Unlock()

	if ok {
		t.emitProgress(scanID, "", percent)
	}
}

// UpdateStep records the named step a scan unit is on. Steps are
// coarse-grained markers like "select-company" or "extract-rows".
func (t *Tracker) UpdateStep(scanID, step, message string) {
	var percent int

	t.mu.Lock()
	p, ok := t.scans[scanID]
	if ok {
		p.Step = step
		p.Message = message
		p.UpdatedAt = time.Now().UTC()
		percent = p.Percent
	}
	t.mu.Unlock()

	if ok {
		t.emitProgress(scanID, message, percent)
	}
}

// UpdateMessage records a free-text status message without changing the step.
func (t *Tracker) UpdateMessage(scanID, message string) {
	var percent int

	t.mu.Lock()
	p, ok := t.scans[scanID]
	if ok {
		p.Message = message
		p.UpdatedAt = time.Now().UTC()
		percent = p.Percent
	}
	t.mu.Unlock()

	if ok {
		t.emitProgress(scanID, message, percent)
	}
}

// Complete marks the scan finished and emits the terminal event. The
// entry stays in the map until Remove so late readers still see it.
func (t *Tracker) Complete(scanID string, success bool, message string) {
	t.mu.Lock()
	p, ok := t.scans[scanID]
	if ok {
		if success {
			p.Status = ScanStatusComplete
			p.Percent = 100
		} else {
			p.Status = ScanStatusFailed
		}
		p.CurrentDriver = ""
		p.Message = message
		p.UpdatedAt = time.Now().UTC()
	}
	t.mu.Unlock()

	if ok && t.sink != nil {
		t.sink.Publish(types.NewScanCompleteEvent(scanID, success, message))
	}
}

// Get returns a snapshot of the scan's progress.
func (t *Tracker) Get(scanID string) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.scans[scanID]
	if !ok {
		return Progress{}, false
	}
	return *p, true
}

// Remove drops a finished scan from the tracker.
func (t *Tracker) Remove(scanID string) {
	t.mu.Lock()
	delete(t.scans, scanID)
	t.mu.Unlock()
}

func (t *Tracker) emitProgress(scanID, message string, percent int) {
	if t.sink == nil {
		return
	}
	t.sink.Publish(types.NewScanProgressEvent(scanID, message, percent))
}
