package upstream

import "encoding/json"

// Subject is a monitored company with its open-violation counters, as
// returned by the monitoring overview.
type Subject struct {
	ID             string `json:"companyId"`
	Name           string `json:"companyName"`
	ViolationCount int    `json:"numberOfError"`
}

// HasViolations reports whether the subject has anything to remediate.
func (s Subject) HasViolations() bool { return s.ViolationCount > 0 }

// overview is the monitoring overview response envelope.
type overview struct {
	Companies  []Subject `json:"companies"`
	TotalCount int       `json:"totalNumberOfError"`
}

// RawViolation is one violation row from the per-subject analysis before
// classification.
type RawViolation struct {
	LogID      string                 `json:"-"`
	EventID    string                 `json:"-"`
	DriverID   string                 `json:"-"`
	DriverName string                 `json:"-"`
	Message    string                 `json:"-"`
	Type       string                 `json:"-"`
	Timestamp  string                 `json:"-"`
	Metadata   map[string]interface{} `json:"-"`
}

// driverLog is one driver's entry in the per-subject analysis.
type driverLog struct {
	DriverID    string          `json:"driver_id"`
	DriverIDAlt string          `json:"driverId"`
	DriverName  string          `json:"driver_name"`
	LogErrors   []logCheckError `json:"logCheckErrors"`
}

func (d driverLog) driverID() string {
	if d.DriverID != "" {
		return d.DriverID
	}
	return d.DriverIDAlt
}

// logCheckError is one raw violation in a driver's log.
type logCheckError struct {
	ID        string          `json:"id"`
	Message   string          `json:"errorMessage"`
	Type      string          `json:"errorType"`
	EventCode string          `json:"eventCode"`
	Time      json.RawMessage `json:"errorTime"`
}

// SubjectDrivers maps a subject to its drivers, used for display-name
// enrichment.
type SubjectDrivers struct {
	ID      string       `json:"company_id"`
	Name    string       `json:"company_name"`
	Drivers []DriverName `json:"drivers"`
}

// DriverName is a driver's identity within a subject.
type DriverName struct {
	ID   string `json:"driver_id"`
	Name string `json:"driver_name"`
}
