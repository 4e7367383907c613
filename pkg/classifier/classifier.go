// Package classifier maps raw driver-log violation messages to a structured
// Classification. Matching is order-sensitive: filters are evaluated top to
// bottom and the first match wins. Exact matching is preferred; messages that
// embed parameters (speed limits) use prefix matching.
package classifier

import "strings"

// Category groups violation types by the part of the log they affect.
type Category string

const (
	CategoryDataIntegrity    Category = "data_integrity"
	CategoryLocationMovement Category = "location_movement"
	CategoryStatusEvent      Category = "status_event"
	CategoryDiagnostic       Category = "diagnostic"
	CategorySpeed            Category = "speed"
	CategoryAuthentication   Category = "authentication"
)

// Severity ranks how urgently a violation needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RemediationClass describes how a violation type can be handled.
type RemediationClass string

const (
	// RemediationObsolete marks violation types the dashboard no longer emits.
	// Obsolete filters are kept as tombstones and never matched.
	RemediationObsolete RemediationClass = "obsolete"
	// RemediationInfoOnly violations are recorded but never fixed automatically.
	RemediationInfoOnly RemediationClass = "info_only"
	// RemediationToolkit violations are fixable through the dashboard's repair tool kit.
	RemediationToolkit RemediationClass = "toolkit"
	// RemediationCustom violations need a dedicated automation recipe.
	RemediationCustom RemediationClass = "custom"
)

// Classification is the immutable result of classifying a violation message.
type Classification struct {
	Key         string
	Name        string
	Category    Category
	Severity    Severity
	Remediation RemediationClass
}

type matchFunc func(msg string) bool

type filter struct {
	name        string
	key         string
	match       matchFunc
	category    Category
	severity    Severity
	remediation RemediationClass
}

func exact(want string) matchFunc {
	return func(msg string) bool { return msg == want }
}

func prefix(want string) matchFunc {
	return func(msg string) bool { return strings.HasPrefix(msg, want) }
}

// filters is the ordered classification table. First match wins.
// Obsolete entries are tombstones: documented here, excluded from matching.
var filters = []filter{
	// Recorded but never auto-fixed.
	{"SEQUENTIAL ID BREAK WARNING", "sequentialIdBreak", exact("SEQUENTIAL ID BREAK WARNING"), CategoryDataIntegrity, SeverityCritical, RemediationInfoOnly},
	{"ENGINE HOURS HAVE CHANGED AFTER SHUT DOWN WARNING", "engineHoursAfterShutdown", exact("ENGINE HOURS HAVE CHANGED AFTER SHUT DOWN WARNING"), CategoryDataIntegrity, SeverityHigh, RemediationInfoOnly},
	{"EVENT IS NOT DOWNLOADED", "eventIsNotDownloaded", exact("EVENT IS NOT DOWNLOADED"), CategoryAuthentication, SeverityLow, RemediationInfoOnly},

	// Fixable through the dashboard repair tool kit.
	{"NO POWER UP ERROR", "noPowerUpError", exact("NO POWER UP ERROR"), CategoryDiagnostic, SeverityLow, RemediationToolkit},
	{"TWO IDENTICAL STATUSES ERROR", "twoIdenticalStatusesError", exact("TWO IDENTICAL STATUSES ERROR"), CategoryStatusEvent, SeverityMedium, RemediationToolkit},
	{"DRIVING ORIGIN WARNING", "drivingOriginWarning", exact("DRIVING ORIGIN WARNING"), CategoryLocationMovement, SeverityMedium, RemediationToolkit},
	{"MISSING INTERMEDIATE ERROR", "missingIntermediateError", exact("MISSING INTERMEDIATE ERROR"), CategoryStatusEvent, SeverityMedium, RemediationToolkit},
	{"NO SHUT DOWN ERROR", "noShutdownError", exact("NO SHUT DOWN ERROR"), CategoryDiagnostic, SeverityLow, RemediationToolkit},

	// Need a dedicated automation recipe.
	{"ODOMETER ERROR", "odometerError", exact("ODOMETER ERROR"), CategoryDataIntegrity, SeverityHigh, RemediationCustom},
	{"LOCATION CHANGED ERROR", "locationChangedError", exact("LOCATION CHANGED ERROR"), CategoryLocationMovement, SeverityHigh, RemediationCustom},
	{"INCORRECT INTERMEDIATE PLACEMENT ERROR", "incorrectIntermediatePlacementError", exact("INCORRECT INTERMEDIATE PLACEMENT ERROR"), CategoryStatusEvent, SeverityMedium, RemediationCustom},
	{"ENGINE HOURS WARNING", "engineHoursWarning", exact("ENGINE HOURS WARNING"), CategoryDataIntegrity, SeverityMedium, RemediationCustom},
	{"EXCESSIVE LOG IN WARNING", "excessiveLogInWarning", exact("EXCESSIVE LOG IN WARNING"), CategoryAuthentication, SeverityLow, RemediationCustom},
	{"EXCESSIVE LOG OUT WARNING", "excessiveLogOutWarning", exact("EXCESSIVE LOG OUT WARNING"), CategoryAuthentication, SeverityLow, RemediationCustom},
	{"NO DATA IN ODOMETER OR ENGINE HOURS ERROR", "noDataInOdometerOrEngineHours", exact("NO DATA IN ODOMETER OR ENGINE HOURS ERROR"), CategoryDataIntegrity, SeverityCritical, RemediationCustom},
	{"LOCATION ERROR", "locationError", exact("LOCATION ERROR"), CategoryLocationMovement, SeverityHigh, RemediationCustom},
	{"LOCATION DID NOT CHANGE WARNING", "locationDidNotChangeWarning", exact("LOCATION DID NOT CHANGE WARNING"), CategoryLocationMovement, SeverityMedium, RemediationCustom},
	{"INCORRECT STATUS PLACEMENT ERROR", "incorrectStatusPlacementError", exact("INCORRECT STATUS PLACEMENT ERROR"), CategoryStatusEvent, SeverityHigh, RemediationCustom},
	// Speed messages embed the limit, so these match on prefix.
	{"THE SPEED WAS MUCH HIGHER THAN THE SPEED LIMIT IN", "speedMuchHigherThanLimit", prefix("THE SPEED WAS MUCH HIGHER THAN THE SPEED LIMIT IN"), CategorySpeed, SeverityHigh, RemediationCustom},
	{"THE SPEED WAS HIGHER THAN THE SPEED", "speedHigherThanLimit", prefix("THE SPEED WAS HIGHER THAN THE SPEED"), CategorySpeed, SeverityMedium, RemediationCustom},

	// Retired violation types. Kept for documentation, never evaluated.
	{"DIAGNOSTIC EVENT", "diagnosticEvent", exact("DIAGNOSTIC EVENT"), CategoryDiagnostic, SeverityLow, RemediationObsolete},
	{"EVENT HAS MANUAL LOCATION", "eventHasManualLocation", exact("EVENT HAS MANUAL LOCATION"), CategoryLocationMovement, SeverityLow, RemediationObsolete},
	{"UNIDENTIFIED DRIVER EVENT", "unidentifiedDriverEvent", exact("UNIDENTIFIED DRIVER EVENT"), CategoryAuthentication, SeverityLow, RemediationObsolete},
}

// Classify maps a raw violation message to its Classification.
// Returns nil for unrecognized messages; callers log and drop those.
// The function is total and side-effect free: the same input always
// produces the same result.
func Classify(message string) *Classification {
	normalized := strings.ToUpper(strings.TrimSpace(message))
	if normalized == "" {
		return nil
	}

	for _, f := range filters {
		if f.remediation == RemediationObsolete {
			continue
		}
		if f.match(normalized) {
			return &Classification{
				Key:         f.key,
				Name:        f.name,
				Category:    f.category,
				Severity:    f.severity,
				Remediation: f.remediation,
			}
		}
	}

	return nil
}

// KnownKeys returns the classification keys that are still matched,
// in table order. Obsolete tombstones are excluded.
func KnownKeys() []string {
	keys := make([]string, 0, len(filters))
	for _, f := range filters {
		if f.remediation == RemediationObsolete {
			continue
		}
		keys = append(keys, f.key)
	}
	return keys
}
