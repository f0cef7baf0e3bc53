package domain

import "time"

// GpsPoint is one telemetry sample. Immutable once constructed — layers
// copy it, never mutate it.
type GpsPoint struct {
	ReceivedAt time.Time `json:"received_at"`

	VehicleID  int64  `json:"vehicle_id"`
	ExternalID string `json:"vehicle_external_id"`
	OrgID      int64  `json:"org_id"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	AccuracyM *float64 `json:"accuracy,omitempty"`
	SpeedMS   *float64 `json:"speed,omitempty"`
	HeadingD  *float64 `json:"heading,omitempty"`

	// Milliseconds since the Unix epoch.
	RecordedAt int64 `json:"recorded_at"`
}

type EventType string

const (
	EventHarshAcceleration EventType = "harsh_acceleration"
)

type EventSeverity string

const (
	SeverityInfo     EventSeverity = "INFO"
	SeverityWarning  EventSeverity = "WARNING"
	SeverityCritical EventSeverity = "CRITICAL"
)

// ComplianceEvent is a durable, append-only log entry. Never updated or
// deleted by this subsystem.
type ComplianceEvent struct {
	VehicleID    int64
	OrgID        int64
	Type         EventType
	Severity     EventSeverity
	TriggerValue float64
	DetectedAt   time.Time
}

// MotionState carries the previous speed sample for pairwise acceleration.
// Only the immediately preceding value is ever kept.
type MotionState struct {
	SpeedMS    float64 `json:"speed_ms"`
	RecordedAt int64   `json:"recorded_at"`
}
