package audit

import (
	"encoding/json"
	"time"
)

// TimelineFilters menampung filter untuk audit timeline.
type TimelineFilters struct {
	Entity   string
	EntityID string
	Action   string
	From     time.Time
	To       time.Time
	Limit    int
}

// TimelineRow mewakili satu baris audit_logs.
type TimelineRow struct {
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}
