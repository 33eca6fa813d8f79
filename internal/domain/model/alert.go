package model

import (
	"encoding/json"
	"time"
)

// Alert is a rule match surfaced to operators and sinks (§3).
type Alert struct {
	ID         string          `db:"id"`
	Rule       string          `db:"rule"`
	ScanID     string          `db:"scan_id"`
	SiteID     *string         `db:"site_id"`
	Message    string          `db:"message"`
	Context    json.RawMessage `db:"context"`
	ResolvedAt *time.Time      `db:"resolved_at"`
	CreatedAt  time.Time       `db:"created_at"`
}

// AlertV1 is the wire shape pushed to the Kafka alert sink (§6).
type AlertV1 struct {
	Rule        string `json:"rule"`
	Level       string `json:"level"`
	Description string `json:"description"`
	ScanURL     string `json:"scanUrl"`
	AlertID     string `json:"alertId"`
	CreatedAt   string `json:"createdAt"`
}
