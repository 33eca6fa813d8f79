package model

import (
	"encoding/json"
	"time"
)

// ScanEventType enumerates the wire-level event types the browser worker
// may emit (§6).
type ScanEventType string

const (
	ScanEventWebRequest ScanEventType = "web-request"
	ScanEventJSCall     ScanEventType = "js-call"
	ScanEventCookie     ScanEventType = "cookie"
	ScanEventConsole    ScanEventType = "console"
	ScanEventScreenshot ScanEventType = "screenshot"
	ScanEventComplete   ScanEventType = "complete"
	ScanEventError      ScanEventType = "error"
	ScanEventRuleAlert  ScanEventType = "rule-alert"
)

// Valid reports whether t is a recognised scan event type.
func (t ScanEventType) Valid() bool {
	switch t {
	case ScanEventWebRequest, ScanEventJSCall, ScanEventCookie, ScanEventConsole,
		ScanEventScreenshot, ScanEventComplete, ScanEventError, ScanEventRuleAlert:
		return true
	default:
		return false
	}
}

// ScanEvent is the wire contract emitted by the browser worker (§6).
type ScanEvent struct {
	ScanID     string          `json:"scan_id"`
	Test       bool            `json:"test"`
	Type       ScanEventType   `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ProducedAt time.Time       `json:"produced_at"`
}

// ScanLogLevel is the severity recorded against a ScanLog entry.
type ScanLogLevel string

const (
	LevelInfo  ScanLogLevel = "info"
	LevelWarn  ScanLogLevel = "warn"
	LevelError ScanLogLevel = "error"
)

// ScanLogEntry enumerates the kinds of append-only scan log rows (§3).
type ScanLogEntry string

const (
	EntryLogMessage ScanLogEntry = "log-message"
	EntryScreenshot ScanLogEntry = "screenshot"
	EntryComplete   ScanLogEntry = "complete"
	EntryError      ScanLogEntry = "error"
	EntryRuleAlert  ScanLogEntry = "rule-alert"
)

// ScanLog is an append-only mirror of an observed scan event (§3, §4.6).
type ScanLog struct {
	ID        string          `db:"id"`
	ScanID    string          `db:"scan_id"`
	Entry     ScanLogEntry    `db:"entry"`
	Level     ScanLogLevel    `db:"level"`
	Event     json.RawMessage `db:"event"`
	CreatedAt time.Time       `db:"created_at"`
}

// ScanState is the monotonic rank used to resolve repeat scan-state
// notifications idempotently (§9 Open Question, SPEC_FULL GLOSSARY).
type ScanState string

const (
	ScanStatePending   ScanState = "pending"
	ScanStateRunning   ScanState = "running"
	ScanStateCompleted ScanState = "completed"
	ScanStateFailed    ScanState = "failed"
)

// rank returns the monotonic ordering used to decide whether a transition
// may overwrite the previously recorded scan state.
func (s ScanState) rank() int {
	switch s {
	case ScanStatePending:
		return 0
	case ScanStateRunning:
		return 1
	case ScanStateCompleted, ScanStateFailed:
		return 2
	default:
		return -1
	}
}

// AdvancesFrom reports whether transitioning from `current` to `s` should be
// applied: a state of equal or higher rank replaces a non-terminal one, and
// once a terminal state is recorded no transition overwrites it.
func (s ScanState) AdvancesFrom(current ScanState) bool {
	if current == "" {
		return true
	}
	if current.rank() == 2 {
		return false
	}
	return s.rank() >= current.rank()
}
