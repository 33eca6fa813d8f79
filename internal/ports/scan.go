// Package ports also defines the hexagonal boundary for the scan-event
// pipeline's persisted state: sources, sites, scans, scan logs, and alerts
// (§3, §4.6).
package ports

import (
	"context"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// SourceStore persists scripted browser recipes.
type SourceStore interface {
	Create(ctx context.Context, source *model.Source) error
	GetByID(ctx context.Context, id string) (*model.Source, error)
}

// SiteStore persists the URLs a Source's recipe may visit.
type SiteStore interface {
	Create(ctx context.Context, site *model.Site) error
	GetByID(ctx context.Context, id string) (*model.Site, error)
	ListEnabled(ctx context.Context) ([]model.Site, error)
}

// ScanStore persists scan executions and their state transitions.
type ScanStore interface {
	Create(ctx context.Context, scan *model.Scan) error
	GetByID(ctx context.Context, id string) (*model.Scan, error)

	// TransitionState applies next to the scan identified by scanID iff
	// next.AdvancesFrom(current) holds, read-modify-write under row lock so
	// concurrent scan-event-pipeline workers racing on the same scan_id
	// settle on the highest-rank state (§5 "last-writer-wins by rank").
	// applied reports whether the row was actually updated.
	TransitionState(ctx context.Context, scanID string, next model.ScanState, finishedAt *time.Time) (applied bool, err error)
}

// ScanLogStore persists the append-only mirror of observed scan events.
type ScanLogStore interface {
	// InsertBatch inserts all of logs in a single batched statement (§4.6:
	// "a single batched insert per handler invocation when multiple events
	// are bundled"). Order within scan_id is preserved by insertion order.
	InsertBatch(ctx context.Context, logs []model.ScanLog) (int, error)

	ListByScanID(ctx context.Context, scanID string, limit int) ([]model.ScanLog, error)
}

// AlertStore persists rule matches surfaced to operators and sinks.
type AlertStore interface {
	Create(ctx context.Context, alert *model.Alert) error
	GetByID(ctx context.Context, id string) (*model.Alert, error)
}
