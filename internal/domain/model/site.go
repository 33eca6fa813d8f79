package model

import "time"

// Source is a scripted browser recipe a scanner worker can execute (§1, §3).
type Source struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Script    string    `db:"script"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
}

// Site is a URL to visit using a Source's recipe (§1, §3).
type Site struct {
	ID        string    `db:"id"`
	SourceID  string    `db:"source_id"`
	URL       string    `db:"url"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
}

// Scan is one execution of a Site's recipe (§3, §4.6).
type Scan struct {
	ID         string     `db:"id"`
	SiteID     string     `db:"site_id"`
	State      ScanState  `db:"state"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	CreatedAt  time.Time  `db:"created_at"`
}
