package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "deal_events: typed facts extracted about a deal",
		SQL: `
CREATE TABLE deal_events (
    id               TEXT PRIMARY KEY,
    org_id           TEXT NOT NULL,
    deal_id          TEXT NOT NULL,
    event_type       TEXT NOT NULL,
    event_category   TEXT NOT NULL,

    -- Provenance
    source_type      TEXT NOT NULL CHECK (source_type IN ('transcript', 'email', 'crm_update', 'agent_inference', 'manual')),
    source_id        TEXT,
    source_timestamp INTEGER NOT NULL,

    -- Content
    summary          TEXT NOT NULL,
    detail           TEXT,
    verbatim_quote   TEXT,
    speaker          TEXT,

    -- Quality
    confidence       REAL NOT NULL DEFAULT 0,
    salience         TEXT NOT NULL DEFAULT 'medium' CHECK (salience IN ('high', 'medium', 'low')),

    -- Unresolved contact references
    contact_ids      TEXT,

    -- Lifecycle
    is_active        INTEGER NOT NULL DEFAULT 1,
    superseded_by    TEXT REFERENCES deal_events(id),
    created_at       INTEGER NOT NULL
);

CREATE INDEX idx_events_deal      ON deal_events(deal_id, org_id);
CREATE INDEX idx_events_timestamp ON deal_events(source_timestamp DESC);
CREATE INDEX idx_events_type      ON deal_events(event_type);
CREATE INDEX idx_events_category  ON deal_events(event_category);
CREATE INDEX idx_events_active    ON deal_events(is_active);
`,
	},
	{
		Version:     2,
		Description: "deal_snapshots: append-only synthesized rollups",
		SQL: `
CREATE TABLE deal_snapshots (
    id                      TEXT PRIMARY KEY,
    org_id                  TEXT NOT NULL,
    deal_id                 TEXT NOT NULL,

    narrative               TEXT,
    key_facts               TEXT,
    stakeholder_map         TEXT,
    risk_assessment         TEXT,
    sentiment_trajectory    TEXT,
    open_commitments        TEXT,

    events_included_through INTEGER NOT NULL,
    event_count             INTEGER NOT NULL DEFAULT 0,
    generated_by            TEXT NOT NULL CHECK (generated_by IN ('scheduled', 'on_demand', 'event_threshold')),
    model_used              TEXT,
    created_at              INTEGER NOT NULL
);

CREATE INDEX idx_snapshots_deal ON deal_snapshots(deal_id, org_id, created_at DESC);
`,
	},
	{
		Version:     3,
		Description: "contact_memories: per-contact engagement aggregates",
		SQL: `
CREATE TABLE contact_memories (
    id                    TEXT PRIMARY KEY,
    org_id                TEXT NOT NULL,
    contact_id            TEXT NOT NULL,

    relationship_strength REAL NOT NULL DEFAULT 0.5,
    total_meetings        INTEGER NOT NULL DEFAULT 0,
    total_emails_sent     INTEGER NOT NULL DEFAULT 0,
    total_emails_received INTEGER NOT NULL DEFAULT 0,
    last_interaction_at   INTEGER,

    communication_style   TEXT,
    decision_style        TEXT,
    interests             TEXT,

    created_at            INTEGER NOT NULL,
    updated_at            INTEGER NOT NULL,

    UNIQUE (org_id, contact_id)
);

CREATE INDEX idx_contacts_org         ON contact_memories(org_id);
CREATE INDEX idx_contacts_interaction ON contact_memories(last_interaction_at);
`,
	},
	{
		Version:     4,
		Description: "rep_memories: per-salesperson behavioral stats",
		SQL: `
CREATE TABLE rep_memories (
    id                     TEXT PRIMARY KEY,
    org_id                 TEXT NOT NULL,
    user_id                TEXT NOT NULL,

    approval_stats         TEXT,

    avg_talk_ratio         REAL,
    avg_discovery_depth    REAL,
    avg_objection_handling REAL,
    avg_followup_speed     REAL,

    created_at             INTEGER NOT NULL,
    updated_at             INTEGER NOT NULL,

    UNIQUE (org_id, user_id)
);

CREATE INDEX idx_reps_org ON rep_memories(org_id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
