package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source types for event provenance.
const (
	SourceTranscript     = "transcript"
	SourceEmail          = "email"
	SourceCRMUpdate      = "crm_update"
	SourceAgentInference = "agent_inference"
	SourceManual         = "manual"
)

// Salience levels.
const (
	SalienceHigh   = "high"
	SalienceMedium = "medium"
	SalienceLow    = "low"
)

// Commitment statuses, stored in a commitment_made event's detail.status.
const (
	CommitmentPending   = "pending"
	CommitmentFulfilled = "fulfilled"
	CommitmentBroken    = "broken"
)

// Event is a typed fact about a deal. Immutable after insert except for
// supersession (is_active/superseded_by) and the commitment status mutation
// in detail, the one sanctioned in-place content change.
type Event struct {
	ID            string
	OrgID         string
	DealID        string
	EventType     string
	EventCategory string

	SourceType      string
	SourceID        string
	SourceTimestamp int64 // unix millis

	Summary       string
	Detail        map[string]any
	VerbatimQuote string
	Speaker       string

	Confidence float64
	Salience   string

	ContactIDs []string

	IsActive     bool
	SupersededBy *string
	CreatedAt    int64
}

// Commitment is the view derived from a commitment_made event. It is not a
// table of its own: status truth lives in the originating event's detail.
type Commitment struct {
	EventID   string `json:"event_id"`
	Owner     string `json:"owner"`
	Action    string `json:"action"`
	Deadline  string `json:"deadline,omitempty"` // ISO date string, empty if open-ended
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// EventFilter selects events. Zero values mean "no constraint".
type EventFilter struct {
	OrgID         string
	DealID        string
	Types         []string
	Categories    []string
	SourceType    string
	ContactID     string // matches events whose contact_ids array contains this value
	Since         int64  // source_timestamp > Since (unix millis)
	Until         int64  // source_timestamp <= Until
	MinConfidence float64
	Salience      string
	ActiveOnly    bool
	OrderAsc      bool // default newest-first by source_timestamp
	Limit         int
}

const eventColumns = `id, org_id, deal_id, event_type, event_category,
	source_type, source_id, source_timestamp,
	summary, detail, verbatim_quote, speaker,
	confidence, salience, contact_ids, is_active, superseded_by, created_at`

// InsertEvent stores a single event. The caller supplies the id; created_at
// is set here if missing.
func (db *DB) InsertEvent(e *Event) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}

	detailJSON, err := marshalJSONColumn(e.Detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}
	contactsJSON, err := marshalJSONColumn(e.ContactIDs)
	if err != nil {
		return fmt.Errorf("marshal contact ids: %w", err)
	}

	active := 0
	if e.IsActive {
		active = 1
	}

	_, err = db.Exec(`
		INSERT INTO deal_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?)
	`, e.ID, e.OrgID, e.DealID, e.EventType, e.EventCategory,
		e.SourceType, e.SourceID, e.SourceTimestamp,
		e.Summary, detailJSON, e.VerbatimQuote, e.Speaker,
		e.Confidence, e.Salience, contactsJSON, active, e.SupersededBy, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertEventBatch stores a chunk of events in one transaction. All-or-nothing
// per chunk: the caller chunks its candidate list and keeps going past a
// failed chunk.
func (db *DB) InsertEventBatch(events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO deal_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range events {
		if e.CreatedAt == 0 {
			e.CreatedAt = now
		}
		detailJSON, err := marshalJSONColumn(e.Detail)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal detail for %s: %w", e.ID, err)
		}
		contactsJSON, err := marshalJSONColumn(e.ContactIDs)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal contact ids for %s: %w", e.ID, err)
		}
		active := 0
		if e.IsActive {
			active = 1
		}

		if _, err := stmt.Exec(e.ID, e.OrgID, e.DealID, e.EventType, e.EventCategory,
			e.SourceType, e.SourceID, e.SourceTimestamp,
			e.Summary, detailJSON, e.VerbatimQuote, e.Speaker,
			e.Confidence, e.Salience, contactsJSON, active, e.SupersededBy, e.CreatedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// GetEvent returns an event by id, or nil if not found.
func (db *DB) GetEvent(id string) (*Event, error) {
	row := db.QueryRow(`SELECT `+eventColumns+` FROM deal_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// ListEvents returns events matching the filter, ordered by source_timestamp
// (descending unless OrderAsc).
func (db *DB) ListEvents(f EventFilter) ([]Event, error) {
	var where []string
	var args []any

	if f.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, f.OrgID)
	}
	if f.DealID != "" {
		where = append(where, "deal_id = ?")
		args = append(args, f.DealID)
	}
	if len(f.Types) > 0 {
		where = append(where, "event_type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if len(f.Categories) > 0 {
		where = append(where, "event_category IN ("+placeholders(len(f.Categories))+")")
		for _, c := range f.Categories {
			args = append(args, c)
		}
	}
	if f.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, f.SourceType)
	}
	if f.ContactID != "" {
		// contact_ids is a JSON array of strings; element match via the
		// quoted form is exact as long as ids contain no quote characters.
		where = append(where, "contact_ids LIKE ?")
		args = append(args, `%"`+f.ContactID+`"%`)
	}
	if f.Since > 0 {
		where = append(where, "source_timestamp > ?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		where = append(where, "source_timestamp <= ?")
		args = append(args, f.Until)
	}
	if f.MinConfidence > 0 {
		where = append(where, "confidence >= ?")
		args = append(args, f.MinConfidence)
	}
	if f.Salience != "" {
		where = append(where, "salience = ?")
		args = append(args, f.Salience)
	}
	if f.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := `SELECT ` + eventColumns + ` FROM deal_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.OrderAsc {
		query += " ORDER BY source_timestamp ASC"
	} else {
		query += " ORDER BY source_timestamp DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// CountActiveEventsSince counts active events for a deal with
// source_timestamp strictly after the watermark.
func (db *DB) CountActiveEventsSince(dealID, orgID string, since int64) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM deal_events
		WHERE deal_id = ? AND org_id = ? AND is_active = 1 AND source_timestamp > ?
	`, dealID, orgID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events since: %w", err)
	}
	return count, nil
}

// MarkSuperseded deactivates oldID and links it to newID. The superseding
// event must exist; the old event must still be active.
func (db *DB) MarkSuperseded(oldID, newID string) error {
	newer, err := db.GetEvent(newID)
	if err != nil {
		return err
	}
	if newer == nil {
		return fmt.Errorf("superseding event %s not found", newID)
	}

	result, err := db.Exec(`
		UPDATE deal_events SET is_active = 0, superseded_by = ?
		WHERE id = ? AND is_active = 1
	`, newID, oldID)
	if err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("event %s not active or not found", oldID)
	}
	return nil
}

// UpdateEventDetail replaces an event's detail payload. Used by the
// commitment lifecycle to mutate detail.status in place.
func (db *DB) UpdateEventDetail(id string, detail map[string]any) error {
	detailJSON, err := marshalJSONColumn(detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}
	result, err := db.Exec(`UPDATE deal_events SET detail = ? WHERE id = ?`, detailJSON, id)
	if err != nil {
		return fmt.Errorf("update event detail: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("event %s not found", id)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*Event, error) {
	var e Event
	var sourceID, detail, quote, speaker, contacts, supersededBy sql.NullString
	var active int

	err := s.Scan(&e.ID, &e.OrgID, &e.DealID, &e.EventType, &e.EventCategory,
		&e.SourceType, &sourceID, &e.SourceTimestamp,
		&e.Summary, &detail, &quote, &speaker,
		&e.Confidence, &e.Salience, &contacts, &active, &supersededBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.SourceID = sourceID.String
	e.VerbatimQuote = quote.String
	e.Speaker = speaker.String
	e.IsActive = active != 0
	if supersededBy.Valid {
		e.SupersededBy = &supersededBy.String
	}
	if detail.Valid && detail.String != "" {
		if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal detail: %w", err)
		}
	}
	if contacts.Valid && contacts.String != "" {
		if err := json.Unmarshal([]byte(contacts.String), &e.ContactIDs); err != nil {
			return nil, fmt.Errorf("unmarshal contact ids: %w", err)
		}
	}
	return &e, nil
}

// marshalJSONColumn serializes a value for a nullable JSON text column.
// Nil maps/slices become SQL NULL rather than the string "null".
func marshalJSONColumn(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	case []string:
		if t == nil {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
