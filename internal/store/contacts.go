package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContactMemory is the accumulated engagement profile for one external
// contact. Strength drifts up on interaction and decays with silence.
type ContactMemory struct {
	ID        string
	OrgID     string
	ContactID string

	RelationshipStrength float64
	TotalMeetings        int
	TotalEmailsSent      int
	TotalEmailsReceived  int
	LastInteractionAt    *int64

	CommunicationStyle string
	DecisionStyle      string
	Interests          []string

	CreatedAt int64
	UpdatedAt int64
}

const contactColumns = `id, org_id, contact_id, relationship_strength,
	total_meetings, total_emails_sent, total_emails_received, last_interaction_at,
	communication_style, decision_style, interests, created_at, updated_at`

// GetContactMemory returns the memory for one contact, or nil if none exists.
func (db *DB) GetContactMemory(orgID, contactID string) (*ContactMemory, error) {
	row := db.QueryRow(`
		SELECT `+contactColumns+`
		FROM contact_memories WHERE org_id = ? AND contact_id = ?
	`, orgID, contactID)

	m, err := scanContactMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact memory: %w", err)
	}
	return m, nil
}

// GetOrCreateContactMemory returns the contact's memory, creating a fresh
// neutral-strength row on first sight.
func (db *DB) GetOrCreateContactMemory(orgID, contactID string) (*ContactMemory, error) {
	m, err := db.GetContactMemory(orgID, contactID)
	if err != nil || m != nil {
		return m, err
	}

	now := time.Now().UnixMilli()
	m = &ContactMemory{
		ID:                   uuid.NewString(),
		OrgID:                orgID,
		ContactID:            contactID,
		RelationshipStrength: 0.5,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	_, err = db.Exec(`
		INSERT INTO contact_memories (id, org_id, contact_id, relationship_strength, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, contact_id) DO NOTHING
	`, m.ID, m.OrgID, m.ContactID, m.RelationshipStrength, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create contact memory: %w", err)
	}
	// Re-read in case a concurrent writer won the insert.
	return db.GetContactMemory(orgID, contactID)
}

// SaveContactMemory writes back all mutable fields and stamps updated_at.
func (db *DB) SaveContactMemory(m *ContactMemory) error {
	interests, err := marshalJSONColumn(m.Interests)
	if err != nil {
		return fmt.Errorf("marshal interests: %w", err)
	}
	m.UpdatedAt = time.Now().UnixMilli()

	_, err = db.Exec(`
		UPDATE contact_memories
		SET relationship_strength = ?, total_meetings = ?, total_emails_sent = ?,
			total_emails_received = ?, last_interaction_at = ?,
			communication_style = NULLIF(?, ''), decision_style = NULLIF(?, ''),
			interests = ?, updated_at = ?
		WHERE id = ?
	`, m.RelationshipStrength, m.TotalMeetings, m.TotalEmailsSent,
		m.TotalEmailsReceived, m.LastInteractionAt,
		m.CommunicationStyle, m.DecisionStyle,
		interests, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("save contact memory: %w", err)
	}
	return nil
}

// ListContactMemories returns every contact memory in an org, ordered by
// contact id for stable iteration.
func (db *DB) ListContactMemories(orgID string) ([]ContactMemory, error) {
	rows, err := db.Query(`
		SELECT `+contactColumns+`
		FROM contact_memories WHERE org_id = ? ORDER BY contact_id ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list contact memories: %w", err)
	}
	defer rows.Close()

	var memories []ContactMemory
	for rows.Next() {
		m, err := scanContactMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact memory: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

// CountContactMemories returns the number of contacts tracked in an org.
func (db *DB) CountContactMemories(orgID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM contact_memories WHERE org_id = ?`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count contact memories: %w", err)
	}
	return n, nil
}

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// DecayContacts applies time-based relationship decay across an org in a
// single statement. Multipliers step down with silence: 0.98 after a week,
// 0.95 after two, 0.90 after a month, 0.85 after two months. Strength never
// drops below the 0.1 floor, and contacts touched within the last week (or
// never touched at all) are left alone. Returns the number of rows changed.
func (db *DB) DecayContacts(orgID string, now int64) (int64, error) {
	res, err := db.Exec(`
		UPDATE contact_memories
		SET relationship_strength = MAX(0.1, relationship_strength * CASE
				WHEN last_interaction_at <= ? THEN 0.85
				WHEN last_interaction_at <= ? THEN 0.90
				WHEN last_interaction_at <= ? THEN 0.95
				ELSE 0.98
			END),
			updated_at = ?
		WHERE org_id = ?
			AND last_interaction_at IS NOT NULL
			AND last_interaction_at <= ?
	`, now-60*dayMillis, now-30*dayMillis, now-14*dayMillis, now, orgID, now-7*dayMillis)
	if err != nil {
		return 0, fmt.Errorf("decay contacts: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("decay contacts rows affected: %w", err)
	}
	return updated, nil
}

// UpdateContactStrength sets one contact's strength directly. Used by the
// row-at-a-time decay fallback when the bulk statement fails.
func (db *DB) UpdateContactStrength(id string, strength float64, now int64) error {
	_, err := db.Exec(`
		UPDATE contact_memories SET relationship_strength = ?, updated_at = ? WHERE id = ?
	`, strength, now, id)
	if err != nil {
		return fmt.Errorf("update contact strength: %w", err)
	}
	return nil
}

func scanContactMemory(s scanner) (*ContactMemory, error) {
	var m ContactMemory
	var lastInteraction sql.NullInt64
	var commStyle, decisionStyle, interests sql.NullString

	err := s.Scan(&m.ID, &m.OrgID, &m.ContactID, &m.RelationshipStrength,
		&m.TotalMeetings, &m.TotalEmailsSent, &m.TotalEmailsReceived, &lastInteraction,
		&commStyle, &decisionStyle, &interests, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastInteraction.Valid {
		m.LastInteractionAt = &lastInteraction.Int64
	}
	m.CommunicationStyle = commStyle.String
	m.DecisionStyle = decisionStyle.String
	if err := unmarshalColumn(interests, &m.Interests); err != nil {
		return nil, fmt.Errorf("unmarshal interests: %w", err)
	}
	return &m, nil
}
