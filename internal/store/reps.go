package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ApprovalCounter tallies decision outcomes for one agent action type.
type ApprovalCounter struct {
	Total        int `json:"total"`
	Approved     int `json:"approved"`
	Edited       int `json:"edited"`
	Rejected     int `json:"rejected"`
	AutoApproved int `json:"auto_approved"`
}

// Rate returns the accepted fraction of decisions, counting edits as
// half-acceptances. Zero history yields 0.
func (c ApprovalCounter) Rate() float64 {
	if c.Total == 0 {
		return 0
	}
	return (float64(c.Approved+c.AutoApproved) + 0.5*float64(c.Edited)) / float64(c.Total)
}

// RepMemory is the behavioral profile for one salesperson: how often they
// approve agent-drafted actions, and rolling coaching metric averages.
// Metric pointers are nil until the first scored interaction.
type RepMemory struct {
	ID     string
	OrgID  string
	UserID string

	ApprovalStats map[string]ApprovalCounter

	AvgTalkRatio         *float64
	AvgDiscoveryDepth    *float64
	AvgObjectionHandling *float64
	AvgFollowupSpeed     *float64

	CreatedAt int64
	UpdatedAt int64
}

const repColumns = `id, org_id, user_id, approval_stats,
	avg_talk_ratio, avg_discovery_depth, avg_objection_handling, avg_followup_speed,
	created_at, updated_at`

// GetRepMemory returns the memory for one rep, or nil if none exists.
func (db *DB) GetRepMemory(orgID, userID string) (*RepMemory, error) {
	row := db.QueryRow(`
		SELECT `+repColumns+`
		FROM rep_memories WHERE org_id = ? AND user_id = ?
	`, orgID, userID)

	m, err := scanRepMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rep memory: %w", err)
	}
	return m, nil
}

// GetOrCreateRepMemory returns the rep's memory, creating an empty row on
// first sight.
func (db *DB) GetOrCreateRepMemory(orgID, userID string) (*RepMemory, error) {
	m, err := db.GetRepMemory(orgID, userID)
	if err != nil || m != nil {
		return m, err
	}

	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO rep_memories (id, org_id, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (org_id, user_id) DO NOTHING
	`, uuid.NewString(), orgID, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create rep memory: %w", err)
	}
	return db.GetRepMemory(orgID, userID)
}

// SaveRepMemory writes back approval stats and metric averages.
func (db *DB) SaveRepMemory(m *RepMemory) error {
	var stats any
	if m.ApprovalStats != nil {
		data, err := json.Marshal(m.ApprovalStats)
		if err != nil {
			return fmt.Errorf("marshal approval stats: %w", err)
		}
		stats = string(data)
	}
	m.UpdatedAt = time.Now().UnixMilli()

	_, err := db.Exec(`
		UPDATE rep_memories
		SET approval_stats = ?, avg_talk_ratio = ?, avg_discovery_depth = ?,
			avg_objection_handling = ?, avg_followup_speed = ?, updated_at = ?
		WHERE id = ?
	`, stats, m.AvgTalkRatio, m.AvgDiscoveryDepth,
		m.AvgObjectionHandling, m.AvgFollowupSpeed, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("save rep memory: %w", err)
	}
	return nil
}

func scanRepMemory(s scanner) (*RepMemory, error) {
	var m RepMemory
	var stats sql.NullString
	var talk, discovery, objection, followup sql.NullFloat64

	err := s.Scan(&m.ID, &m.OrgID, &m.UserID, &stats,
		&talk, &discovery, &objection, &followup,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalColumn(stats, &m.ApprovalStats); err != nil {
		return nil, fmt.Errorf("unmarshal approval stats: %w", err)
	}
	if talk.Valid {
		m.AvgTalkRatio = &talk.Float64
	}
	if discovery.Valid {
		m.AvgDiscoveryDepth = &discovery.Float64
	}
	if objection.Valid {
		m.AvgObjectionHandling = &objection.Float64
	}
	if followup.Valid {
		m.AvgFollowupSpeed = &followup.Float64
	}
	return &m, nil
}
