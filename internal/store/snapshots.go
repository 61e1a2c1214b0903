package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GeneratedBy records why a snapshot was synthesized.
type GeneratedBy string

const (
	GeneratedScheduled      GeneratedBy = "scheduled"
	GeneratedOnDemand       GeneratedBy = "on_demand"
	GeneratedEventThreshold GeneratedBy = "event_threshold"
)

// KeyFacts is the structured core of a snapshot. Amount is a free-form string
// because the synthesizer reports it as spoken ("450k USD", "seven figures").
type KeyFacts struct {
	CloseDate            string   `json:"close_date,omitempty"`
	Amount               string   `json:"amount,omitempty"`
	Stage                string   `json:"stage,omitempty"`
	Champion             string   `json:"champion,omitempty"`
	Blockers             []string `json:"blockers,omitempty"`
	Competitors          []string `json:"competitors,omitempty"`
	OpenCommitmentsCount int      `json:"open_commitments_count"`
}

// Stakeholder is one person in the deal's stakeholder map.
type Stakeholder struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Influence   string `json:"influence,omitempty"`
	Disposition string `json:"disposition,omitempty"`
}

// RiskFactor is a single contributor to the deal's risk assessment.
type RiskFactor struct {
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	EventID     string `json:"event_id,omitempty"`
}

// RiskAssessment is the snapshot's overall risk picture.
type RiskAssessment struct {
	OverallScore float64      `json:"overall_score"`
	Factors      []RiskFactor `json:"factors,omitempty"`
}

// SentimentPoint is one point on the deal's sentiment trajectory.
type SentimentPoint struct {
	Date  string  `json:"date"`
	Score float64 `json:"score"`
	Note  string  `json:"note,omitempty"`
}

// Snapshot is a point-in-time synthesized rollup of a deal. Append-only:
// never mutated, never deleted; the latest by created_at serves reads.
type Snapshot struct {
	ID     string
	OrgID  string
	DealID string

	Narrative           string
	KeyFacts            KeyFacts
	StakeholderMap      []Stakeholder
	RiskAssessment      RiskAssessment
	SentimentTrajectory []SentimentPoint
	OpenCommitments     []Commitment

	EventsIncludedThrough int64 // watermark: events folded in up to this source_timestamp
	EventCount            int
	GeneratedBy           GeneratedBy
	ModelUsed             string
	CreatedAt             int64
}

// InsertSnapshot stores a new snapshot row. The caller supplies the id;
// created_at is set here if missing.
func (db *DB) InsertSnapshot(s *Snapshot) error {
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().UnixMilli()
	}

	keyFacts, err := json.Marshal(s.KeyFacts)
	if err != nil {
		return fmt.Errorf("marshal key facts: %w", err)
	}
	stakeholders, err := json.Marshal(s.StakeholderMap)
	if err != nil {
		return fmt.Errorf("marshal stakeholder map: %w", err)
	}
	risk, err := json.Marshal(s.RiskAssessment)
	if err != nil {
		return fmt.Errorf("marshal risk assessment: %w", err)
	}
	sentiment, err := json.Marshal(s.SentimentTrajectory)
	if err != nil {
		return fmt.Errorf("marshal sentiment trajectory: %w", err)
	}
	commitments, err := json.Marshal(s.OpenCommitments)
	if err != nil {
		return fmt.Errorf("marshal open commitments: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO deal_snapshots (id, org_id, deal_id, narrative, key_facts,
			stakeholder_map, risk_assessment, sentiment_trajectory, open_commitments,
			events_included_through, event_count, generated_by, model_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, s.ID, s.OrgID, s.DealID, s.Narrative, string(keyFacts),
		string(stakeholders), string(risk), string(sentiment), string(commitments),
		s.EventsIncludedThrough, s.EventCount, string(s.GeneratedBy), s.ModelUsed, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for a deal, or nil if the
// deal has never been snapshotted.
func (db *DB) LatestSnapshot(dealID, orgID string) (*Snapshot, error) {
	// rowid breaks created_at ties from fast successive inserts.
	row := db.QueryRow(`
		SELECT id, org_id, deal_id, narrative, key_facts, stakeholder_map,
			risk_assessment, sentiment_trajectory, open_commitments,
			events_included_through, event_count, generated_by, model_used, created_at
		FROM deal_snapshots
		WHERE deal_id = ? AND org_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, dealID, orgID)

	s, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return s, nil
}

// ListSnapshots returns snapshots for a deal, oldest first.
func (db *DB) ListSnapshots(dealID, orgID string, limit int) ([]Snapshot, error) {
	query := `
		SELECT id, org_id, deal_id, narrative, key_facts, stakeholder_map,
			risk_assessment, sentiment_trajectory, open_commitments,
			events_included_through, event_count, generated_by, model_used, created_at
		FROM deal_snapshots
		WHERE deal_id = ? AND org_id = ?
		ORDER BY created_at ASC, rowid ASC`
	args := []any{dealID, orgID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, rows.Err()
}

func scanSnapshot(s scanner) (*Snapshot, error) {
	var snap Snapshot
	var narrative, keyFacts, stakeholders, risk, sentiment, commitments, model sql.NullString
	var generatedBy string

	err := s.Scan(&snap.ID, &snap.OrgID, &snap.DealID, &narrative, &keyFacts,
		&stakeholders, &risk, &sentiment, &commitments,
		&snap.EventsIncludedThrough, &snap.EventCount, &generatedBy, &model, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}

	snap.Narrative = narrative.String
	snap.GeneratedBy = GeneratedBy(generatedBy)
	snap.ModelUsed = model.String

	if err := unmarshalColumn(keyFacts, &snap.KeyFacts); err != nil {
		return nil, fmt.Errorf("unmarshal key facts: %w", err)
	}
	if err := unmarshalColumn(stakeholders, &snap.StakeholderMap); err != nil {
		return nil, fmt.Errorf("unmarshal stakeholder map: %w", err)
	}
	if err := unmarshalColumn(risk, &snap.RiskAssessment); err != nil {
		return nil, fmt.Errorf("unmarshal risk assessment: %w", err)
	}
	if err := unmarshalColumn(sentiment, &snap.SentimentTrajectory); err != nil {
		return nil, fmt.Errorf("unmarshal sentiment trajectory: %w", err)
	}
	if err := unmarshalColumn(commitments, &snap.OpenCommitments); err != nil {
		return nil, fmt.Errorf("unmarshal open commitments: %w", err)
	}
	return &snap, nil
}

func unmarshalColumn(col sql.NullString, dest any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}
