package engine

import (
	"context"
	"math"
	"testing"

	"github.com/pipewise/dealmem/internal/config"
	"github.com/pipewise/dealmem/internal/store"
	"github.com/pipewise/dealmem/internal/taxonomy"
)

func fptr(v float64) *float64 { return &v }

func TestEngagementBoost(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		detail    map[string]any
		delta     float64
		meetings  int
		sent      int
		received  int
	}{
		{"meeting", taxonomy.TypeMeetingSummary, nil, 0.15, 1, 0, 0},
		{"inbound email", taxonomy.TypeEmailExchanged, map[string]any{"direction": "inbound"}, 0.08, 0, 0, 1},
		{"outbound email", taxonomy.TypeEmailExchanged, map[string]any{"direction": "outbound"}, 0.03, 0, 1, 0},
		{"directionless email", taxonomy.TypeEmailExchanged, nil, 0.03, 0, 1, 0},
		{"souring sentiment", taxonomy.TypeSentimentShift, map[string]any{"direction": "negative"}, -0.05, 0, 0, 0},
		{"improving sentiment", taxonomy.TypeSentimentShift, map[string]any{"direction": "positive"}, 0.05, 0, 0, 0},
		{"kept promise", taxonomy.TypeCommitmentFulfilled, nil, 0.06, 0, 0, 0},
		{"broken promise", taxonomy.TypeCommitmentBroken, nil, -0.08, 0, 0, 0},
		{"neutral type", taxonomy.TypeObjectionRaised, nil, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &store.Event{EventType: tt.eventType, Detail: tt.detail}
			delta, meetings, sent, received := engagementBoost(ev)
			if delta != tt.delta || meetings != tt.meetings || sent != tt.sent || received != tt.received {
				t.Errorf("got (%v, %d, %d, %d), want (%v, %d, %d, %d)",
					delta, meetings, sent, received, tt.delta, tt.meetings, tt.sent, tt.received)
			}
		})
	}
}

func TestUpdateContactMemoriesClampAndCounters(t *testing.T) {
	db := testDB(t)
	e := New(db, nil, nil, config.EngineConfig{}, quietLogger())
	ctx := context.Background()

	seedContact(t, db, "beloved", 0.95, 5)
	seedContact(t, db, "strained", 0.15, 5)

	e.UpdateContactMemories(ctx, "org-1", []store.Event{
		{
			EventType: taxonomy.TypeMeetingSummary, ContactIDs: []string{"beloved"},
			SourceTimestamp: daysAgo(1).UnixMilli(),
		},
		{
			EventType: taxonomy.TypeCommitmentBroken, ContactIDs: []string{"strained"},
			SourceTimestamp: daysAgo(1).UnixMilli(),
		},
	})

	beloved, _ := db.GetContactMemory("org-1", "beloved")
	if math.Abs(beloved.RelationshipStrength-1.0) > 1e-9 {
		t.Errorf("strength = %v, want clamped to 1.0", beloved.RelationshipStrength)
	}
	if beloved.TotalMeetings != 1 {
		t.Errorf("meetings = %d, want 1", beloved.TotalMeetings)
	}

	strained, _ := db.GetContactMemory("org-1", "strained")
	if math.Abs(strained.RelationshipStrength-0.1) > 1e-9 {
		t.Errorf("strength = %v, want clamped to 0.1", strained.RelationshipStrength)
	}
}

func TestUpdateContactMemoriesCreatesLazily(t *testing.T) {
	db := testDB(t)
	e := New(db, nil, nil, config.EngineConfig{}, quietLogger())

	ts := daysAgo(1).UnixMilli()
	e.UpdateContactMemories(context.Background(), "org-1", []store.Event{
		// A type outside the boost table still counts as contact activity.
		{EventType: taxonomy.TypeObjectionRaised, ContactIDs: []string{"first-timer"}, SourceTimestamp: ts},
	})

	m, err := db.GetContactMemory("org-1", "first-timer")
	if err != nil || m == nil {
		t.Fatalf("contact not created: %v", err)
	}
	if math.Abs(m.RelationshipStrength-0.5) > 1e-9 {
		t.Errorf("strength = %v, want neutral 0.5", m.RelationshipStrength)
	}
	if m.LastInteractionAt == nil || *m.LastInteractionAt != ts {
		t.Errorf("last_interaction_at = %v, want %d", m.LastInteractionAt, ts)
	}
}

func TestUpdateContactMemoriesNeverRewindsRecency(t *testing.T) {
	db := testDB(t)
	e := New(db, nil, nil, config.EngineConfig{}, quietLogger())

	recent := daysAgo(1).UnixMilli()
	stale := daysAgo(30).UnixMilli()

	// A backfilled old transcript lands after a fresh one.
	e.UpdateContactMemories(context.Background(), "org-1", []store.Event{
		{EventType: taxonomy.TypeMeetingSummary, ContactIDs: []string{"dana"}, SourceTimestamp: recent},
		{EventType: taxonomy.TypeMeetingSummary, ContactIDs: []string{"dana"}, SourceTimestamp: stale},
	})

	m, _ := db.GetContactMemory("org-1", "dana")
	if m.LastInteractionAt == nil || *m.LastInteractionAt != recent {
		t.Errorf("last_interaction_at = %v, old events must not rewind it", m.LastInteractionAt)
	}
	if m.TotalMeetings != 2 {
		t.Errorf("meetings = %d, both events still count", m.TotalMeetings)
	}
}

func TestRecordApproval(t *testing.T) {
	db := testDB(t)
	e := New(db, nil, nil, config.EngineConfig{}, quietLogger())
	ctx := context.Background()

	decisions := []Decision{DecisionApproved, DecisionApproved, DecisionEdited, DecisionRejected}
	for _, d := range decisions {
		if err := e.RecordApproval(ctx, "org-1", "rep-7", "send_followup_email", d); err != nil {
			t.Fatalf("RecordApproval(%s): %v", d, err)
		}
	}
	if err := e.RecordApproval(ctx, "org-1", "rep-7", "draft_proposal", DecisionAutoApproved); err != nil {
		t.Fatalf("RecordApproval(draft_proposal): %v", err)
	}

	m, err := db.GetRepMemory("org-1", "rep-7")
	if err != nil || m == nil {
		t.Fatalf("rep memory missing: %v", err)
	}

	c := m.ApprovalStats["send_followup_email"]
	if c.Total != 4 || c.Approved != 2 || c.Edited != 1 || c.Rejected != 1 {
		t.Errorf("followup counter = %+v", c)
	}
	// Edits count as half-acceptances: (2 + 0.5) / 4.
	if math.Abs(c.Rate()-0.625) > 1e-9 {
		t.Errorf("rate = %v, want 0.625", c.Rate())
	}

	other := m.ApprovalStats["draft_proposal"]
	if other.Total != 1 || other.AutoApproved != 1 {
		t.Errorf("action types must not share counters: %+v", other)
	}
}

func TestRecordApprovalRejectsBadInput(t *testing.T) {
	db := testDB(t)
	e := New(db, nil, nil, config.EngineConfig{}, quietLogger())
	ctx := context.Background()

	if err := e.RecordApproval(ctx, "org-1", "rep-7", "send_followup_email", Decision("shrugged")); err == nil {
		t.Error("unknown decision should error")
	}
	if err := e.RecordApproval(ctx, "org-1", "rep-7", "", DecisionApproved); err == nil {
		t.Error("empty action type should error")
	}

	// Neither bad call may have minted counters.
	m, _ := db.GetRepMemory("org-1", "rep-7")
	if m != nil && len(m.ApprovalStats) != 0 {
		t.Errorf("stats written on refused input: %+v", m.ApprovalStats)
	}
}

func TestUpdateCoachingMetricsEWMA(t *testing.T) {
	db := testDB(t)
	e := New(db, nil, nil, config.EngineConfig{}, quietLogger())
	ctx := context.Background()

	if err := e.UpdateCoachingMetrics(ctx, "org-1", "rep-7", CoachingSample{TalkRatio: fptr(0.6)}); err != nil {
		t.Fatalf("first sample: %v", err)
	}
	m, _ := db.GetRepMemory("org-1", "rep-7")
	if m.AvgTalkRatio == nil || math.Abs(*m.AvgTalkRatio-0.6) > 1e-9 {
		t.Errorf("first sample should be taken as-is, got %v", m.AvgTalkRatio)
	}
	if m.AvgDiscoveryDepth != nil {
		t.Errorf("unmeasured metric should stay nil, got %v", *m.AvgDiscoveryDepth)
	}

	if err := e.UpdateCoachingMetrics(ctx, "org-1", "rep-7", CoachingSample{TalkRatio: fptr(0.8)}); err != nil {
		t.Fatalf("second sample: %v", err)
	}
	m, _ = db.GetRepMemory("org-1", "rep-7")
	// 0.3*0.8 + 0.7*0.6
	if m.AvgTalkRatio == nil || math.Abs(*m.AvgTalkRatio-0.66) > 1e-9 {
		t.Errorf("smoothed ratio = %v, want 0.66", m.AvgTalkRatio)
	}

	if err := e.UpdateCoachingMetrics(ctx, "org-1", "rep-7", CoachingSample{DiscoveryDepth: fptr(4)}); err != nil {
		t.Fatalf("third sample: %v", err)
	}
	m, _ = db.GetRepMemory("org-1", "rep-7")
	if m.AvgDiscoveryDepth == nil || math.Abs(*m.AvgDiscoveryDepth-4) > 1e-9 {
		t.Errorf("discovery depth = %v, want 4", m.AvgDiscoveryDepth)
	}
	if m.AvgTalkRatio == nil || math.Abs(*m.AvgTalkRatio-0.66) > 1e-9 {
		t.Errorf("talk ratio must survive a sample that omits it, got %v", m.AvgTalkRatio)
	}
}
