package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pipewise/dealmem/internal/config"
	"github.com/pipewise/dealmem/internal/llm"
	"github.com/pipewise/dealmem/internal/retrieval"
	"github.com/pipewise/dealmem/internal/store"
	"github.com/pipewise/dealmem/internal/taxonomy"
)

const snapshotResponse = `{
	"narrative": "You are six weeks into the Acme evaluation. Momentum picked up after the August demo: Dana Whitfield is actively championing internally and procurement has been looped in. The security review remains the main blocker.",
	"key_facts": {
		"close_date": "2026-09-30",
		"amount": "84,000 USD",
		"stage": "negotiation",
		"champion": "Dana Whitfield",
		"blockers": ["security review"],
		"competitors": ["Rivalsoft"],
		"open_commitments_count": 1
	},
	"stakeholder_map": [
		{"name": "Dana Whitfield", "role": "VP Engineering", "influence": "high", "disposition": "champion"},
		{"name": "Marcus Oduya", "role": "CFO", "influence": "high", "disposition": "skeptic"}
	],
	"risk_assessment": {
		"overall_score": 0.35,
		"factors": [{"description": "Security review has stalled for two weeks", "severity": "medium", "event_id": "ev-sec"}]
	},
	"sentiment_trajectory": [
		{"date": "2026-07-14", "score": 0.2, "note": "Cautious first call"},
		{"date": "2026-08-20", "score": 0.6, "note": "Warmed up after the demo"}
	],
	"open_commitments": [
		{"event_id": "c-1", "owner": "prospect", "action": "send security questionnaire", "deadline": "2026-08-28", "status": "pending"}
	]
}`

func seedSnapshot(t *testing.T, db *store.DB, s store.Snapshot) store.Snapshot {
	t.Helper()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.OrgID == "" {
		s.OrgID = "org-1"
	}
	if s.DealID == "" {
		s.DealID = "deal-1"
	}
	if s.GeneratedBy == "" {
		s.GeneratedBy = store.GeneratedScheduled
	}
	if err := db.InsertSnapshot(&s); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	return s
}

func TestShouldRegenerateExplicitTriggers(t *testing.T) {
	e := testEngine(t, nil, nil)

	if ok, reason := e.ShouldRegenerateSnapshot(context.Background(), "deal-1", "org-1", TriggerOptions{OnDemand: true}); !ok || reason != store.GeneratedOnDemand {
		t.Errorf("on-demand: got (%v, %s)", ok, reason)
	}
	if ok, reason := e.ShouldRegenerateSnapshot(context.Background(), "deal-1", "org-1", TriggerOptions{StageChanged: true}); !ok || reason != store.GeneratedOnDemand {
		t.Errorf("stage change: got (%v, %s)", ok, reason)
	}
}

func TestShouldRegenerateColdStart(t *testing.T) {
	e := testEngine(t, nil, nil)

	ok, reason := e.ShouldRegenerateSnapshot(context.Background(), "deal-1", "org-1", TriggerOptions{})
	if !ok || reason != store.GeneratedEventThreshold {
		t.Errorf("no snapshot yet: got (%v, %s), want (true, event_threshold)", ok, reason)
	}
}

func TestShouldRegenerateEventThreshold(t *testing.T) {
	db := testDB(t)
	e := New(db, nil, nil, config.EngineConfig{}, quietLogger())

	watermark := daysAgo(3).UnixMilli()
	seedSnapshot(t, db, store.Snapshot{EventsIncludedThrough: watermark})

	// 14 new events: fresh snapshot, under threshold, no regeneration.
	for i := 0; i < 14; i++ {
		seedEvent(t, db, store.Event{
			EventType:       taxonomy.TypeBuyingSignal,
			EventCategory:   taxonomy.CategorySignal,
			Summary:         fmt.Sprintf("signal %d", i),
			SourceTimestamp: watermark + int64(i) + 1,
		})
	}
	if ok, _ := e.ShouldRegenerateSnapshot(context.Background(), "deal-1", "org-1", TriggerOptions{}); ok {
		t.Error("14 new events under a fresh snapshot should not regenerate")
	}

	// The 15th crosses the threshold.
	seedEvent(t, db, store.Event{
		EventType:       taxonomy.TypeBuyingSignal,
		EventCategory:   taxonomy.CategorySignal,
		Summary:         "signal 14",
		SourceTimestamp: watermark + 100,
	})
	ok, reason := e.ShouldRegenerateSnapshot(context.Background(), "deal-1", "org-1", TriggerOptions{})
	if !ok || reason != store.GeneratedEventThreshold {
		t.Errorf("15 new events: got (%v, %s), want (true, event_threshold)", ok, reason)
	}
}

func TestShouldRegenerateStale(t *testing.T) {
	db := testDB(t)
	e := New(db, nil, nil, config.EngineConfig{}, quietLogger())

	old := daysAgo(8).UnixMilli()
	seedSnapshot(t, db, store.Snapshot{EventsIncludedThrough: old, CreatedAt: old})

	// Stale but nothing new: stay put.
	if ok, _ := e.ShouldRegenerateSnapshot(context.Background(), "deal-1", "org-1", TriggerOptions{}); ok {
		t.Error("stale snapshot with no new events should not regenerate")
	}

	seedEvent(t, db, store.Event{
		EventType:       taxonomy.TypeEmailExchanged,
		EventCategory:   taxonomy.CategorySignal,
		Summary:         "Dana asked for the revised order form.",
		SourceTimestamp: daysAgo(2).UnixMilli(),
	})
	ok, reason := e.ShouldRegenerateSnapshot(context.Background(), "deal-1", "org-1", TriggerOptions{})
	if !ok || reason != store.GeneratedScheduled {
		t.Errorf("stale plus one new event: got (%v, %s), want (true, scheduled)", ok, reason)
	}
}

func TestGenerateSnapshotColdStart(t *testing.T) {
	db := testDB(t)
	mock := &llm.MockClient{Response: &llm.Response{Content: snapshotResponse, Model: "mock-model", TokensUsed: 900}}
	retr := &retrieval.Mock{Default: &retrieval.Result{Answer: "The deal began with an inbound demo request in July."}}
	e := New(db, mock, retr, config.EngineConfig{}, quietLogger())

	var maxTS int64
	for i := 0; i < 20; i++ {
		ts := daysAgo(40 - i*2).UnixMilli()
		if ts > maxTS {
			maxTS = ts
		}
		seedEvent(t, db, store.Event{
			EventType:       taxonomy.TypeBuyingSignal,
			EventCategory:   taxonomy.CategorySignal,
			Summary:         fmt.Sprintf("progress marker %02d", i),
			SourceTimestamp: ts,
		})
	}

	snap, err := e.GenerateSnapshot(context.Background(), "deal-1", "org-1", store.GeneratedEventThreshold)
	if err != nil {
		t.Fatalf("GenerateSnapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot")
	}

	if snap.EventCount != 20 {
		t.Errorf("event count = %d, want 20", snap.EventCount)
	}
	if snap.EventsIncludedThrough != maxTS {
		t.Errorf("watermark = %d, want %d", snap.EventsIncludedThrough, maxTS)
	}
	if snap.GeneratedBy != store.GeneratedEventThreshold {
		t.Errorf("generated_by = %s", snap.GeneratedBy)
	}
	if snap.ModelUsed != "mock-model" {
		t.Errorf("model_used = %s", snap.ModelUsed)
	}
	if snap.KeyFacts.Champion != "Dana Whitfield" || len(snap.StakeholderMap) != 2 {
		t.Errorf("payload not carried: %+v", snap.KeyFacts)
	}
	if len(snap.OpenCommitments) != 1 || snap.OpenCommitments[0].EventID != "c-1" {
		t.Errorf("open commitments not carried: %+v", snap.OpenCommitments)
	}

	// Persisted and served as latest.
	latest, err := db.LatestSnapshot("deal-1", "org-1")
	if err != nil || latest == nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.ID != snap.ID {
		t.Errorf("latest = %s, want %s", latest.ID, snap.ID)
	}

	// Prompt carries the event log oldest-first plus the retrieved arc.
	if len(mock.Calls) != 1 {
		t.Fatalf("expected 1 synthesis call, got %d", len(mock.Calls))
	}
	user := mock.Calls[0].User
	first := strings.Index(user, "progress marker 00")
	last := strings.Index(user, "progress marker 19")
	if first < 0 || last < 0 || first > last {
		t.Error("event log should read oldest first")
	}
	if !strings.Contains(user, "inbound demo request") {
		t.Error("retrieved context missing from prompt")
	}
	if len(retr.Calls) != len(snapshotQuestions) {
		t.Errorf("retrieval calls = %d, want %d", len(retr.Calls), len(snapshotQuestions))
	}
}

func TestGenerateSnapshotCapKeepsNewest(t *testing.T) {
	db := testDB(t)
	mock := &llm.MockClient{Response: &llm.Response{Content: snapshotResponse, Model: "mock-model"}}
	e := New(db, mock, nil, config.EngineConfig{SnapshotEventLimit: 5}, quietLogger())

	var maxTS int64
	for i := 0; i < 8; i++ {
		ts := daysAgo(16 - i*2).UnixMilli()
		if ts > maxTS {
			maxTS = ts
		}
		seedEvent(t, db, store.Event{
			EventType:       taxonomy.TypeBuyingSignal,
			EventCategory:   taxonomy.CategorySignal,
			Summary:         fmt.Sprintf("capped marker %d", i),
			SourceTimestamp: ts,
		})
	}

	snap, err := e.GenerateSnapshot(context.Background(), "deal-1", "org-1", store.GeneratedOnDemand)
	if err != nil || snap == nil {
		t.Fatalf("GenerateSnapshot: %v, %v", snap, err)
	}

	if snap.EventCount != 5 {
		t.Errorf("event count = %d, want the capped 5", snap.EventCount)
	}
	// The cap keeps the newest events, so the watermark still reaches the
	// newest timestamp and the oldest markers drop out of the prompt.
	if snap.EventsIncludedThrough != maxTS {
		t.Errorf("watermark = %d, want %d", snap.EventsIncludedThrough, maxTS)
	}
	user := mock.Calls[0].User
	if strings.Contains(user, "capped marker 0") {
		t.Error("oldest event should have been capped out of the prompt")
	}
	if !strings.Contains(user, "capped marker 7") {
		t.Error("newest event missing from the prompt")
	}
}

func TestGenerateSnapshotContinuity(t *testing.T) {
	db := testDB(t)
	prev := seedSnapshot(t, db, store.Snapshot{
		Narrative:             "You opened the Acme conversation in July with a cold outbound.",
		EventsIncludedThrough: daysAgo(10).UnixMilli(),
	})
	seedEvent(t, db, store.Event{
		EventType:       taxonomy.TypeMeetingSummary,
		EventCategory:   taxonomy.CategorySignal,
		Summary:         "Ran the technical deep dive with the platform team.",
		SourceTimestamp: daysAgo(1).UnixMilli(),
	})

	mock := &llm.MockClient{Response: &llm.Response{Content: snapshotResponse, Model: "mock-model"}}
	e := New(db, mock, nil, config.EngineConfig{}, quietLogger())

	snap, err := e.GenerateSnapshot(context.Background(), "deal-1", "org-1", store.GeneratedScheduled)
	if err != nil || snap == nil {
		t.Fatalf("GenerateSnapshot: %v, %v", snap, err)
	}

	if !strings.Contains(mock.Calls[0].User, prev.Narrative) {
		t.Error("previous narrative missing from the synthesis prompt")
	}
	// Watermark never regresses across generations.
	if snap.EventsIncludedThrough < prev.EventsIncludedThrough {
		t.Errorf("watermark regressed: %d < %d", snap.EventsIncludedThrough, prev.EventsIncludedThrough)
	}
}

func TestGenerateSnapshotSynthesisFailureKeepsPrevious(t *testing.T) {
	db := testDB(t)
	prev := seedSnapshot(t, db, store.Snapshot{Narrative: "Previous state of play."})
	seedEvent(t, db, store.Event{
		EventType:     taxonomy.TypeBuyingSignal,
		EventCategory: taxonomy.CategorySignal,
		Summary:       "Asked for contract redlines.",
	})

	mock := &llm.MockClient{Response: &llm.Response{Content: "Something went sideways, no JSON today."}}
	e := New(db, mock, nil, config.EngineConfig{}, quietLogger())

	snap, err := e.GenerateSnapshot(context.Background(), "deal-1", "org-1", store.GeneratedScheduled)
	if err != nil {
		t.Fatalf("parse failure must not error: %v", err)
	}
	if snap != nil {
		t.Fatal("unparseable synthesis should produce no snapshot")
	}

	latest, err := db.LatestSnapshot("deal-1", "org-1")
	if err != nil || latest == nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.ID != prev.ID {
		t.Error("previous snapshot should keep serving after a failed synthesis")
	}
}

func TestGenerateSnapshotLLMErrorIsSoft(t *testing.T) {
	mock := &llm.MockClient{Err: fmt.Errorf("provider timeout")}
	e := testEngine(t, mock, nil)

	snap, err := e.GenerateSnapshot(context.Background(), "deal-1", "org-1", store.GeneratedOnDemand)
	if err != nil {
		t.Fatalf("provider failure must not error: %v", err)
	}
	if snap != nil {
		t.Error("failed synthesis should produce no snapshot")
	}
}

func TestGenerateSnapshotEmptyDeal(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: snapshotResponse, Model: "mock-model"}}
	e := testEngine(t, mock, nil)

	before := time.Now().UnixMilli()
	snap, err := e.GenerateSnapshot(context.Background(), "deal-1", "org-1", store.GeneratedOnDemand)
	if err != nil || snap == nil {
		t.Fatalf("GenerateSnapshot: %v, %v", snap, err)
	}

	if snap.EventCount != 0 {
		t.Errorf("event count = %d, want 0", snap.EventCount)
	}
	if snap.EventsIncludedThrough < before {
		t.Error("empty deal watermark should be the generation time")
	}
	if !strings.Contains(mock.Calls[0].User, "(none)") {
		t.Error("empty event log should render as (none)")
	}
}

func TestGenerateSnapshotValidation(t *testing.T) {
	noLLM := New(testDB(t), nil, nil, config.EngineConfig{}, quietLogger())
	if _, err := noLLM.GenerateSnapshot(context.Background(), "deal-1", "org-1", store.GeneratedOnDemand); err == nil {
		t.Error("nil LLM client should error")
	}

	e := testEngine(t, &llm.MockClient{Response: &llm.Response{Content: snapshotResponse}}, nil)
	if _, err := e.GenerateSnapshot(context.Background(), "", "org-1", store.GeneratedOnDemand); err == nil {
		t.Error("missing deal id should error")
	}

	// An unknown reason falls back to on_demand rather than violating the
	// store's constraint.
	snap, err := e.GenerateSnapshot(context.Background(), "deal-1", "org-1", "whim")
	if err != nil || snap == nil {
		t.Fatalf("GenerateSnapshot: %v, %v", snap, err)
	}
	if snap.GeneratedBy != store.GeneratedOnDemand {
		t.Errorf("generated_by = %s, want on_demand", snap.GeneratedBy)
	}
}
