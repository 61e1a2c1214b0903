package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pipewise/dealmem/internal/llm"
	"github.com/pipewise/dealmem/internal/metrics"
	"github.com/pipewise/dealmem/internal/retrieval"
	"github.com/pipewise/dealmem/internal/store"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// TriggerOptions carries the caller-supplied regeneration signals.
type TriggerOptions struct {
	StageChanged bool
	OnDemand     bool
}

// snapshotQuestions enrich the narrative beyond what structured events
// capture. Fixed set, asked on every synthesis.
var snapshotQuestions = []string{
	"Tell the story of this deal so far: how it started, what changed, and where it stands today.",
	"How have the relationships with the people in this account developed over time?",
	"What topics keep recurring across this deal's meetings and emails?",
}

// snapshotPayload is the JSON object the synthesis LLM returns.
type snapshotPayload struct {
	Narrative           string                 `json:"narrative"`
	KeyFacts            store.KeyFacts         `json:"key_facts"`
	StakeholderMap      []store.Stakeholder    `json:"stakeholder_map"`
	RiskAssessment      store.RiskAssessment   `json:"risk_assessment"`
	SentimentTrajectory []store.SentimentPoint `json:"sentiment_trajectory"`
	OpenCommitments     []store.Commitment     `json:"open_commitments"`
}

// ShouldRegenerateSnapshot decides whether a deal's snapshot is due, and
// under which trigger. Checked in priority order: explicit on-demand, stage
// change, cold start, enough new events past the watermark, then staleness
// with at least one new event. The returned reason is the suggested
// generated_by value for GenerateSnapshot.
func (e *Engine) ShouldRegenerateSnapshot(ctx context.Context, dealID, orgID string, opts TriggerOptions) (bool, store.GeneratedBy) {
	if opts.OnDemand || opts.StageChanged {
		return true, store.GeneratedOnDemand
	}

	snap, err := e.DB.LatestSnapshot(dealID, orgID)
	if err != nil {
		e.Log.Warn("snapshot trigger: latest snapshot unavailable", "deal", dealID, "error", err)
		return false, ""
	}
	if snap == nil {
		return true, store.GeneratedEventThreshold
	}

	newEvents, err := e.DB.CountActiveEventsSince(dealID, orgID, snap.EventsIncludedThrough)
	if err != nil {
		e.Log.Warn("snapshot trigger: event count unavailable", "deal", dealID, "error", err)
		return false, ""
	}
	if newEvents >= e.Cfg.SnapshotEventThreshold {
		return true, store.GeneratedEventThreshold
	}

	stale := snap.CreatedAt < time.Now().UnixMilli()-int64(e.Cfg.SnapshotMaxAgeDays)*dayMillis
	if stale && newEvents >= 1 {
		return true, store.GeneratedScheduled
	}
	return false, ""
}

// GenerateSnapshot synthesizes and stores a fresh snapshot for a deal. A
// failed or unparseable synthesis returns (nil, nil): the previous snapshot
// keeps serving and the failure only shows in the log. The error return
// covers missing collaborators, malformed input, and the initial event load.
func (e *Engine) GenerateSnapshot(ctx context.Context, dealID, orgID string, reason store.GeneratedBy) (*store.Snapshot, error) {
	if e.LLM == nil {
		return nil, errors.New("snapshot synthesis requires an LLM client")
	}
	if dealID == "" || orgID == "" {
		return nil, errors.New("snapshot requires deal and org ids")
	}
	switch reason {
	case store.GeneratedScheduled, store.GeneratedOnDemand, store.GeneratedEventThreshold:
	default:
		reason = store.GeneratedOnDemand
	}

	// Newest events win the cap; the prompt still reads oldest-first. Capping
	// from the old end would leave the newest events past the watermark and
	// re-trigger synthesis forever.
	events, err := e.DB.ListEvents(store.EventFilter{
		OrgID:      orgID,
		DealID:     dealID,
		ActiveOnly: true,
		Limit:      e.Cfg.SnapshotEventLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	reverse(events)

	prev, err := e.DB.LatestSnapshot(dealID, orgID)
	if err != nil {
		e.Log.Warn("snapshot: previous narrative unavailable", "deal", dealID, "error", err)
	}
	prevNarrative := "(none)"
	if prev != nil && prev.Narrative != "" {
		prevNarrative = prev.Narrative
	}

	system, user := llm.SnapshotPrompt(prevNarrative, formatEventLog(events), e.snapshotRAG(ctx, dealID, orgID))

	llmStart := time.Now()
	resp, err := e.LLM.Complete(ctx, llm.Request{System: system, User: user})
	if err != nil || resp == nil {
		e.Log.Error("snapshot: synthesis call failed", "deal", dealID, "error", err)
		return nil, nil
	}
	e.Metrics.RecordLLM(metrics.OpLLMSnapshot, time.Since(llmStart), resp.TokensUsed)

	var payload snapshotPayload
	if !extractJSONObject(resp.Content, &payload) {
		e.Log.Error("snapshot: unparseable synthesis response", "deal", dealID, "chars", len(resp.Content))
		return nil, nil
	}

	watermark := time.Now().UnixMilli()
	if len(events) > 0 {
		watermark = events[len(events)-1].SourceTimestamp
	}

	snap := &store.Snapshot{
		ID:                    uuid.NewString(),
		OrgID:                 orgID,
		DealID:                dealID,
		Narrative:             payload.Narrative,
		KeyFacts:              payload.KeyFacts,
		StakeholderMap:        payload.StakeholderMap,
		RiskAssessment:        payload.RiskAssessment,
		SentimentTrajectory:   payload.SentimentTrajectory,
		OpenCommitments:       payload.OpenCommitments,
		EventsIncludedThrough: watermark,
		EventCount:            len(events),
		GeneratedBy:           reason,
		ModelUsed:             resp.Model,
	}
	if err := e.DB.InsertSnapshot(snap); err != nil {
		e.Log.Error("snapshot: insert failed", "deal", dealID, "error", err)
		return nil, nil
	}

	e.Log.Info("snapshot generated",
		"deal", dealID, "events", snap.EventCount, "reason", reason, "model", snap.ModelUsed)
	return snap, nil
}

// snapshotRAG asks the fixed narrative questions scoped to the deal.
func (e *Engine) snapshotRAG(ctx context.Context, dealID, orgID string) string {
	if e.Retrieval == nil {
		return "(none)"
	}
	questions := make([]retrieval.Question, len(snapshotQuestions))
	for i, q := range snapshotQuestions {
		questions[i] = retrieval.Question{
			Text:    q,
			Filters: retrieval.Filters{OrgID: orgID, DealID: dealID},
		}
	}

	start := time.Now()
	results := e.Retrieval.QueryBatch(ctx, questions)
	e.Metrics.RecordItems(metrics.OpRetrieval, time.Since(start), len(results))

	if block := formatRetrieved(results); block != "" {
		return block
	}
	return "(none)"
}

func formatEventLog(events []store.Event) string {
	if len(events) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, ev := range events {
		date := time.UnixMilli(ev.SourceTimestamp).UTC().Format("2006-01-02")
		fmt.Fprintf(&b, "[%s] %s: %s\n", ev.EventType, date, ev.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func reverse(events []store.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
