package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pipewise/dealmem/internal/llm"
	"github.com/pipewise/dealmem/internal/metrics"
	"github.com/pipewise/dealmem/internal/retrieval"
	"github.com/pipewise/dealmem/internal/store"
	"github.com/pipewise/dealmem/internal/taxonomy"
)

// ExtractionInput identifies one completed interaction to mine for events.
type ExtractionInput struct {
	DealID     string
	OrgID      string
	SourceID   string
	SourceType string    // transcript, email, crm_update, agent_inference, manual
	OccurredAt time.Time // when the interaction happened; zero means now
}

// eventCandidate is the JSON structure the structuring LLM returns, one per
// proposed event.
type eventCandidate struct {
	EventType         string         `json:"event_type"`
	Summary           string         `json:"summary"`
	Detail            map[string]any `json:"detail"`
	VerbatimQuote     string         `json:"verbatim_quote"`
	Speaker           string         `json:"speaker"`
	Confidence        float64        `json:"confidence"`
	Salience          string         `json:"salience"`
	ContactIDs        []string       `json:"contact_ids"`
	SupersedesEventID string         `json:"supersedes_event_id"`
}

// extractionPass drives one category of the pipeline: what to ask the
// retrieval service about the interaction, and which event types the
// structuring call may emit. Pass names are pipeline labels; the stored
// category always comes from the taxonomy, not from the pass.
type extractionPass struct {
	name      string
	questions []string
	types     []string
}

var extractionPasses = []extractionPass{
	{
		name: "commitments",
		questions: []string{
			"What commitments, promises, or agreed next steps were made, by whom, and with what deadlines?",
			"Were any earlier promises completed, confirmed done, or missed?",
		},
		types: []string{taxonomy.TypeCommitmentMade, taxonomy.TypeNextStepAgreed},
	},
	{
		name: "objections",
		questions: []string{
			"What concerns, objections, or pushback were raised, and were any of them resolved?",
		},
		types: []string{taxonomy.TypeObjectionRaised, taxonomy.TypeObjectionResolved},
	},
	{
		name: "competitive",
		questions: []string{
			"Which competitors were mentioned or compared against, and what was said about them?",
		},
		types: []string{taxonomy.TypeCompetitorMentioned, taxonomy.TypeCompetitiveIntel},
	},
	{
		name: "stakeholders",
		questions: []string{
			"Which people were mentioned as involved in the evaluation or decision, and in what roles?",
			"Did anyone new join the evaluation, leave it, or change roles?",
		},
		types: []string{taxonomy.TypeStakeholderIdentified, taxonomy.TypeStakeholderChanged},
	},
	{
		name: "commercial",
		questions: []string{
			"What was discussed about budget, pricing, discounts, or contract terms?",
			"Did the expected timeline or close date move, and why?",
		},
		types: []string{taxonomy.TypeBudgetDiscussed, taxonomy.TypePricingDiscussed, taxonomy.TypeTimelineShift},
	},
	{
		name: "sentiment",
		questions: []string{
			"How did the prospect's tone, engagement, or enthusiasm shift during this interaction?",
			"What buying signals or notable meeting outcomes stood out?",
		},
		types: []string{taxonomy.TypeSentimentShift, taxonomy.TypeBuyingSignal, taxonomy.TypeMeetingSummary},
	},
}

var validSourceTypes = map[string]bool{
	store.SourceTranscript: true, store.SourceEmail: true, store.SourceCRMUpdate: true,
	store.SourceAgentInference: true, store.SourceManual: true,
}

// ExtractInteraction runs the full extraction pipeline for one interaction
// and returns the events that made it into the store. Single-category
// failures (retrieval down, unparseable LLM output, a failed insert chunk)
// are logged and skipped; the error return covers only missing collaborators
// and malformed input.
func (e *Engine) ExtractInteraction(ctx context.Context, in ExtractionInput) ([]store.Event, error) {
	if e.LLM == nil {
		return nil, errors.New("extraction requires an LLM client")
	}
	if e.Retrieval == nil {
		return nil, errors.New("extraction requires a retrieval service")
	}
	if in.DealID == "" || in.OrgID == "" {
		return nil, errors.New("extraction requires deal and org ids")
	}
	if in.SourceType == "" {
		in.SourceType = store.SourceTranscript
	}
	if !validSourceTypes[in.SourceType] {
		return nil, fmt.Errorf("unknown source type %q", in.SourceType)
	}

	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	dedupBlock := e.dedupBlock(in.DealID, in.OrgID, occurred)

	// All passes share the same retrieval window: the interaction's day,
	// padded a day each side, whole team.
	window := retrieval.Filters{
		OrgID:  in.OrgID,
		DealID: in.DealID,
		From:   occurred.Add(-24 * time.Hour),
		To:     occurred.Add(24 * time.Hour),
	}

	var rows []*store.Event
	supersedes := map[string]string{} // new event id -> declared old event id

	for _, pass := range extractionPasses {
		for _, c := range e.runPass(ctx, pass, window, dedupBlock) {
			ev, ok := e.candidateToEvent(c, in, occurred)
			if !ok {
				continue
			}
			rows = append(rows, ev)
			if c.SupersedesEventID != "" {
				supersedes[ev.ID] = c.SupersedesEventID
			}
		}
	}

	inserted := e.insertChunked(rows)

	for i := range inserted {
		oldID, ok := supersedes[inserted[i].ID]
		if !ok {
			continue
		}
		if err := e.DB.MarkSuperseded(oldID, inserted[i].ID); err != nil {
			e.Log.Warn("extraction: supersession skipped",
				"old", oldID, "new", inserted[i].ID, "error", err)
		}
	}

	e.UpdateContactMemories(ctx, in.OrgID, inserted)

	e.Log.Info("extraction complete",
		"deal", in.DealID, "source", in.SourceID, "events", len(inserted))
	return inserted, nil
}

// runPass retrieves the pass's questions and structures the answers into
// candidates. Any failure drops the pass and returns nil.
func (e *Engine) runPass(ctx context.Context, pass extractionPass, window retrieval.Filters, dedupBlock string) []eventCandidate {
	questions := make([]retrieval.Question, len(pass.questions))
	for i, q := range pass.questions {
		questions[i] = retrieval.Question{Text: q, Filters: window}
	}

	start := time.Now()
	results := e.Retrieval.QueryBatch(ctx, questions)
	e.Metrics.RecordItems(metrics.OpRetrieval, time.Since(start), len(results))

	retrieved := formatRetrieved(results)
	if retrieved == "" {
		e.Log.Debug("extraction: nothing retrieved", "category", pass.name)
		return nil
	}

	system, user := llm.ExtractionPrompt(pass.name, retrieved, dedupBlock, typeDocs(pass.types))

	llmStart := time.Now()
	resp, err := e.LLM.Complete(ctx, llm.Request{System: system, User: user})
	if err != nil || resp == nil {
		e.Log.Warn("extraction: structuring call failed", "category", pass.name, "error", err)
		return nil
	}
	e.Metrics.RecordLLM(metrics.OpLLMExtract, time.Since(llmStart), resp.TokensUsed)

	var candidates []eventCandidate
	if !extractJSONArray(resp.Content, &candidates) {
		e.Log.Warn("extraction: unparseable response, dropping category",
			"category", pass.name, "chars", len(resp.Content))
		return nil
	}
	return candidates
}

// candidateToEvent filters and converts one candidate. The category is
// always reassigned from the taxonomy so categorization stays authoritative
// no matter which pass produced the candidate.
func (e *Engine) candidateToEvent(c eventCandidate, in ExtractionInput, occurred time.Time) (*store.Event, bool) {
	if c.Confidence < e.Cfg.ConfidenceThreshold {
		e.Log.Debug("extraction: below confidence threshold",
			"type", c.EventType, "confidence", c.Confidence)
		return nil, false
	}
	category, ok := taxonomy.CategoryOf(c.EventType)
	if !ok {
		e.Log.Warn("extraction: unknown event type dropped", "type", c.EventType)
		return nil, false
	}
	summary := strings.TrimSpace(c.Summary)
	if summary == "" {
		e.Log.Warn("extraction: empty summary dropped", "type", c.EventType)
		return nil, false
	}

	salience := c.Salience
	switch salience {
	case store.SalienceHigh, store.SalienceMedium, store.SalienceLow:
	default:
		salience = store.SalienceMedium
	}

	if missing := taxonomy.MissingDetailFields(c.EventType, c.Detail); len(missing) > 0 {
		e.Log.Debug("extraction: detail fields absent", "type", c.EventType, "missing", missing)
	}

	return &store.Event{
		ID:              uuid.NewString(),
		OrgID:           in.OrgID,
		DealID:          in.DealID,
		EventType:       c.EventType,
		EventCategory:   category,
		SourceType:      in.SourceType,
		SourceID:        in.SourceID,
		SourceTimestamp: occurred.UnixMilli(),
		Summary:         summary,
		Detail:          c.Detail,
		VerbatimQuote:   strings.TrimSpace(c.VerbatimQuote),
		Speaker:         strings.TrimSpace(c.Speaker),
		Confidence:      c.Confidence,
		Salience:        salience,
		ContactIDs:      c.ContactIDs,
		IsActive:        true,
	}, true
}

// insertChunked batch-inserts rows in chunks, each chunk one transaction.
// A failed chunk is logged and skipped; later chunks still run.
func (e *Engine) insertChunked(rows []*store.Event) []store.Event {
	inserted := make([]store.Event, 0, len(rows))
	for start := 0; start < len(rows); start += e.Cfg.InsertChunkSize {
		end := start + e.Cfg.InsertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		chunkStart := time.Now()
		if err := e.DB.InsertEventBatch(chunk); err != nil {
			e.Log.Error("extraction: chunk insert failed",
				"offset", start, "count", len(chunk), "error", err)
			continue
		}
		e.Metrics.RecordItems(metrics.OpEventInsert, time.Since(chunkStart), len(chunk))

		for _, ev := range chunk {
			inserted = append(inserted, *ev)
		}
	}
	return inserted
}

// dedupBlock formats the deal's recent active events as "[id] type: summary"
// lines for the structuring prompt.
func (e *Engine) dedupBlock(dealID, orgID string, now time.Time) string {
	since := now.AddDate(0, 0, -e.Cfg.DedupWindowDays).UnixMilli()
	events, err := e.DB.ListEvents(store.EventFilter{
		OrgID:      orgID,
		DealID:     dealID,
		ActiveOnly: true,
		Since:      since,
	})
	if err != nil {
		e.Log.Warn("extraction: dedup context unavailable", "error", err)
		return "(none)"
	}
	if len(events) == 0 {
		return "(none)"
	}

	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "[%s] %s: %s\n", ev.ID, ev.EventType, ev.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatRetrieved renders non-empty retrieval answers as Q/A blocks. An
// all-empty batch yields "" and the caller skips the pass.
func formatRetrieved(results []*retrieval.Result) string {
	var b strings.Builder
	for _, r := range results {
		if r == nil || r.Metadata.Failed || strings.TrimSpace(r.Answer) == "" {
			continue
		}
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", r.Question, r.Answer)
	}
	return strings.TrimSpace(b.String())
}

// typeDocs renders the valid types and their detail field hints for the
// prompt, fields sorted for stable output.
func typeDocs(types []string) string {
	var b strings.Builder
	for _, t := range types {
		fmt.Fprintf(&b, "%s\n", t)
		schema := taxonomy.DetailSchema(t)
		fields := make([]string, 0, len(schema))
		for f := range schema {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(&b, "  %s: %s\n", f, schema[f])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
