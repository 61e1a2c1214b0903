package engine

import (
	"context"
	"sort"
	"time"

	"github.com/pipewise/dealmem/internal/metrics"
	"github.com/pipewise/dealmem/internal/retrieval"
	"github.com/pipewise/dealmem/internal/store"
	"github.com/pipewise/dealmem/internal/taxonomy"
)

// ragDepthFloor is the minimum remaining token budget worth spending on
// retrieval depth. Below it the answers would be cut to fragments.
const ragDepthFloor = 500

// contextRAGQuestions are the default depth questions when the caller asks
// for RAG but supplies none.
var contextRAGQuestions = []string{
	"What are the most important unresolved threads in this deal right now?",
	"What does the prospect care about most, in their own words?",
}

// ContextOptions tunes GetDealContext. Zero values mean the configured
// defaults; RAG runs only when IncludeRAGDepth is set.
type ContextOptions struct {
	Categories      []string
	Limit           int
	IncludeRAGDepth bool
	RAGQuestions    []string // up to two; defaults used when empty
	TokenBudget     int
}

// ContextMeta describes how the context was assembled.
type ContextMeta struct {
	LastMeetingAt   *time.Time // newest transcript-sourced event in the fresh batch
	TotalEventCount int        // snapshot's folded count plus fresh events
	RetrievalCalls  int        // RAG questions issued, for the caller to bill
	TokenEstimate   int
	GeneratedAt     time.Time
}

// DealContext is the composite a consuming agent receives: the compressed
// past (snapshot) plus everything that happened since, never an error.
type DealContext struct {
	Snapshot        *store.Snapshot
	RecentEvents    []store.Event
	OpenCommitments []store.Commitment
	Stakeholders    []store.Stakeholder
	RiskFactors     []store.RiskFactor
	Contacts        []store.ContactMemory
	RAG             []*retrieval.Result
	Meta            ContextMeta
}

// GetDealContext assembles the deal's working context. Every sub-query
// failure degrades to an empty field with a warning; consumers judge
// staleness from Meta and the snapshot watermark instead of handling errors.
func (e *Engine) GetDealContext(ctx context.Context, dealID, orgID string, opts ContextOptions) *DealContext {
	if opts.Limit <= 0 {
		opts.Limit = e.Cfg.ContextEventLimit
	}
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = e.Cfg.ContextTokenBudget
	}

	out := &DealContext{Meta: ContextMeta{GeneratedAt: time.Now().UTC()}}

	snap, err := e.DB.LatestSnapshot(dealID, orgID)
	if err != nil {
		e.Log.Warn("context: snapshot unavailable", "deal", dealID, "error", err)
	}
	out.Snapshot = snap

	// Fresh events resume where the snapshot left off; with no snapshot the
	// window is the configured trailing period.
	since := time.Now().UnixMilli() - int64(e.Cfg.ContextWindowDays)*dayMillis
	if snap != nil {
		since = snap.EventsIncludedThrough
		out.Meta.TotalEventCount = snap.EventCount
	}
	fresh, err := e.DB.ListEvents(store.EventFilter{
		OrgID:      orgID,
		DealID:     dealID,
		Categories: opts.Categories,
		ActiveOnly: true,
		Since:      since,
		Limit:      opts.Limit,
	})
	if err != nil {
		e.Log.Warn("context: fresh events unavailable", "deal", dealID, "error", err)
		fresh = nil
	}
	out.RecentEvents = fresh
	out.Meta.TotalEventCount += len(fresh)

	out.OpenCommitments = mergeCommitments(snap, fresh)
	out.Stakeholders = resolveStakeholders(snap, fresh)
	out.RiskFactors = riskFactorsFrom(fresh)
	out.Contacts = e.contactRows(orgID, fresh)

	for i := range fresh {
		if fresh[i].SourceType == store.SourceTranscript {
			t := time.UnixMilli(fresh[i].SourceTimestamp).UTC()
			out.Meta.LastMeetingAt = &t
			break
		}
	}

	estimate := 0
	if snap != nil {
		estimate += retrieval.EstimateTokens(snap.Narrative)
	}
	for i := range fresh {
		estimate += retrieval.EstimateTokens(fresh[i].Summary)
	}

	if opts.IncludeRAGDepth && e.Retrieval != nil {
		remaining := opts.TokenBudget - estimate
		if remaining > ragDepthFloor {
			out.RAG = e.contextRAG(ctx, dealID, orgID, opts.RAGQuestions, remaining)
			out.Meta.RetrievalCalls = len(out.RAG)
			for _, r := range out.RAG {
				estimate += retrieval.EstimateTokens(r.Answer)
			}
		}
	}
	out.Meta.TokenEstimate = estimate

	return out
}

// contextRAG issues up to two depth questions and fits the answers into the
// remaining token budget.
func (e *Engine) contextRAG(ctx context.Context, dealID, orgID string, questions []string, budget int) []*retrieval.Result {
	if len(questions) == 0 {
		questions = contextRAGQuestions
	}
	if len(questions) > 2 {
		questions = questions[:2]
	}

	batch := make([]retrieval.Question, len(questions))
	for i, q := range questions {
		batch[i] = retrieval.Question{
			Text:      q,
			Filters:   retrieval.Filters{OrgID: orgID, DealID: dealID},
			MaxTokens: budget,
		}
	}

	start := time.Now()
	results := e.Retrieval.QueryBatch(ctx, batch)
	e.Metrics.RecordItems(metrics.OpRetrieval, time.Since(start), len(results))

	return retrieval.TruncateToTokenBudget(results, budget)
}

// mergeCommitments combines the snapshot's stored open commitments with
// pending commitment_made events from the fresh batch. Fresh data wins on
// event id collisions: the snapshot's copy may predate a status change.
func mergeCommitments(snap *store.Snapshot, fresh []store.Event) []store.Commitment {
	var merged []store.Commitment
	index := map[string]int{}

	if snap != nil {
		for _, c := range snap.OpenCommitments {
			if c.Status != "" && c.Status != store.CommitmentPending {
				continue
			}
			index[c.EventID] = len(merged)
			merged = append(merged, c)
		}
	}

	for i := range fresh {
		if fresh[i].EventType != taxonomy.TypeCommitmentMade {
			continue
		}
		c := commitmentFromEvent(&fresh[i])
		if c.Status != store.CommitmentPending {
			continue
		}
		if at, ok := index[c.EventID]; ok {
			merged[at] = c
			continue
		}
		index[c.EventID] = len(merged)
		merged = append(merged, c)
	}

	return merged
}

// resolveStakeholders prefers the snapshot's synthesized map; only a deal
// with no snapshot stakeholders falls back to scanning fresh events.
func resolveStakeholders(snap *store.Snapshot, fresh []store.Event) []store.Stakeholder {
	if snap != nil && len(snap.StakeholderMap) > 0 {
		return snap.StakeholderMap
	}

	var out []store.Stakeholder
	seen := map[string]bool{}
	for i := range fresh {
		ev := &fresh[i]
		if ev.EventType != taxonomy.TypeStakeholderIdentified && ev.EventType != taxonomy.TypeStakeholderChanged {
			continue
		}
		name := detailString(ev.Detail, "name")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, store.Stakeholder{
			Name:        name,
			Role:        detailString(ev.Detail, "role"),
			Influence:   detailString(ev.Detail, "influence"),
			Disposition: detailString(ev.Detail, "disposition"),
		})
	}
	return out
}

func riskFactorsFrom(fresh []store.Event) []store.RiskFactor {
	var out []store.RiskFactor
	for i := range fresh {
		if fresh[i].EventType != taxonomy.TypeRiskFlag {
			continue
		}
		out = append(out, store.RiskFactor{
			Description: fresh[i].Summary,
			Severity:    detailString(fresh[i].Detail, "severity"),
			EventID:     fresh[i].ID,
		})
	}
	return out
}

// contactRows loads the memory row of every distinct contact referenced in
// the fresh batch. Contacts without a row yet are simply absent.
func (e *Engine) contactRows(orgID string, fresh []store.Event) []store.ContactMemory {
	seen := map[string]bool{}
	var ids []string
	for i := range fresh {
		for _, id := range fresh[i].ContactIDs {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)

	var rows []store.ContactMemory
	for _, id := range ids {
		m, err := e.DB.GetContactMemory(orgID, id)
		if err != nil {
			e.Log.Warn("context: contact memory unavailable", "contact", id, "error", err)
			continue
		}
		if m != nil {
			rows = append(rows, *m)
		}
	}
	return rows
}

// GetEvents exposes filtered event reads.
func (e *Engine) GetEvents(ctx context.Context, f store.EventFilter) ([]store.Event, error) {
	return e.DB.ListEvents(f)
}

// GetOpenCommitments returns the deal's still-pending commitments, newest
// first.
func (e *Engine) GetOpenCommitments(ctx context.Context, dealID, orgID string) ([]store.Commitment, error) {
	events, err := e.DB.ListEvents(store.EventFilter{
		OrgID:      orgID,
		DealID:     dealID,
		Types:      []string{taxonomy.TypeCommitmentMade},
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}

	var open []store.Commitment
	for i := range events {
		if c := commitmentFromEvent(&events[i]); c.Status == store.CommitmentPending {
			open = append(open, c)
		}
	}
	return open, nil
}

// GetOverdueCommitments returns pending commitments whose deadline has
// passed. The comparison happens here, against UTC now, because stored
// deadlines are bare dates.
func (e *Engine) GetOverdueCommitments(ctx context.Context, dealID, orgID string) ([]store.Commitment, error) {
	open, err := e.GetOpenCommitments(ctx, dealID, orgID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var overdue []store.Commitment
	for _, c := range open {
		deadline, ok := parseDeadline(c.Deadline)
		if ok && deadline.Before(now) {
			overdue = append(overdue, c)
		}
	}
	return overdue, nil
}

// GetStakeholderMap returns the deal's stakeholders: the snapshot's map when
// it has one, otherwise a scan of active stakeholder events.
func (e *Engine) GetStakeholderMap(ctx context.Context, dealID, orgID string) ([]store.Stakeholder, error) {
	snap, err := e.DB.LatestSnapshot(dealID, orgID)
	if err != nil {
		return nil, err
	}
	if snap != nil && len(snap.StakeholderMap) > 0 {
		return snap.StakeholderMap, nil
	}

	events, err := e.DB.ListEvents(store.EventFilter{
		OrgID:      orgID,
		DealID:     dealID,
		Categories: []string{taxonomy.CategoryStakeholder},
		ActiveOnly: true,
		OrderAsc:   true,
	})
	if err != nil {
		return nil, err
	}
	return resolveStakeholders(nil, events), nil
}

// GetRiskFactors returns every active risk flag on the deal.
func (e *Engine) GetRiskFactors(ctx context.Context, dealID, orgID string) ([]store.RiskFactor, error) {
	events, err := e.DB.ListEvents(store.EventFilter{
		OrgID:      orgID,
		DealID:     dealID,
		Types:      []string{taxonomy.TypeRiskFlag},
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	return riskFactorsFrom(events), nil
}

// ContactHistory pairs a contact's memory row with their cross-deal events.
type ContactHistory struct {
	Contact *store.ContactMemory
	Events  []store.Event
}

// GetContactHistory returns everything known about one contact across all
// deals in the org.
func (e *Engine) GetContactHistory(ctx context.Context, orgID, contactID string, limit int) (*ContactHistory, error) {
	contact, err := e.DB.GetContactMemory(orgID, contactID)
	if err != nil {
		return nil, err
	}

	events, err := e.DB.ListEvents(store.EventFilter{
		OrgID:      orgID,
		ContactID:  contactID,
		ActiveOnly: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	return &ContactHistory{Contact: contact, Events: events}, nil
}
