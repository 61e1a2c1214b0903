package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pipewise/dealmem/internal/store"
	"github.com/pipewise/dealmem/internal/taxonomy"
)

// riskOverdueDays is the overdue length past which a broken commitment is
// flagged high severity instead of medium.
const riskOverdueDays = 7

// FulfillCommitment settles a pending commitment as kept. The original
// commitment_made event's detail.status is mutated in place (the only
// sanctioned post-creation content change) and a derived
// commitment_fulfilled event is appended. Refusals and write failures log
// and return false; a true return means both writes landed.
func (e *Engine) FulfillCommitment(ctx context.Context, orgID, eventID, method string) bool {
	original, ok := e.loadPendingCommitment(orgID, eventID)
	if !ok {
		return false
	}
	if !e.setCommitmentStatus(original, store.CommitmentFulfilled) {
		return false
	}

	if method == "" {
		method = "stated"
	}
	now := time.Now().UTC()
	derived := &store.Event{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		DealID:          original.DealID,
		EventType:       taxonomy.TypeCommitmentFulfilled,
		EventCategory:   taxonomy.CategoryCommitment,
		SourceType:      store.SourceAgentInference,
		SourceTimestamp: now.UnixMilli(),
		Summary:         "Commitment fulfilled: " + commitmentAction(original),
		Detail: map[string]any{
			"original_event_id": original.ID,
			"method":            method,
			"fulfilled_at":      now.Format(time.RFC3339),
		},
		Confidence: 1.0,
		Salience:   store.SalienceMedium,
		ContactIDs: original.ContactIDs,
		IsActive:   true,
	}
	if err := e.DB.InsertEvent(derived); err != nil {
		e.Log.Error("commitment: fulfilled event insert failed", "commitment", original.ID, "error", err)
		return false
	}

	e.UpdateContactMemories(ctx, orgID, []store.Event{*derived})
	e.Log.Info("commitment fulfilled", "commitment", original.ID, "method", method)
	return true
}

// BreakCommitment settles a pending commitment as missed: status mutation,
// a derived commitment_broken event, and exactly one risk_flag sized by how
// overdue the deadline is.
func (e *Engine) BreakCommitment(ctx context.Context, orgID, eventID string) bool {
	original, ok := e.loadPendingCommitment(orgID, eventID)
	if !ok {
		return false
	}

	now := time.Now().UTC()
	overdue := daysOverdue(detailString(original.Detail, "deadline"), now)

	if !e.setCommitmentStatus(original, store.CommitmentBroken) {
		return false
	}

	action := commitmentAction(original)
	broken := &store.Event{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		DealID:          original.DealID,
		EventType:       taxonomy.TypeCommitmentBroken,
		EventCategory:   taxonomy.CategoryCommitment,
		SourceType:      store.SourceAgentInference,
		SourceTimestamp: now.UnixMilli(),
		Summary:         "Commitment broken: " + action,
		Detail: map[string]any{
			"original_event_id": original.ID,
			"days_overdue":      overdue,
			"acknowledged":      false,
		},
		Confidence: 1.0,
		Salience:   store.SalienceHigh,
		ContactIDs: original.ContactIDs,
		IsActive:   true,
	}
	if err := e.DB.InsertEvent(broken); err != nil {
		e.Log.Error("commitment: broken event insert failed", "commitment", original.ID, "error", err)
		return false
	}

	severity := store.SalienceMedium
	if overdue > riskOverdueDays {
		severity = store.SalienceHigh
	}
	risk := &store.Event{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		DealID:          original.DealID,
		EventType:       taxonomy.TypeRiskFlag,
		EventCategory:   taxonomy.CategorySignal,
		SourceType:      store.SourceAgentInference,
		SourceTimestamp: now.UnixMilli(),
		Summary:         "Broken commitment threatens momentum: " + action,
		Detail: map[string]any{
			"severity":            severity,
			"risk_type":           "momentum",
			"contributing_events": []string{original.ID},
			"recommended_action":  "Acknowledge the miss with the prospect and agree a new concrete date.",
		},
		Confidence: 1.0,
		Salience:   store.SalienceHigh,
		IsActive:   true,
	}
	if err := e.DB.InsertEvent(risk); err != nil {
		e.Log.Error("commitment: risk flag insert failed", "commitment", original.ID, "error", err)
		return false
	}

	e.UpdateContactMemories(ctx, orgID, []store.Event{*broken})
	e.Log.Info("commitment broken",
		"commitment", original.ID, "days_overdue", overdue, "risk_severity", severity)
	return true
}

// loadPendingCommitment fetches an event and verifies it is this org's
// still-pending commitment_made. Monotonicity lives here: a settled
// commitment never loads again.
func (e *Engine) loadPendingCommitment(orgID, eventID string) (*store.Event, bool) {
	ev, err := e.DB.GetEvent(eventID)
	if err != nil {
		e.Log.Error("commitment: load failed", "event", eventID, "error", err)
		return nil, false
	}
	if ev == nil || ev.OrgID != orgID {
		e.Log.Warn("commitment: not found", "event", eventID, "org", orgID)
		return nil, false
	}
	if ev.EventType != taxonomy.TypeCommitmentMade {
		e.Log.Warn("commitment: refusing non-commitment event", "event", eventID, "type", ev.EventType)
		return nil, false
	}
	if status := commitmentStatus(ev.Detail); status != store.CommitmentPending {
		e.Log.Warn("commitment: already settled", "event", eventID, "status", status)
		return nil, false
	}
	return ev, true
}

func (e *Engine) setCommitmentStatus(ev *store.Event, status string) bool {
	if ev.Detail == nil {
		ev.Detail = map[string]any{}
	}
	ev.Detail["status"] = status
	if err := e.DB.UpdateEventDetail(ev.ID, ev.Detail); err != nil {
		e.Log.Error("commitment: status update failed", "event", ev.ID, "error", err)
		return false
	}
	return true
}

// commitmentFromEvent projects a commitment_made event into the lightweight
// view consumers see. Status truth stays in the event's detail.
func commitmentFromEvent(ev *store.Event) store.Commitment {
	return store.Commitment{
		EventID:   ev.ID,
		Owner:     detailString(ev.Detail, "owner"),
		Action:    commitmentAction(ev),
		Deadline:  detailString(ev.Detail, "deadline"),
		Status:    commitmentStatus(ev.Detail),
		CreatedAt: ev.CreatedAt,
	}
}

func commitmentAction(ev *store.Event) string {
	if action := detailString(ev.Detail, "action"); action != "" {
		return action
	}
	return ev.Summary
}

// commitmentStatus reads detail.status; an absent status means pending.
func commitmentStatus(detail map[string]any) string {
	if s := detailString(detail, "status"); s != "" {
		return s
	}
	return store.CommitmentPending
}

// parseDeadline accepts the two deadline shapes extraction produces: a bare
// ISO date or a full RFC 3339 timestamp.
func parseDeadline(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// daysOverdue counts whole days between a deadline and now, never negative.
// Unparseable or absent deadlines count as zero.
func daysOverdue(deadline string, now time.Time) int {
	t, ok := parseDeadline(deadline)
	if !ok {
		return 0
	}
	days := int(now.Sub(t).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// detailString reads a string field from an event detail map, empty when
// absent or differently typed.
func detailString(detail map[string]any, key string) string {
	if detail == nil {
		return ""
	}
	if s, ok := detail[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
