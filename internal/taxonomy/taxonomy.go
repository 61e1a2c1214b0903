// Package taxonomy is the static registry of deal event types. It maps each
// event type to its category and documents the expected detail fields. The
// detail schemas are documentation, not validation: extraction output with
// unknown or missing fields is tolerated everywhere, and MissingDetailFields
// exists only so callers can log what an event lacks.
package taxonomy

import "sort"

// Categories of deal events.
const (
	CategoryCommitment  = "commitment"
	CategoryObjection   = "objection"
	CategorySignal      = "signal"
	CategoryStakeholder = "stakeholder"
	CategorySentiment   = "sentiment"
	CategoryCompetitive = "competitive"
	CategoryTimeline    = "timeline"
	CategoryCommercial  = "commercial"
)

// Event types.
const (
	TypeCommitmentMade        = "commitment_made"
	TypeCommitmentFulfilled   = "commitment_fulfilled"
	TypeCommitmentBroken      = "commitment_broken"
	TypeObjectionRaised       = "objection_raised"
	TypeObjectionResolved     = "objection_resolved"
	TypeBuyingSignal          = "buying_signal"
	TypeRiskFlag              = "risk_flag"
	TypeMeetingSummary        = "meeting_summary"
	TypeEmailExchanged        = "email_exchanged"
	TypeStakeholderIdentified = "stakeholder_identified"
	TypeStakeholderChanged    = "stakeholder_changed"
	TypeSentimentShift        = "sentiment_shift"
	TypeCompetitorMentioned   = "competitor_mentioned"
	TypeCompetitiveIntel      = "competitive_intel"
	TypeTimelineShift         = "timeline_shift"
	TypeNextStepAgreed        = "next_step_agreed"
	TypeBudgetDiscussed       = "budget_discussed"
	TypePricingDiscussed      = "pricing_discussed"
)

// entry describes one event type: its category and the detail fields an
// extractor is expected to populate.
type entry struct {
	category string
	detail   map[string]string
}

var registry = map[string]entry{
	TypeCommitmentMade: {CategoryCommitment, map[string]string{
		"owner":    "who owns the commitment: rep or prospect",
		"action":   "what was promised, in plain language",
		"deadline": "ISO date the commitment is due, absent if open-ended",
		"status":   "lifecycle status: pending, fulfilled, or broken",
		"explicit": "true when the commitment was stated verbatim rather than inferred",
	}},
	TypeCommitmentFulfilled: {CategoryCommitment, map[string]string{
		"original_event_id": "id of the commitment_made event this fulfills",
		"fulfilled_at":      "ISO timestamp of fulfillment",
		"method":            "how fulfillment was observed: stated, document, crm, inferred",
	}},
	TypeCommitmentBroken: {CategoryCommitment, map[string]string{
		"original_event_id": "id of the commitment_made event this breaks",
		"days_overdue":      "whole days past the deadline at detection time",
		"acknowledged":      "true once a human has acknowledged the miss",
	}},
	TypeObjectionRaised: {CategoryObjection, map[string]string{
		"objection_type": "price, timing, authority, need, trust, or other",
		"severity":       "high, medium, or low",
		"raised_by":      "name of the person who raised it",
		"response_given": "how the rep responded in the moment, if at all",
	}},
	TypeObjectionResolved: {CategoryObjection, map[string]string{
		"objection_type": "price, timing, authority, need, trust, or other",
		"resolution":     "what resolved the objection",
		"resolved_by":    "name of the person who resolved it",
	}},
	TypeBuyingSignal: {CategorySignal, map[string]string{
		"signal_type": "budget_confirmed, timeline_accelerated, expanded_scope, exec_engaged, or other",
		"strength":    "strong, moderate, or weak",
	}},
	TypeRiskFlag: {CategorySignal, map[string]string{
		"severity":            "high, medium, or low",
		"risk_type":           "what kind of risk: momentum, stakeholder, competitive, commercial",
		"recommended_action":  "suggested next step for the rep",
		"contributing_events": "event ids that led to this flag",
	}},
	TypeMeetingSummary: {CategorySignal, map[string]string{
		"duration_minutes": "meeting length",
		"attendee_count":   "number of attendees",
		"topics":           "main topics covered",
		"outcome":          "one-line outcome of the meeting",
	}},
	TypeEmailExchanged: {CategorySignal, map[string]string{
		"direction":           "inbound (from prospect) or outbound (from rep)",
		"thread_subject":      "subject line of the thread",
		"response_time_hours": "hours between the previous message and this one",
	}},
	TypeStakeholderIdentified: {CategoryStakeholder, map[string]string{
		"name":        "person's name as heard",
		"role":        "their title or functional role",
		"influence":   "high, medium, or low",
		"disposition": "champion, supporter, neutral, skeptic, or blocker",
	}},
	TypeStakeholderChanged: {CategoryStakeholder, map[string]string{
		"name":     "person's name as heard",
		"change":   "joined, left, or role_change",
		"new_role": "their new title, when applicable",
	}},
	TypeSentimentShift: {CategorySentiment, map[string]string{
		"direction": "positive or negative",
		"magnitude": "strong, moderate, or slight",
		"driver":    "what caused the shift",
	}},
	TypeCompetitorMentioned: {CategoryCompetitive, map[string]string{
		"competitor":   "competitor name",
		"context":      "how the competitor came up",
		"threat_level": "high, medium, or low",
	}},
	TypeCompetitiveIntel: {CategoryCompetitive, map[string]string{
		"competitor":         "competitor name",
		"intel":              "what was learned",
		"source_reliability": "confirmed, probable, or hearsay",
	}},
	TypeTimelineShift: {CategoryTimeline, map[string]string{
		"old_close_date": "previously expected close date",
		"new_close_date": "newly expected close date",
		"reason":         "stated reason for the change",
	}},
	TypeNextStepAgreed: {CategoryTimeline, map[string]string{
		"action":   "the agreed next step",
		"owner":    "who owns it: rep or prospect",
		"due_date": "agreed ISO date, absent if unscheduled",
	}},
	TypeBudgetDiscussed: {CategoryCommercial, map[string]string{
		"amount":   "budget figure discussed",
		"currency": "ISO currency code",
		"approved": "true when budget is confirmed, not just mentioned",
		"approver": "who controls the budget",
	}},
	TypePricingDiscussed: {CategoryCommercial, map[string]string{
		"quoted_amount":      "price quoted to the prospect",
		"discount_requested": "discount the prospect asked for, if any",
		"term_months":        "contract term under discussion",
	}},
}

// Valid reports whether eventType is a known type.
func Valid(eventType string) bool {
	_, ok := registry[eventType]
	return ok
}

// CategoryOf returns the category for an event type.
func CategoryOf(eventType string) (string, bool) {
	e, ok := registry[eventType]
	if !ok {
		return "", false
	}
	return e.category, true
}

// TypesFor returns all event types in a category, sorted.
func TypesFor(category string) []string {
	var types []string
	for t, e := range registry {
		if e.category == category {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// DetailSchema returns the documented detail fields for an event type
// (field name → human-readable description). Nil for unknown types.
func DetailSchema(eventType string) map[string]string {
	e, ok := registry[eventType]
	if !ok {
		return nil
	}
	// Copy so callers can't mutate the registry.
	out := make(map[string]string, len(e.detail))
	for k, v := range e.detail {
		out[k] = v
	}
	return out
}

// MissingDetailFields returns the documented fields absent from detail.
// Diagnostic only: an event with missing fields is still stored and served.
// Unknown event types report no missing fields.
func MissingDetailFields(eventType string, detail map[string]any) []string {
	e, ok := registry[eventType]
	if !ok {
		return nil
	}
	var missing []string
	for field := range e.detail {
		if _, present := detail[field]; !present {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

// AllTypes returns every registered event type, sorted.
func AllTypes() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// AllCategories returns every category, sorted.
func AllCategories() []string {
	seen := map[string]bool{}
	var cats []string
	for _, e := range registry {
		if !seen[e.category] {
			seen[e.category] = true
			cats = append(cats, e.category)
		}
	}
	sort.Strings(cats)
	return cats
}
