package engine

import (
	"context"
	"fmt"

	"github.com/pipewise/dealmem/internal/store"
	"github.com/pipewise/dealmem/internal/taxonomy"
)

// coachingAlpha is the EWMA weight of a new coaching sample.
const coachingAlpha = 0.3

// Decision is a rep's verdict on one suggested action.
type Decision string

const (
	DecisionApproved     Decision = "approved"
	DecisionRejected     Decision = "rejected"
	DecisionEdited       Decision = "edited"
	DecisionAutoApproved Decision = "auto_approved"
)

// engagementBoost resolves the relationship-strength delta one event grants
// its contacts, plus which interaction counter it bumps. Types outside the
// table move nothing but still count as contact activity.
func engagementBoost(ev *store.Event) (delta float64, meetings, sent, received int) {
	switch ev.EventType {
	case taxonomy.TypeMeetingSummary:
		return 0.15, 1, 0, 0
	case taxonomy.TypeEmailExchanged:
		if detailString(ev.Detail, "direction") == "inbound" {
			return 0.08, 0, 0, 1
		}
		return 0.03, 0, 1, 0
	case taxonomy.TypeSentimentShift:
		if detailString(ev.Detail, "direction") == "negative" {
			return -0.05, 0, 0, 0
		}
		return 0.05, 0, 0, 0
	case taxonomy.TypeCommitmentFulfilled:
		return 0.06, 0, 0, 0
	case taxonomy.TypeCommitmentBroken:
		return -0.08, 0, 0, 0
	}
	return 0, 0, 0, 0
}

// UpdateContactMemories folds a batch of new events into the memory rows of
// every contact they reference, creating rows lazily at the default
// strength. last_interaction_at only moves forward: events arrive out of
// order and an old transcript must not rewind a contact's recency. Failures
// log and skip; the events themselves are already stored.
func (e *Engine) UpdateContactMemories(ctx context.Context, orgID string, events []store.Event) {
	for i := range events {
		ev := &events[i]
		if len(ev.ContactIDs) == 0 {
			continue
		}
		delta, meetings, sent, received := engagementBoost(ev)

		for _, contactID := range ev.ContactIDs {
			if contactID == "" {
				continue
			}
			m, err := e.DB.GetOrCreateContactMemory(orgID, contactID)
			if err != nil {
				e.Log.Warn("contact memory: load failed", "contact", contactID, "error", err)
				continue
			}

			m.RelationshipStrength = clampStrength(m.RelationshipStrength + delta)
			m.TotalMeetings += meetings
			m.TotalEmailsSent += sent
			m.TotalEmailsReceived += received
			if m.LastInteractionAt == nil || ev.SourceTimestamp > *m.LastInteractionAt {
				ts := ev.SourceTimestamp
				m.LastInteractionAt = &ts
			}

			if err := e.DB.SaveContactMemory(m); err != nil {
				e.Log.Warn("contact memory: save failed", "contact", contactID, "error", err)
			}
		}
	}
}

// RecordApproval merge-increments one rep's approval counters for an action
// type.
func (e *Engine) RecordApproval(ctx context.Context, orgID, userID, actionType string, decision Decision) error {
	switch decision {
	case DecisionApproved, DecisionRejected, DecisionEdited, DecisionAutoApproved:
	default:
		return fmt.Errorf("unknown decision %q", decision)
	}
	if actionType == "" {
		return fmt.Errorf("action type required")
	}

	m, err := e.DB.GetOrCreateRepMemory(orgID, userID)
	if err != nil {
		return fmt.Errorf("load rep memory: %w", err)
	}
	if m.ApprovalStats == nil {
		m.ApprovalStats = map[string]store.ApprovalCounter{}
	}

	c := m.ApprovalStats[actionType]
	c.Total++
	switch decision {
	case DecisionApproved:
		c.Approved++
	case DecisionRejected:
		c.Rejected++
	case DecisionEdited:
		c.Edited++
	case DecisionAutoApproved:
		c.AutoApproved++
	}
	m.ApprovalStats[actionType] = c

	return e.DB.SaveRepMemory(m)
}

// CoachingSample carries one interaction's measured coaching metrics. Nil
// fields were not measured this time and leave the average untouched.
type CoachingSample struct {
	TalkRatio         *float64
	DiscoveryDepth    *float64
	ObjectionHandling *float64
	FollowupSpeed     *float64
}

// UpdateCoachingMetrics folds a sample into the rep's smoothed averages.
// The first sample of a metric is taken as-is.
func (e *Engine) UpdateCoachingMetrics(ctx context.Context, orgID, userID string, s CoachingSample) error {
	m, err := e.DB.GetOrCreateRepMemory(orgID, userID)
	if err != nil {
		return fmt.Errorf("load rep memory: %w", err)
	}

	if s.TalkRatio != nil {
		m.AvgTalkRatio = ewma(m.AvgTalkRatio, *s.TalkRatio)
	}
	if s.DiscoveryDepth != nil {
		m.AvgDiscoveryDepth = ewma(m.AvgDiscoveryDepth, *s.DiscoveryDepth)
	}
	if s.ObjectionHandling != nil {
		m.AvgObjectionHandling = ewma(m.AvgObjectionHandling, *s.ObjectionHandling)
	}
	if s.FollowupSpeed != nil {
		m.AvgFollowupSpeed = ewma(m.AvgFollowupSpeed, *s.FollowupSpeed)
	}

	return e.DB.SaveRepMemory(m)
}

func ewma(prev *float64, sample float64) *float64 {
	if prev == nil {
		return &sample
	}
	v := coachingAlpha*sample + (1-coachingAlpha)*(*prev)
	return &v
}

func clampStrength(s float64) float64 {
	if s < 0.1 {
		return 0.1
	}
	if s > 1.0 {
		return 1.0
	}
	return s
}
