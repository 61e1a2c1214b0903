package llm

import "fmt"

// ExtractionPrompt builds the system and user prompts for structuring one
// extraction category. retrieved holds the raw retrieval answers, dedup the
// "[id] type: summary" lines of recent active events, and typeDocs the valid
// event types with their expected detail fields.
func ExtractionPrompt(category, retrieved, dedup, typeDocs string) (system, user string) {
	system = `You are a deal-event extraction system for B2B sales. You turn retrieved
interaction content into typed, structured deal events.

Rules:
- Use ONLY the event types listed under VALID EVENT TYPES
- Every event needs a one-sentence summary written in plain past tense
- detail must follow the field hints given for the chosen type; omit fields you cannot ground
- confidence is your honest probability (0.0-1.0) that the event is real and correctly typed
- salience is "high" for deal-changing facts, "medium" for useful context, "low" for background
- contact_ids lists the names of external people involved, exactly as they appear in the content
- If an event restates or updates one listed under KNOWN ACTIVE EVENTS, set
  supersedes_event_id to that event's id; otherwise omit it
- Do NOT re-extract a known active event that has not changed
- If nothing worth extracting, return: []
- Return ONLY a JSON array, no other text`

	user = fmt.Sprintf(`CATEGORY: %s

RETRIEVED CONTENT:
%s

KNOWN ACTIVE EVENTS (last 30 days):
%s

VALID EVENT TYPES:
%s

Return a JSON array:
[{
  "event_type": "one of the valid types",
  "summary": "one sentence, past tense",
  "detail": {},
  "verbatim_quote": "exact supporting quote or empty",
  "speaker": "who said it or empty",
  "confidence": 0.0,
  "salience": "high|medium|low",
  "contact_ids": ["names of external people"],
  "supersedes_event_id": "id from KNOWN ACTIVE EVENTS or omit"
}]`, category, retrieved, dedup, typeDocs)

	return system, user
}

// SnapshotPrompt builds the system and user prompts for synthesizing a deal
// snapshot from the full event log, the previous narrative, and retrieved
// context.
func SnapshotPrompt(prevNarrative, eventLog, ragBlock string) (system, user string) {
	system = `You are a deal-memory synthesist for B2B sales. You compress a deal's full
event history into one structured snapshot a seller can absorb in a minute.

Rules:
- Ground every claim in the EVENT LOG; the RETRIEVED CONTEXT adds color, not facts
- The narrative continues the PREVIOUS NARRATIVE where one exists: carry forward
  what still holds, revise what changed, never contradict without saying what changed
- narrative is 150-300 words, written for the seller ("you"), newest developments first
- key_facts holds only facts stated in events; leave unknown fields empty
- risk_assessment.overall_score is 0.0 (safe) to 1.0 (deal in danger)
- sentiment_trajectory has one point per meaningful shift, oldest first, score -1.0 to 1.0
- open_commitments carries forward every commitment still pending, with its event_id
- Return ONLY a JSON object, no other text`

	user = fmt.Sprintf(`PREVIOUS NARRATIVE:
%s

EVENT LOG (oldest first):
%s

RETRIEVED CONTEXT:
%s

Return a JSON object:
{
  "narrative": "150-300 words",
  "key_facts": {
    "close_date": "", "amount": "", "stage": "", "champion": "",
    "blockers": [], "competitors": [], "open_commitments_count": 0
  },
  "stakeholder_map": [{"name": "", "role": "", "influence": "high|medium|low", "disposition": "champion|positive|neutral|skeptic|blocker"}],
  "risk_assessment": {"overall_score": 0.0, "factors": [{"description": "", "severity": "high|medium|low", "event_id": ""}]},
  "sentiment_trajectory": [{"date": "YYYY-MM-DD", "score": 0.0, "note": ""}],
  "open_commitments": [{"event_id": "", "owner": "", "action": "", "deadline": "", "status": "pending"}]
}`, prevNarrative, eventLog, ragBlock)

	return system, user
}
