package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pipewise/dealmem/internal/metrics"
)

// DecayResult reports one decay pass. Skipped covers contacts that were too
// recently touched to decay, already at the floor, or never interacted with.
type DecayResult struct {
	Updated int
	Skipped int
}

// decayMultiplier maps days since last interaction to the strength
// multiplier bracket. Under a week is free; past two months costs 15% per
// pass.
func decayMultiplier(days float64) float64 {
	switch {
	case days < 7:
		return 1.0
	case days < 14:
		return 0.98
	case days < 30:
		return 0.95
	case days < 60:
		return 0.90
	default:
		return 0.85
	}
}

// DecayContacts applies one decay pass over an org's contacts. The normal
// path is a single bulk UPDATE with the bracket schedule in SQL; if that
// fails the pass falls back to computing multipliers here and rewriting
// contacts in bounded parallel batches. Never errors: a failed pass is a
// logged no-op and the next scheduled pass retries.
func (e *Engine) DecayContacts(ctx context.Context, orgID string) DecayResult {
	start := time.Now()
	now := start.UnixMilli()

	total, err := e.DB.CountContactMemories(orgID)
	if err != nil {
		e.Log.Warn("decay: contact count unavailable", "org", orgID, "error", err)
	}

	updated, err := e.DB.DecayContacts(orgID, now)
	if err != nil {
		e.Log.Warn("decay: bulk update failed, falling back to per-contact writes",
			"org", orgID, "error", err)
		return e.decayPerContact(orgID, now, start)
	}

	e.Metrics.RecordItems(metrics.OpDecay, time.Since(start), int(updated))
	skipped := total - int(updated)
	if skipped < 0 {
		skipped = 0
	}
	e.Log.Info("decay pass complete", "org", orgID, "updated", updated, "skipped", skipped)
	return DecayResult{Updated: int(updated), Skipped: skipped}
}

func (e *Engine) decayPerContact(orgID string, now int64, started time.Time) DecayResult {
	rows, err := e.DB.ListContactMemories(orgID)
	if err != nil {
		e.Log.Error("decay: contact list unavailable", "org", orgID, "error", err)
		return DecayResult{}
	}

	type write struct {
		id       string
		strength float64
	}
	var writes []write
	skipped := 0

	for i := range rows {
		m := &rows[i]
		if m.LastInteractionAt == nil {
			skipped++
			continue
		}
		days := float64(now-*m.LastInteractionAt) / float64(dayMillis)
		mult := decayMultiplier(days)
		if mult == 1.0 {
			skipped++
			continue
		}
		next := math.Max(0.1, m.RelationshipStrength*mult)
		if next == m.RelationshipStrength {
			// already at the floor
			skipped++
			continue
		}
		writes = append(writes, write{m.ID, next})
	}

	updated := 0
	var mu sync.Mutex
	for from := 0; from < len(writes); from += e.Cfg.DecayBatchSize {
		to := from + e.Cfg.DecayBatchSize
		if to > len(writes) {
			to = len(writes)
		}

		var wg sync.WaitGroup
		for _, w := range writes[from:to] {
			wg.Add(1)
			go func(w write) {
				defer wg.Done()
				if err := e.DB.UpdateContactStrength(w.id, w.strength, now); err != nil {
					e.Log.Warn("decay: contact update failed", "contact", w.id, "error", err)
					return
				}
				mu.Lock()
				updated++
				mu.Unlock()
			}(w)
		}
		wg.Wait()
	}

	e.Metrics.RecordItems(metrics.OpDecay, time.Since(started), updated)
	e.Log.Info("decay pass complete (per-contact)", "org", orgID, "updated", updated, "skipped", skipped)
	return DecayResult{Updated: updated, Skipped: skipped}
}
