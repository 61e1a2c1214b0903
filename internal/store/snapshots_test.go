package store

import (
	"testing"
)

func TestInsertAndLatestSnapshot(t *testing.T) {
	db := testDB(t)

	s := &Snapshot{
		ID:        "snap-001",
		OrgID:     "org-1",
		DealID:    "deal-1",
		Narrative: "Deal progressing well. Legal review is the main blocker.",
		KeyFacts: KeyFacts{
			CloseDate:            "2024-03-15",
			Amount:               "450k USD",
			Stage:                "negotiation",
			Champion:             "Maria Chen",
			Blockers:             []string{"legal review"},
			Competitors:          []string{"Clari"},
			OpenCommitmentsCount: 2,
		},
		StakeholderMap: []Stakeholder{
			{Name: "Maria Chen", Role: "VP Sales", Influence: "high", Disposition: "champion"},
			{Name: "Tom Abbott", Role: "CFO", Influence: "high", Disposition: "skeptic"},
		},
		RiskAssessment: RiskAssessment{
			OverallScore: 0.35,
			Factors: []RiskFactor{
				{Description: "CFO unconvinced on ROI", Severity: "medium", EventID: "ev-12"},
			},
		},
		SentimentTrajectory: []SentimentPoint{
			{Date: "2024-01-10", Score: 0.2},
			{Date: "2024-02-01", Score: 0.6, Note: "demo landed well"},
		},
		OpenCommitments: []Commitment{
			{EventID: "ev-7", Owner: "rep", Action: "send security docs", Deadline: "2024-02-10", Status: CommitmentPending},
		},
		EventsIncludedThrough: 1700000000000,
		EventCount:            23,
		GeneratedBy:           GeneratedOnDemand,
		ModelUsed:             "claude-sonnet-4-5",
	}
	if err := db.InsertSnapshot(s); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}
	if s.CreatedAt == 0 {
		t.Error("expected created_at to be set")
	}

	got, err := db.LatestSnapshot("deal-1", "org-1")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if got.Narrative != s.Narrative {
		t.Errorf("Narrative = %q, want %q", got.Narrative, s.Narrative)
	}
	if got.KeyFacts.Champion != "Maria Chen" {
		t.Errorf("Champion = %q, want Maria Chen", got.KeyFacts.Champion)
	}
	if got.KeyFacts.OpenCommitmentsCount != 2 {
		t.Errorf("OpenCommitmentsCount = %d, want 2", got.KeyFacts.OpenCommitmentsCount)
	}
	if len(got.StakeholderMap) != 2 || got.StakeholderMap[1].Disposition != "skeptic" {
		t.Errorf("StakeholderMap = %+v", got.StakeholderMap)
	}
	if got.RiskAssessment.OverallScore != 0.35 || len(got.RiskAssessment.Factors) != 1 {
		t.Errorf("RiskAssessment = %+v", got.RiskAssessment)
	}
	if len(got.SentimentTrajectory) != 2 || got.SentimentTrajectory[1].Note != "demo landed well" {
		t.Errorf("SentimentTrajectory = %+v", got.SentimentTrajectory)
	}
	if len(got.OpenCommitments) != 1 || got.OpenCommitments[0].Status != CommitmentPending {
		t.Errorf("OpenCommitments = %+v", got.OpenCommitments)
	}
	if got.EventsIncludedThrough != 1700000000000 {
		t.Errorf("EventsIncludedThrough = %d", got.EventsIncludedThrough)
	}
	if got.GeneratedBy != GeneratedOnDemand {
		t.Errorf("GeneratedBy = %q, want on_demand", got.GeneratedBy)
	}

	// Unknown deal
	missing, err := db.LatestSnapshot("deal-ghost", "org-1")
	if err != nil {
		t.Fatalf("LatestSnapshot missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unsnapshotted deal")
	}
}

func TestLatestSnapshotPicksNewest(t *testing.T) {
	db := testDB(t)

	for i, id := range []string{"snap-a", "snap-b", "snap-c"} {
		s := &Snapshot{
			ID:                    id,
			OrgID:                 "org-1",
			DealID:                "deal-1",
			EventsIncludedThrough: int64(1000 * (i + 1)),
			EventCount:            i + 1,
			GeneratedBy:           GeneratedScheduled,
			CreatedAt:             int64(1000 * (i + 1)),
		}
		if err := db.InsertSnapshot(s); err != nil {
			t.Fatalf("InsertSnapshot %s: %v", id, err)
		}
	}

	got, err := db.LatestSnapshot("deal-1", "org-1")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if got.ID != "snap-c" {
		t.Errorf("latest = %s, want snap-c", got.ID)
	}
	if got.EventsIncludedThrough != 3000 {
		t.Errorf("watermark = %d, want 3000", got.EventsIncludedThrough)
	}
}

func TestListSnapshots(t *testing.T) {
	db := testDB(t)

	for i, id := range []string{"snap-a", "snap-b", "snap-c"} {
		s := &Snapshot{
			ID:          id,
			OrgID:       "org-1",
			DealID:      "deal-1",
			GeneratedBy: GeneratedEventThreshold,
			CreatedAt:   int64(1000 * (i + 1)),
		}
		if err := db.InsertSnapshot(s); err != nil {
			t.Fatalf("InsertSnapshot %s: %v", id, err)
		}
	}

	all, err := db.ListSnapshots("deal-1", "org-1", 0)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(all) != 3 || all[0].ID != "snap-a" || all[2].ID != "snap-c" {
		t.Errorf("snapshots = %v, want snap-a..snap-c oldest first", snapshotIDs(all))
	}

	limited, err := db.ListSnapshots("deal-1", "org-1", 2)
	if err != nil {
		t.Fatalf("ListSnapshots limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited = %d, want 2", len(limited))
	}
}

func snapshotIDs(snapshots []Snapshot) []string {
	ids := make([]string, len(snapshots))
	for i, s := range snapshots {
		ids[i] = s.ID
	}
	return ids
}
