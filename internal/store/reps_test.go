package store

import (
	"testing"
)

func TestGetOrCreateRepMemory(t *testing.T) {
	db := testDB(t)

	m, err := db.GetOrCreateRepMemory("org-1", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateRepMemory: %v", err)
	}
	if m == nil {
		t.Fatal("expected memory, got nil")
	}
	if m.ApprovalStats != nil {
		t.Errorf("ApprovalStats = %v, want nil for fresh rep", m.ApprovalStats)
	}
	if m.AvgTalkRatio != nil {
		t.Error("expected nil AvgTalkRatio before any scored interaction")
	}

	again, err := db.GetOrCreateRepMemory("org-1", "user-1")
	if err != nil {
		t.Fatalf("second GetOrCreateRepMemory: %v", err)
	}
	if again.ID != m.ID {
		t.Errorf("ID = %s, want %s", again.ID, m.ID)
	}
}

func TestSaveRepMemory(t *testing.T) {
	db := testDB(t)

	m, err := db.GetOrCreateRepMemory("org-1", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateRepMemory: %v", err)
	}

	talk := 0.45
	followup := 6.5
	m.ApprovalStats = map[string]ApprovalCounter{
		"email_send": {Total: 10, Approved: 7, Rejected: 1, Edited: 2},
		"crm_update": {Total: 3, Approved: 3},
	}
	m.AvgTalkRatio = &talk
	m.AvgFollowupSpeed = &followup
	if err := db.SaveRepMemory(m); err != nil {
		t.Fatalf("SaveRepMemory: %v", err)
	}

	got, err := db.GetRepMemory("org-1", "user-1")
	if err != nil {
		t.Fatalf("GetRepMemory: %v", err)
	}
	if got.ApprovalStats["email_send"].Approved != 7 {
		t.Errorf("email_send approved = %d, want 7", got.ApprovalStats["email_send"].Approved)
	}
	if got.ApprovalStats["crm_update"].Rejected != 0 {
		t.Errorf("crm_update rejected = %d, want 0", got.ApprovalStats["crm_update"].Rejected)
	}
	if got.AvgTalkRatio == nil || *got.AvgTalkRatio != 0.45 {
		t.Errorf("AvgTalkRatio = %v, want 0.45", got.AvgTalkRatio)
	}
	if got.AvgDiscoveryDepth != nil {
		t.Error("expected nil AvgDiscoveryDepth, never set")
	}
	if got.AvgFollowupSpeed == nil || *got.AvgFollowupSpeed != 6.5 {
		t.Errorf("AvgFollowupSpeed = %v, want 6.5", got.AvgFollowupSpeed)
	}
}

func TestApprovalCounterRate(t *testing.T) {
	tests := []struct {
		name string
		c    ApprovalCounter
		want float64
	}{
		{"empty", ApprovalCounter{}, 0},
		{"all approved", ApprovalCounter{Total: 4, Approved: 4}, 1.0},
		{"all rejected", ApprovalCounter{Total: 3, Rejected: 3}, 0},
		{"edits count half", ApprovalCounter{Total: 6, Approved: 3, Rejected: 1, Edited: 2}, (3.0 + 1.0) / 6.0},
		{"auto approvals count full", ApprovalCounter{Total: 4, Approved: 1, AutoApproved: 3}, 1.0},
	}
	for _, tt := range tests {
		if got := tt.c.Rate(); got != tt.want {
			t.Errorf("%s: Rate() = %f, want %f", tt.name, got, tt.want)
		}
	}
}
