package taxonomy

import "testing"

func TestRegistryShape(t *testing.T) {
	types := AllTypes()
	if len(types) != 18 {
		t.Errorf("expected 18 event types, got %d", len(types))
	}

	cats := AllCategories()
	if len(cats) != 8 {
		t.Errorf("expected 8 categories, got %d", len(cats))
	}

	// Every type belongs to a category and documents at least one detail field.
	for _, typ := range types {
		cat, ok := CategoryOf(typ)
		if !ok || cat == "" {
			t.Errorf("type %s has no category", typ)
		}
		if len(DetailSchema(typ)) == 0 {
			t.Errorf("type %s has no documented detail fields", typ)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		typ  string
		want string
	}{
		{TypeCommitmentMade, CategoryCommitment},
		{TypeRiskFlag, CategorySignal},
		{TypeMeetingSummary, CategorySignal},
		{TypeSentimentShift, CategorySentiment},
		{TypePricingDiscussed, CategoryCommercial},
		{TypeNextStepAgreed, CategoryTimeline},
	}
	for _, c := range cases {
		got, ok := CategoryOf(c.typ)
		if !ok {
			t.Errorf("CategoryOf(%s): not found", c.typ)
			continue
		}
		if got != c.want {
			t.Errorf("CategoryOf(%s) = %s, want %s", c.typ, got, c.want)
		}
	}

	if _, ok := CategoryOf("made_up_event"); ok {
		t.Error("unknown type should not resolve to a category")
	}
}

func TestTypesFor(t *testing.T) {
	commitment := TypesFor(CategoryCommitment)
	if len(commitment) != 3 {
		t.Errorf("commitment category: expected 3 types, got %d (%v)", len(commitment), commitment)
	}

	if got := TypesFor("nonexistent"); len(got) != 0 {
		t.Errorf("unknown category should have no types, got %v", got)
	}
}

func TestMissingDetailFields(t *testing.T) {
	detail := map[string]any{
		"owner":  "prospect",
		"action": "send security questionnaire",
		"status": "pending",
	}
	missing := MissingDetailFields(TypeCommitmentMade, detail)
	// deadline and explicit are documented but absent
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing fields, got %v", missing)
	}
	if missing[0] != "deadline" || missing[1] != "explicit" {
		t.Errorf("unexpected missing fields: %v", missing)
	}

	// Unknown fields are tolerated, never reported.
	detail["made_up"] = true
	if got := MissingDetailFields(TypeCommitmentMade, detail); len(got) != 2 {
		t.Errorf("unknown fields should not change the missing list, got %v", got)
	}

	// Unknown type: nothing to report.
	if got := MissingDetailFields("made_up_event", detail); got != nil {
		t.Errorf("unknown type should report nil, got %v", got)
	}
}

func TestDetailSchemaIsACopy(t *testing.T) {
	schema := DetailSchema(TypeRiskFlag)
	schema["severity"] = "mutated"
	if DetailSchema(TypeRiskFlag)["severity"] == "mutated" {
		t.Error("DetailSchema must return a copy, not the registry map")
	}
}
