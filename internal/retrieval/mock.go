package retrieval

import "context"

// Mock is a test double for the Service interface. Answers are matched by
// question text; unmatched questions get an empty (not failed) result.
type Mock struct {
	Answers map[string]*Result
	Default *Result
	Calls   []Question
}

func (m *Mock) Query(ctx context.Context, question string, f Filters, maxTokens int) *Result {
	m.Calls = append(m.Calls, Question{Text: question, Filters: f, MaxTokens: maxTokens})
	if r, ok := m.Answers[question]; ok {
		return r
	}
	if m.Default != nil {
		r := *m.Default
		r.Question = question
		return &r
	}
	return &Result{Question: question}
}

func (m *Mock) QueryBatch(ctx context.Context, questions []Question) []*Result {
	results := make([]*Result, len(questions))
	for i, q := range questions {
		results[i] = m.Query(ctx, q.Text, q.Filters, q.MaxTokens)
	}
	return results
}
