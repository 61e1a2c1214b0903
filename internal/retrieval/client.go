// Package retrieval talks to the semantic retrieval service that answers
// natural-language questions over an org's interaction corpus. The engine
// treats it as best-effort: every failure degrades to an empty result.
package retrieval

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pipewise/dealmem/internal/config"
)

// Filters scope a retrieval question. An empty OwnerID deliberately widens
// the search to the whole team's interactions; zero times mean unbounded.
type Filters struct {
	OrgID     string
	DealID    string
	ContactID string
	OwnerID   string
	From      time.Time
	To        time.Time
}

// Question is one entry in a batch query.
type Question struct {
	Text      string
	Filters   Filters
	MaxTokens int
}

// Source is one provenance entry behind an answer.
type Source struct {
	ID         string `json:"id"`
	SourceType string `json:"source_type"`
	Title      string `json:"title"`
	Timestamp  string `json:"timestamp"`
	Snippet    string `json:"snippet"`
}

// ResultMetadata carries per-query diagnostics.
type ResultMetadata struct {
	LatencyMs      int  `json:"latency_ms"`
	ChunksSearched int  `json:"chunks_searched"`
	Failed         bool `json:"failed,omitempty"`
	CacheHit       bool `json:"cache_hit,omitempty"`
}

// Result is the answer to one retrieval question. Failed results have an
// empty answer and Metadata.Failed set; callers treat them like "nothing
// found".
type Result struct {
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Sources  []Source       `json:"sources,omitempty"`
	Metadata ResultMetadata `json:"metadata"`
}

// Service is what the engine depends on; Client implements it against the
// real endpoint, Mock against canned answers.
type Service interface {
	Query(ctx context.Context, question string, f Filters, maxTokens int) *Result
	QueryBatch(ctx context.Context, questions []Question) []*Result
}

// Client queries the retrieval service over HTTP with an instance-scoped
// circuit breaker and result cache.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	log      *slog.Logger
	breaker  *breaker
	cache    *lru.Cache[string, *Result]
}

// New builds a Client. The endpoint is the one piece of configuration
// without which nothing works, so its absence is the one error.
func New(cfg config.RetrievalConfig, log *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("retrieval endpoint not configured")
	}

	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *Result](size)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
		log:      log,
		breaker:  newBreaker(3, 60*time.Second),
		cache:    cache,
	}, nil
}

// Query answers one question. It never returns an error: transport, HTTP and
// decode failures all log a warning and come back as an empty failed result.
func (c *Client) Query(ctx context.Context, question string, f Filters, maxTokens int) *Result {
	key := cacheKey(question, f)
	if cached, ok := c.cache.Get(key); ok {
		hit := *cached
		hit.Metadata.CacheHit = true
		return &hit
	}

	if !c.breaker.allow() {
		c.log.Debug("retrieval circuit open, skipping query", "question", question)
		return emptyResult(question)
	}

	result, err := c.do(ctx, question, f, maxTokens)
	if err != nil {
		c.breaker.record(false)
		c.log.Warn("retrieval query failed", "question", question, "error", err)
		return emptyResult(question)
	}

	c.breaker.record(true)
	c.cache.Add(key, result)
	return result
}

// QueryBatch answers questions sequentially through the shared breaker,
// returning one result per question in order.
func (c *Client) QueryBatch(ctx context.Context, questions []Question) []*Result {
	results := make([]*Result, len(questions))
	for i, q := range questions {
		results[i] = c.Query(ctx, q.Text, q.Filters, q.MaxTokens)
	}
	return results
}

type queryRequest struct {
	Question  string      `json:"question"`
	Filters   wireFilters `json:"filters"`
	MaxTokens int         `json:"max_tokens,omitempty"`
}

type wireFilters struct {
	OrgID     string `json:"org_id,omitempty"`
	DealID    string `json:"deal_id,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

type queryResponse struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Metadata struct {
		LatencyMs      int `json:"latency_ms"`
		ChunksSearched int `json:"chunks_searched"`
	} `json:"metadata"`
}

func (c *Client) do(ctx context.Context, question string, f Filters, maxTokens int) (*Result, error) {
	wf := wireFilters{
		OrgID:     f.OrgID,
		DealID:    f.DealID,
		ContactID: f.ContactID,
		OwnerID:   f.OwnerID,
	}
	if !f.From.IsZero() {
		wf.From = f.From.UTC().Format(time.RFC3339)
	}
	if !f.To.IsZero() {
		wf.To = f.To.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(queryRequest{Question: question, Filters: wf, MaxTokens: maxTokens})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval api status %d: %s", resp.StatusCode, respBody)
	}

	var decoded queryResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Result{
		Question: question,
		Answer:   decoded.Answer,
		Sources:  decoded.Sources,
		Metadata: ResultMetadata{
			LatencyMs:      decoded.Metadata.LatencyMs,
			ChunksSearched: decoded.Metadata.ChunksSearched,
		},
	}, nil
}

func emptyResult(question string) *Result {
	return &Result{Question: question, Metadata: ResultMetadata{Failed: true}}
}

// cacheKey hashes the question with its canonical filter form. MaxTokens is
// excluded: a cached longer answer serves a shorter ask.
func cacheKey(question string, f Filters) string {
	h := sha256.New()
	io.WriteString(h, question)
	fmt.Fprintf(h, "|%s|%s|%s|%s|%d|%d",
		f.OrgID, f.DealID, f.ContactID, f.OwnerID, f.From.Unix(), f.To.Unix())
	return hex.EncodeToString(h.Sum(nil))
}

// EstimateTokens approximates token count as ceil(len/4). Good enough for
// budget arithmetic; never used for billing.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// TruncateToTokenBudget fits results into maxTokens by greedy in-order
// allocation. Only answer text is ever cut (sources stay intact); results
// past the budget are dropped. Inputs are not mutated.
func TruncateToTokenBudget(results []*Result, maxTokens int) []*Result {
	if maxTokens <= 0 {
		return nil
	}

	var fitted []*Result
	remaining := maxTokens
	for _, r := range results {
		if r == nil {
			continue
		}
		cost := EstimateTokens(r.Answer)
		if cost <= remaining {
			fitted = append(fitted, r)
			remaining -= cost
			continue
		}
		if remaining == 0 {
			break
		}
		cut := *r
		cut.Answer = truncateString(r.Answer, remaining*4)
		fitted = append(fitted, &cut)
		remaining = 0
	}
	return fitted
}

// truncateString cuts at a byte limit without splitting a UTF-8 sequence.
func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
