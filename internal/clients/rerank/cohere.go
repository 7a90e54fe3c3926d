package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

const (
	defaultCohereBaseURL     = "https://api.cohere.com"
	defaultCohereRerankModel = "rerank-v3.5"
	defaultCohereTimeoutSecs = 15
)

// cohereReranker posts candidates to the Cohere v2 rerank endpoint. It does
// not retry: callers fall back to fusion order when a call fails, so a
// second attempt only adds answer-path latency.
type cohereReranker struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

type cohereHTTPError struct {
	StatusCode int
	Body       string
}

func (e *cohereHTTPError) Error() string {
	return fmt.Sprintf("cohere error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *cohereHTTPError) HTTPStatusCode() int {
	return e.StatusCode
}

func newCohereReranker(log *logger.Logger) (Reranker, error) {
	apiKey := strings.TrimSpace(os.Getenv("COHERE_API_KEY"))
	if apiKey == "" {
		return nil, &BootstrapError{
			Code:    BootstrapErrorMissingAPIKey,
			Message: "COHERE_API_KEY is required when RERANK_PROVIDER=cohere",
		}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("COHERE_BASE_URL")), "/")
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}

	model := strings.TrimSpace(os.Getenv("COHERE_RERANK_MODEL"))
	if model == "" {
		model = defaultCohereRerankModel
	}

	timeoutSecs := defaultCohereTimeoutSecs
	if raw := strings.TrimSpace(os.Getenv("COHERE_TIMEOUT_SECONDS")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, &BootstrapError{
				Code:    BootstrapErrorInvalidTimeout,
				Message: fmt.Sprintf("COHERE_TIMEOUT_SECONDS must be a positive integer, got %q", raw),
			}
		}
		timeoutSecs = parsed
	}

	return &cohereReranker{
		log:     log.With("client", "cohere_rerank"),
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second},
	}, nil
}

func (c *cohereReranker) Name() string { return ProviderCohere }

func (c *cohereReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if c == nil {
		return nil, fmt.Errorf("cohere reranker unavailable")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	reqBody := cohereRerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/rerank", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("read rerank response: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &cohereHTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var decoded cohereRerankResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return nil, fmt.Errorf("cohere rerank returned no results")
	}

	out := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			c.log.Warn("Cohere rerank returned out-of-range index", "index", r.Index, "documents", len(documents))
			continue
		}
		out = append(out, Result{Index: r.Index, Score: r.RelevanceScore})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("cohere rerank returned no usable results")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}
