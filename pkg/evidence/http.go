package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/resilience"
)

// HTTPService queries a retrieval server:
// POST {base}/search {query, namespaces, k} → {hits:[{namespace, text, meta, similarity}]}.
type HTTPService struct {
	baseURL string
	client  *http.Client
	retry   resilience.RetryConfig
}

// NewHTTPService creates a client. Transient failures are retried with
// retry; use WithMaxAttempts(1) to disable.
func NewHTTPService(baseURL string, timeout time.Duration, retry resilience.RetryConfig) *HTTPService {
	return &HTTPService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
	}
}

type searchRequest struct {
	Query      string   `json:"query"`
	Namespaces []string `json:"namespaces"`
	K          int      `json:"k"`
}

type searchResponse struct {
	Hits []searchHit `json:"hits"`
}

type searchHit struct {
	Namespace  string   `json:"namespace"`
	Role       string   `json:"role"`
	Text       string   `json:"text"`
	Meta       hitMeta  `json:"meta"`
	Similarity float64  `json:"similarity"`
	Sim        *float64 `json:"sim,omitempty"`
}

type hitMeta struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Source string   `json:"source"`
	Date   string   `json:"date"`
	Tags   []string `json:"tags"`
	Score  float64  `json:"score"`
}

// Search implements Service.
func (s *HTTPService) Search(ctx context.Context, query, namespace string, k int) ([]core.Evidence, error) {
	body, err := json.Marshal(searchRequest{Query: query, Namespaces: []string{namespace}, K: k})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}
	resp, err := resilience.DoValue(ctx, s.retry, func(ctx context.Context) (*searchResponse, error) {
		return s.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}

	out := make([]core.Evidence, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		ns := h.Namespace
		if ns == "" {
			ns = h.Role
		}
		if ns == "" {
			ns = namespace
		}
		score := h.Similarity
		if h.Sim != nil && score == 0 {
			score = *h.Sim
		}
		out = append(out, core.Evidence{
			ID:        h.Meta.ID,
			Text:      h.Text,
			Source:    sourceLabel(h.Meta.Title, h.Meta.Source),
			Date:      strings.TrimSpace(h.Meta.Date),
			Score:     score,
			Namespace: ns,
		})
	}
	return out, nil
}

func (s *HTTPService) post(ctx context.Context, body []byte) (*searchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeEvidenceError, "evidence search failed", err).WithRecoverable(ctx.Err() == nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, errors.New(errors.CodeEvidenceError,
			fmt.Sprintf("evidence service returned status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(snippet)))).
			WithRecoverable(resp.StatusCode >= 500)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.New(errors.CodeEvidenceError, "failed to decode evidence response", err)
	}
	return &decoded, nil
}

// Ping checks GET {base}/health.
func (s *HTTPService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("evidence health returned status %d", resp.StatusCode)
	}
	return nil
}

// sourceLabel prefers the document title over the raw source.
func sourceLabel(title, source string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return strings.TrimSpace(source)
}
