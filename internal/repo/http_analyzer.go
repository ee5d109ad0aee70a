package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-phiguard/internal/models"
	"github.com/miradorstack/mirador-phiguard/internal/resilience"
)

// HTTPAnalyzer posts cleaned text to a self-hosted inference endpoint.
type HTTPAnalyzer struct {
	baseURL    string
	path       string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAnalyzer constructs a client targeting baseURL + analyzePath.
func NewHTTPAnalyzer(baseURL, analyzePath, model, apiKey string, timeout time.Duration) *HTTPAnalyzer {
	if analyzePath == "" {
		analyzePath = "/v1/analyze"
	}
	return &HTTPAnalyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    analyzePath,
		model:   model,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Analyze submits cleaned text and decodes the analysis.
func (c *HTTPAnalyzer) Analyze(ctx context.Context, cleaned string) (models.AnalysisResult, error) {
	if c == nil {
		return models.AnalysisResult{}, resilience.Terminal(CodeInvalidRequest, fmt.Errorf("analyzer client not initialised"))
	}
	if c.baseURL == "" {
		return models.AnalysisResult{}, resilience.Terminal(CodeInvalidRequest, fmt.Errorf("analyzer base URL not configured"))
	}

	payload := map[string]interface{}{
		"text": cleaned,
	}
	if c.model != "" {
		payload["model"] = c.model
	}

	var response struct {
		Content      string            `json:"content"`
		Model        string            `json:"model"`
		FinishReason string            `json:"finish_reason"`
		Attributes   map[string]string `json:"attributes"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.path), payload, &response); err != nil {
		return models.AnalysisResult{}, err
	}
	if strings.TrimSpace(response.Content) == "" {
		return models.AnalysisResult{}, resilience.Retryable(CodeEmptyResponse, fmt.Errorf("analyzer returned empty content"))
	}
	return models.AnalysisResult{
		Content:      response.Content,
		Model:        firstNonEmpty(response.Model, c.model),
		FinishReason: response.FinishReason,
		Attributes:   response.Attributes,
	}, nil
}

func (c *HTTPAnalyzer) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *HTTPAnalyzer) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return resilience.Terminal(CodeInvalidRequest, fmt.Errorf("marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return resilience.Terminal(CodeInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, statusError("analyzer", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resilience.Retryable(CodeDecode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
