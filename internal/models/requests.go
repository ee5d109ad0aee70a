package models

// AnalysisResult is what the downstream text-analysis service returns for cleaned text.
type AnalysisResult struct {
	Content      string            `json:"content"`
	Model        string            `json:"model,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// FallbackResponse replaces a result when the protected call cannot complete.
// Category is a stable machine-readable code and Message is safe to show to end users.
type FallbackResponse struct {
	Category  string `json:"category"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// StructuredResult is the outcome of one Analyze invocation. Exactly one of Analysis or
// Fallback is set.
type StructuredResult struct {
	CorrelationID string            `json:"correlation_id"`
	Success       bool              `json:"success"`
	Analysis      *AnalysisResult   `json:"analysis,omitempty"`
	Fallback      *FallbackResponse `json:"fallback,omitempty"`
	Redactions    int               `json:"redactions"`
	Attempts      int               `json:"attempts"`
	DurationMs    int64             `json:"duration_ms"`
}
