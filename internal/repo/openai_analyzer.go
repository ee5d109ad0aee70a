package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/miradorstack/mirador-phiguard/internal/models"
	"github.com/miradorstack/mirador-phiguard/internal/resilience"
)

const defaultSystemPrompt = "You are a clinical documentation assistant. Identifiers in the text have been replaced with bracketed placeholders; never attempt to reconstruct them."

// OpenAIConfig configures the chat-completion analyzer.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	Temperature  float32
	MaxTokens    int
}

// OpenAIAnalyzer sends cleaned text to an OpenAI-compatible chat completion endpoint.
type OpenAIAnalyzer struct {
	client       *openai.Client
	model        string
	systemPrompt string
	temperature  float32
	maxTokens    int
	logger       *slog.Logger
}

// NewOpenAIAnalyzer constructs the analyzer. BaseURL may point at any OpenAI-compatible server.
func NewOpenAIAnalyzer(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	return &OpenAIAnalyzer{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: prompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		logger:       logger,
	}, nil
}

// Analyze requests one completion for cleaned.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, cleaned string) (models.AnalysisResult, error) {
	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: a.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: cleaned},
		},
		Temperature: a.temperature,
	}
	if a.maxTokens > 0 {
		req.MaxCompletionTokens = a.maxTokens
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.AnalysisResult{}, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return models.AnalysisResult{}, resilience.Retryable(CodeEmptyResponse, errors.New("openai returned no choices"))
	}

	choice := resp.Choices[0]
	a.logger.Debug("openai completion received", slog.String("model", resp.Model), slog.String("finish_reason", string(choice.FinishReason)))
	return models.AnalysisResult{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Attributes: map[string]string{
			"prompt_tokens":     strconv.Itoa(resp.Usage.PromptTokens),
			"completion_tokens": strconv.Itoa(resp.Usage.CompletionTokens),
		},
	}, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return classifyStatus(apiErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return classifyStatus(reqErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	return classifyTransport(err)
}
