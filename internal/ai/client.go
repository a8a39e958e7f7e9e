package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
	"github.com/Ajay6601/docuflow-ai/pkg/circuitbreaker"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
	"github.com/Ajay6601/docuflow-ai/pkg/retry"
)

// GPT-4-turbo style pricing per 1K tokens.
const (
	inputCostPer1K  = 0.01
	outputCostPer1K = 0.03
)

const (
	classifyCharBudget = 12000
	extractCharBudget  = 16000
	summaryCharBudget  = 16000
)

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// Result is everything the classification stage contributes to a document.
type Result struct {
	DocumentType models.DocumentType
	Confidence   float64
	Fields       map[string]any
	Summary      string
	Cost         float64
}

func NewClient(apiKey, model string, temperature float32, maxTokens int, timeout time.Duration) *Client {
	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// Process runs the full classify -> structure -> summarize pass. A
// classification failure fails the whole stage; field extraction and
// summarization degrade individually so a usable type still lands.
func (c *Client) Process(ctx context.Context, text string) (*Result, error) {
	result := &Result{DocumentType: models.TypeUnknown}

	docType, confidence, cost, err := c.classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	result.DocumentType = docType
	result.Confidence = confidence
	result.Cost += cost

	fields, cost, err := c.extractFields(ctx, text, docType)
	if err != nil {
		logger.Warn("Structured field extraction failed", zap.Error(err))
	} else {
		result.Fields = fields
		result.Cost += cost
	}

	summary, cost, err := c.summarize(ctx, text)
	if err != nil {
		logger.Warn("Summary generation failed", zap.Error(err))
	} else {
		result.Summary = summary
		result.Cost += cost
	}

	logger.Info("AI processing completed",
		zap.String("document_type", string(result.DocumentType)),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("cost_usd", result.Cost),
	)
	return result, nil
}

func (c *Client) classify(ctx context.Context, text string) (models.DocumentType, float64, float64, error) {
	prompt := fmt.Sprintf(`Analyze the following document and classify it into one of these categories:
- invoice: Bills, invoices, payment requests
- contract: Legal agreements, contracts, terms of service
- resume: CVs, resumes, job applications
- receipt: Sales receipts, purchase confirmations
- form: Application forms, questionnaires, surveys
- letter: Business letters, correspondence
- report: Reports, analyses, white papers
- other: Anything else

Document text:
%s

Respond ONLY with a JSON object in this exact format:
{"document_type": "invoice", "confidence": 0.95, "reasoning": "Brief explanation"}`,
		TruncateMiddle(text, classifyCharBudget))

	content, cost, err := c.complete(ctx,
		"You are a document classification expert. Always respond with valid JSON only.",
		prompt, 200)
	if err != nil {
		return models.TypeUnknown, 0, 0, err
	}

	var parsed struct {
		DocumentType string  `json:"document_type"`
		Confidence   float64 `json:"confidence"`
	}
	raw, err := decodeJSON(content, classificationSchema)
	if err != nil {
		return models.TypeUnknown, 0, cost, err
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.TypeUnknown, 0, cost, fmt.Errorf("failed to parse classification: %w", err)
	}

	return models.ParseDocumentType(parsed.DocumentType), parsed.Confidence, cost, nil
}

func (c *Client) extractFields(ctx context.Context, text string, docType models.DocumentType) (map[string]any, float64, error) {
	prompt := fmt.Sprintf(`Extract structured data from this %s document.

Extract these fields: %s

Document text:
%s

Respond ONLY with a JSON object containing the extracted data. If a field is not found, use null.`,
		docType, fieldsFor(docType), TruncateMiddle(text, extractCharBudget))

	content, cost, err := c.complete(ctx,
		"You are a data extraction expert. Extract information accurately and respond with valid JSON only.",
		prompt, c.maxTokens)
	if err != nil {
		return nil, 0, err
	}

	raw, err := decodeJSON(content, fieldsSchema)
	if err != nil {
		return nil, cost, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, cost, fmt.Errorf("failed to parse extracted fields: %w", err)
	}
	return fields, cost, nil
}

func (c *Client) summarize(ctx context.Context, text string) (string, float64, error) {
	prompt := fmt.Sprintf(`Summarize the following document in exactly 3 clear, concise sentences.
Focus on the most important information.

Document text:
%s

Summary:`, TruncateMiddle(text, summaryCharBudget))

	content, cost, err := c.complete(ctx,
		"You are a document summarization expert. Create clear, concise summaries.",
		prompt, 300)
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(content), cost, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		content string
		cost    float64
	)

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: c.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
				Temperature: c.temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return fmt.Errorf("chat completion failed: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("chat completion returned no choices")
			}

			content = resp.Choices[0].Message.Content
			cost = callCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			return nil
		})
	})
	if err != nil {
		return "", 0, err
	}
	return content, cost, nil
}

func callCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*inputCostPer1K + float64(outputTokens)/1000*outputCostPer1K
}
