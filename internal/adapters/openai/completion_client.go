package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mikey/txn-classifier/internal/core"
	"github.com/mikey/txn-classifier/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// CompletionClient implements the core.CompletionClient interface using OpenAI
type CompletionClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewCompletionClient creates a new OpenAI completion client
func NewCompletionClient(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *CompletionClient {
	return &CompletionClient{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Complete sends a prompt and returns the raw response text.
func (c *CompletionClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	prompt = c.textProcessor.ProcessText(prompt, c.maxBodySize*4)

	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &core.MalformedResponseError{Reason: "empty response from OpenAI"}
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		// The model ran out of output tokens mid-JSON; the synthesizer
		// retries once with a compacted prompt.
		return "", core.ErrPromptTooLarge
	}
	return choice.Message.Content, nil
}

// classifyError maps OpenAI API failures onto the pipeline error taxonomy.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return core.ErrQuotaExhausted
		}
		switch apiErr.HTTPStatusCode {
		case 429:
			if strings.Contains(strings.ToLower(apiErr.Message), "quota") {
				return core.ErrQuotaExhausted
			}
			return &core.TransientError{Err: err}
		case 500, 502, 503:
			return &core.TransientError{Err: err}
		case 400:
			if strings.Contains(strings.ToLower(apiErr.Message), "maximum context length") {
				return core.ErrPromptTooLarge
			}
		}
	}
	return fmt.Errorf("openai request failed: %w", err)
}
