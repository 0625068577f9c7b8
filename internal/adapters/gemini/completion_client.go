package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/txn-classifier/internal/core"
	"github.com/mikey/txn-classifier/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

// CompletionClient implements the core.CompletionClient interface using
// Google Gemini
type CompletionClient struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewCompletionClient creates a new Gemini completion client
func NewCompletionClient(
	client *genai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *CompletionClient {
	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &CompletionClient{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Complete sends a prompt and returns the raw response text.
func (c *CompletionClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	prompt = c.textProcessor.ProcessText(prompt, c.maxBodySize*4)
	c.model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &core.MalformedResponseError{Reason: "empty response from Gemini"}
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		return "", core.ErrPromptTooLarge
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

// Close releases the underlying client.
func (c *CompletionClient) Close() error {
	return c.client.Close()
}

// classifyError maps Gemini API failures onto the pipeline error taxonomy.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			if strings.Contains(strings.ToLower(apiErr.Message), "quota") {
				return core.ErrQuotaExhausted
			}
			return &core.TransientError{Err: err}
		case 500, 503:
			return &core.TransientError{Err: err}
		}
	}
	return fmt.Errorf("gemini request failed: %w", err)
}
