package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/txn-classifier/internal/core"
	"github.com/mikey/txn-classifier/internal/utils"
	"go.uber.org/zap"
)

// CompletionClient implements the core.CompletionClient interface using
// Amazon Bedrock
type CompletionClient struct {
	client        *bedrockruntime.Client
	modelID       string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewCompletionClient creates a new Bedrock completion client
func NewCompletionClient(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *CompletionClient {
	return &CompletionClient{
		client:        client,
		modelID:       modelID,
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

	// Create the request based on the model
	var payload []byte
	var err error

	if c.isAnthropicModel() {
		// Anthropic Claude models
		payload, err = json.Marshal(map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"system":            system,
			"messages": []map[string]interface{}{
				{"role": "user", "content": prompt},
			},
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	} else if c.isAmazonTitanModel() {
		// Amazon Titan models
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": system + "\n\n" + prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
				"topP":          c.topP,
			},
		})
	} else {
		// Default to a generic format
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":      system + "\n\n" + prompt,
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	}

	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", classifyError(err)
	}

	return c.responseText(resp.Body)
}

// responseText extracts the generated text from a model-specific response body.
func (c *CompletionClient) responseText(body []byte) (string, error) {
	if c.isAnthropicModel() {
		var claudeResp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", &core.MalformedResponseError{Reason: "failed to unmarshal Claude response", Raw: string(body)}
		}
		if claudeResp.StopReason == "max_tokens" {
			return "", core.ErrPromptTooLarge
		}
		if len(claudeResp.Content) == 0 {
			return "", &core.MalformedResponseError{Reason: "empty response from Claude model"}
		}
		return claudeResp.Content[0].Text, nil
	}

	if c.isAmazonTitanModel() {
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", &core.MalformedResponseError{Reason: "failed to unmarshal Titan response", Raw: string(body)}
		}
		if len(titanResp.Results) == 0 {
			return "", &core.MalformedResponseError{Reason: "empty response from Titan model"}
		}
		return titanResp.Results[0].OutputText, nil
	}

	// Try a generic approach
	var genericResp struct {
		Output   string `json:"output"`
		Text     string `json:"text"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &genericResp); err != nil {
		return "", &core.MalformedResponseError{Reason: "failed to unmarshal generic response", Raw: string(body)}
	}

	switch {
	case genericResp.Output != "":
		return genericResp.Output, nil
	case genericResp.Text != "":
		return genericResp.Text, nil
	case genericResp.Response != "":
		return genericResp.Response, nil
	default:
		return string(body), nil
	}
}

// isAnthropicModel checks if the model is an Anthropic Claude model
func (c *CompletionClient) isAnthropicModel() bool {
	return strings.HasPrefix(c.modelID, "anthropic.claude")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (c *CompletionClient) isAmazonTitanModel() bool {
	return strings.HasPrefix(c.modelID, "amazon.titan")
}

// classifyError maps Bedrock API failures onto the pipeline error taxonomy.
func classifyError(err error) error {
	var throttled interface{ ErrorCode() string }
	if errors.As(err, &throttled) {
		switch throttled.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return &core.TransientError{Err: err}
		case "ServiceQuotaExceededException":
			return core.ErrQuotaExhausted
		case "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException":
			return &core.TransientError{Err: err}
		case "ValidationException":
			if strings.Contains(strings.ToLower(err.Error()), "too long") {
				return core.ErrPromptTooLarge
			}
		}
	}
	return fmt.Errorf("failed to invoke Bedrock model: %w", err)
}
