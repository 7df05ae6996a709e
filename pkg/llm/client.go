// Package llm provides the OpenAI-compatible vision client used to extract
// text from images.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const extractPrompt = "Transcribe all legible text in this image exactly as written. " +
	"Preserve line breaks. Reply with the text only; reply with nothing if the image contains no text."

// Client provides access to an OpenAI-compatible vision endpoint.
type Client struct {
	client   *openai.Client
	endpoint string
	model    string
	logger   *zap.Logger
}

// Config holds configuration for creating a Client.
type Config struct {
	Endpoint string // Base URL, e.g., "https://api.openai.com/v1"
	Model    string // Vision-capable model name, e.g., "gpt-4o"
	APIKey   string // Optional for local endpoints
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		logger:   logger.Named("llm"),
	}, nil
}

// ExtractText sends the image to the vision model and returns the transcribed text.
// The call is not interruptible once the request is in flight beyond what ctx allows.
func (c *Client) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	c.logger.Debug("OCR request",
		zap.String("model", c.model),
		zap.String("mime", mimeType),
		zap.Int("image_bytes", len(image)))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: extractPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURI,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		c.logger.Error("OCR request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", c.parseError(err)
	}

	if len(resp.Choices) == 0 {
		return "", NewErrorWithContext(ErrorTypeUnknown, "no choices in response", false, nil, c.model, c.endpoint, 0)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)

	c.logger.Info("OCR request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("text_len", len(text)),
		zap.Duration("elapsed", time.Since(start)))

	return text, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) parseError(err error) error {
	e := ClassifyError(err)
	if e.Model == "" {
		e.Model = c.model
	}
	if e.Endpoint == "" {
		e.Endpoint = c.endpoint
	}
	return e
}
