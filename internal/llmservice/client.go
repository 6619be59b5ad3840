package llmservice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"docchat/internal/config"
	"docchat/internal/models"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg  *config.LLMConfig
	http *http.Client
}

func NewClient(cfg *config.LLMConfig) *Client {
	return &Client{
		cfg: cfg,
		// No overall timeout: streamed completions legitimately run long.
		// Cancellation comes from the request context.
		http: &http.Client{},
	}
}

type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
	Stream      bool             `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamCompletion issues a streaming chat completion and hands each content
// chunk to onChunk in arrival order, without buffering the response. A
// failure before the first chunk is returned synchronously as
// CompletionError carrying the upstream message. A mid-stream failure ends
// the stream with no marker; callers cannot tell a cutoff from a clean
// finish, which is the wire contract being preserved. An onChunk error stops
// the relay.
func (c *Client) StreamCompletion(ctx context.Context, messages []models.Message, onChunk func(chunk string) error) error {
	payload := completionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Stream:      true,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return &models.CompletionError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.cfg.BaseURL, "/")+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return &models.CompletionError{Err: err}
	}
	req.Header.Set("Authorization", bearer(c.cfg.Key))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &models.ModelUnavailableError{Model: c.cfg.Model, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &models.CompletionError{
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// Headers are long gone; the partial stream just ends here.
			return &models.CompletionError{Err: err}
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if line == "data: [DONE]" {
			return nil
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onChunk(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

// Generate runs a non-streaming completion through langchaingo, used by the
// local query mode where the whole answer is printed at once.
func (c *Client) Generate(ctx context.Context, messages []models.Message) (string, error) {
	llm, err := openai.New(
		openai.WithBaseURL(c.cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(c.cfg.Key, "Bearer ")),
		openai.WithModel(c.cfg.Model),
	)
	if err != nil {
		return "", &models.ModelUnavailableError{Model: c.cfg.Model, Err: err}
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.MessageContent{
			Role:  chatMessageType(msg.Role),
			Parts: []llms.ContentPart{llms.TextContent{Text: msg.Content}},
		})
	}

	opts := []llms.CallOption{llms.WithTemperature(c.cfg.Temperature)}
	if c.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.cfg.MaxTokens))
	}
	res, err := llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", &models.CompletionError{Err: err}
	}
	if len(res.Choices) == 0 {
		return "", &models.CompletionError{Message: "no choices in completion response"}
	}
	return res.Choices[0].Content, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func bearer(key string) string {
	if strings.HasPrefix(key, "Bearer ") {
		return key
	}
	return "Bearer " + key
}
