package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/weavel-fastllm/fastllm/errors"
)

const (
	// AnthropicBaseURL is the messages API endpoint.
	AnthropicBaseURL = "https://api.anthropic.com/v1"

	// anthropicAPIVersion is the required version header.
	anthropicAPIVersion = "2023-06-01"

	anthropicMaxTokens = 4096
)

// Anthropic streams completions over the Anthropic messages SSE protocol.
type Anthropic struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropic creates an Anthropic streaming client. An empty baseURL uses
// the public endpoint.
func NewAnthropic(apiKey, baseURL string) *Anthropic {
	custom := baseURL != ""
	if !custom {
		baseURL = AnthropicBaseURL
	}
	return &Anthropic{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: providerHTTPClient(custom),
	}
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
}

// Stream sends the request and relays text deltas until message_stop. System
// messages fold into the system field; the messages API only accepts
// user/assistant turns.
func (c *Anthropic) Stream(ctx context.Context, req Request, out chan<- StreamChunk) error {
	if c.apiKey == "" {
		return errors.Wrap(errors.ErrProvider, "Anthropic API key not configured")
	}
	if req.Model == "" {
		return errors.Wrap(errors.ErrProvider, "no model specified")
	}

	var system strings.Builder
	turns := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		turns = append(turns, m)
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     req.Model,
		MaxTokens: anthropicMaxTokens,
		System:    system.String(),
		Messages:  turns,
		Stream:    true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.WrapProvider(err, "Anthropic request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.WrapProvider(
			errors.Newf("status %d: %s", resp.StatusCode, string(respBody)),
			"Anthropic request failed")
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed events
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				out <- StreamChunk{Text: event.Delta.Text}
			}
		case "message_stop":
			out <- StreamChunk{Done: true}
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.WrapProvider(err, "error reading Anthropic stream")
	}

	out <- StreamChunk{Done: true}
	return nil
}

// SetHTTPClient allows overriding the HTTP client for testing.
func (c *Anthropic) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
