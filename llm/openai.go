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

// OpenAIBaseURL is the chat completions API endpoint.
const OpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI streams chat completions over the OpenAI SSE protocol.
type OpenAI struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI streaming client. An empty baseURL uses the
// public endpoint.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	custom := baseURL != ""
	if !custom {
		baseURL = OpenAIBaseURL
	}
	return &OpenAI{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: providerHTTPClient(custom),
	}
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openAIStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream sends the request and relays text deltas until the provider closes
// the stream.
func (c *OpenAI) Stream(ctx context.Context, req Request, out chan<- StreamChunk) error {
	if c.apiKey == "" {
		return errors.Wrap(errors.ErrProvider, "OpenAI API key not configured")
	}
	if req.Model == "" {
		return errors.Wrap(errors.ErrProvider, "no model specified")
	}

	body, err := json.Marshal(openAIRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.WrapProvider(err, "OpenAI request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.WrapProvider(
			errors.Newf("status %d: %s", resp.StatusCode, string(respBody)),
			"OpenAI request failed")
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

		if data == "[DONE]" {
			out <- StreamChunk{Done: true}
			return nil
		}

		var event openAIStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed events
		}
		if len(event.Choices) == 0 {
			continue
		}
		if text := event.Choices[0].Delta.Content; text != "" {
			out <- StreamChunk{Text: text}
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.WrapProvider(err, "error reading OpenAI stream")
	}

	out <- StreamChunk{Done: true}
	return nil
}

// SetHTTPClient allows overriding the HTTP client for testing.
func (c *OpenAI) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
