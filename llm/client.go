// Package llm streams completions from LLM providers. Clients emit raw text
// deltas; ParsingStream layers incremental field extraction on top so the
// run executor sees both raw and parsed chunks in provider order.
package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/weavel-fastllm/fastllm/parse"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything a provider needs for one streamed completion.
type Request struct {
	Model    string
	Messages []Message
}

// StreamChunk is one unit of streamed output. Exactly one of Text, Parsed,
// or Done is set.
type StreamChunk struct {
	Text   string
	Parsed *parse.Delta
	Done   bool
}

// Client streams one completion per call. Implementations send chunks on out
// in provider order and finish with a Done chunk; a non-nil return means the
// stream failed and no Done chunk was sent.
type Client interface {
	Stream(ctx context.Context, req Request, out chan<- StreamChunk) error
}

// RateLimited gates stream starts on a shared requests-per-minute budget.
type RateLimited struct {
	client  Client
	limiter *rate.Limiter
}

// NewRateLimited wraps client with an rpm requests-per-minute limiter.
func NewRateLimited(client Client, rpm int) *RateLimited {
	return &RateLimited{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

// Stream waits for limiter headroom, then delegates.
func (r *RateLimited) Stream(ctx context.Context, req Request, out chan<- StreamChunk) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.client.Stream(ctx, req, out)
}
