package llm

import (
	"context"

	"github.com/weavel-fastllm/fastllm/parse"
)

// ParsingStream wraps a client with an incremental field extractor. Raw text
// deltas pass through unchanged; every field delta they complete follows as
// its own chunk, so the executor receives both interleaved in stream order.
type ParsingStream struct {
	client Client
	mode   parse.Mode
}

// NewParsingStream wraps client with the given parsing mode.
func NewParsingStream(client Client, mode parse.Mode) (*ParsingStream, error) {
	if _, err := parse.NewExtractor(mode); err != nil {
		return nil, err
	}
	return &ParsingStream{client: client, mode: mode}, nil
}

// Stream relays the inner stream, feeding text deltas through a fresh
// extractor per call.
func (p *ParsingStream) Stream(ctx context.Context, req Request, out chan<- StreamChunk) error {
	ex, err := parse.NewExtractor(p.mode)
	if err != nil {
		return err
	}

	inner := make(chan StreamChunk, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(inner)
		errc <- p.client.Stream(ctx, req, inner)
	}()

	for chunk := range inner {
		if chunk.Done {
			for _, d := range ex.Flush() {
				d := d
				out <- StreamChunk{Parsed: &d}
			}
			out <- chunk
			continue
		}
		if chunk.Text == "" {
			continue
		}
		out <- chunk
		for _, d := range ex.Feed(chunk.Text) {
			d := d
			out <- StreamChunk{Parsed: &d}
		}
	}
	return <-errc
}
