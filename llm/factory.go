package llm

import (
	"net/http"
	"time"

	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/internal/httpclient"
)

const providerTimeout = 120 * time.Second

// Options selects and configures a provider client.
type Options struct {
	Provider          string // "openai" (default) or "anthropic"
	APIKey            string
	BaseURL           string // override, mainly for tests and proxies
	RequestsPerMinute int    // 0 disables rate limiting
}

// New builds a provider client from options, wrapping it with a rate
// limiter when a request budget is set.
func New(opts Options) (Client, error) {
	var client Client
	switch opts.Provider {
	case "", "openai":
		client = NewOpenAI(opts.APIKey, opts.BaseURL)
	case "anthropic":
		client = NewAnthropic(opts.APIKey, opts.BaseURL)
	default:
		return nil, errors.Newf("unknown LLM provider %q", opts.Provider)
	}

	if opts.RequestsPerMinute > 0 {
		client = NewRateLimited(client, opts.RequestsPerMinute)
	}
	return client, nil
}

// providerHTTPClient builds the outbound client for a provider. A
// caller-supplied base URL may point at a local OpenAI-compatible server,
// so private-address blocking only applies to the default endpoints.
func providerHTTPClient(customBase bool) *http.Client {
	blockPrivateIP := !customBase
	return httpclient.NewSaferClientWithOptions(providerTimeout, httpclient.SaferClientOptions{
		BlockPrivateIP: &blockPrivateIP,
	}).Client
}
