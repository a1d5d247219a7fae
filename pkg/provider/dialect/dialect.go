// Package dialect shapes the uniform provider.Request into each provider's
// wire format and extracts the uniform provider.Result back out. Each
// dialect is a small capability set (prepare, invoke, classify); adding a
// provider means adding a case to the closed switch in For, not registering
// a new string key into a runtime map.
package dialect

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/beargallbladder/domainrunner/pkg/provider"
)

// Adapter is the capability set every dialect implements.
type Adapter interface {
	// Invoke issues one call against endpoint/model using key and returns the
	// uniform Result, classifying any failure into provider.ErrorKind.
	Invoke(ctx context.Context, httpClient *http.Client, endpoint, model, key string, req provider.Request) provider.Result
}

// For resolves the Adapter for a closed set of dialects. Unknown dialects are
// a config_error, surfaced when a call resolves its adapter.
func For(d provider.Dialect) (Adapter, error) {
	switch d {
	case provider.DialectOpenAICompat:
		return openAICompatAdapter{}, nil
	case provider.DialectAnthropic:
		return anthropicAdapter{}, nil
	case provider.DialectGemini:
		return geminiAdapter{}, nil
	case provider.DialectAI21:
		return ai21Adapter{}, nil
	case provider.DialectCohere:
		return cohereAdapter{}, nil
	default:
		return nil, fmt.Errorf("unknown provider dialect %q: %s", d, provider.ErrConfigError)
	}
}

// classifyHTTPStatus maps an HTTP status code to the closed error taxonomy,
// shared by the hand-rolled AI21/Cohere adapters and as a fallback for SDK
// adapters that surface a raw status.
func classifyHTTPStatus(status int) provider.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.ErrAuth
	case status == http.StatusTooManyRequests:
		return provider.ErrRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		return provider.ErrTransient
	case status >= 400:
		return provider.ErrNonRetryable
	default:
		return provider.ErrNone
	}
}

func since(start time.Time) time.Duration {
	return time.Since(start)
}
