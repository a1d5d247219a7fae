package dialect

import (
	"context"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/beargallbladder/domainrunner/pkg/provider"
)

// geminiAdapter drives Google's Gemini API via the official genai SDK, with
// the API key passed as a query parameter per the provider's own convention
// rather than a bearer header.
type geminiAdapter struct{}

func (geminiAdapter) Invoke(ctx context.Context, httpClient *http.Client, endpoint, model, key string, req provider.Request) provider.Result {
	start := time.Now()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return provider.Result{
			Success:     false,
			ErrorKind:   provider.ErrConfigError,
			ErrorDetail: err.Error(),
			Latency:     since(start),
		}
	}

	temp := float32(req.Temperature)
	maxTokens := int32(req.MaxTokens)
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: maxTokens,
	})

	latency := since(start)

	if err != nil {
		return provider.Result{
			Success:     false,
			ErrorKind:   classifyGeminiErr(err),
			ErrorDetail: err.Error(),
			Latency:     latency,
		}
	}

	text := resp.Text()
	if text == "" {
		return provider.Result{
			Success:     false,
			ErrorKind:   provider.ErrNonRetryable,
			ErrorDetail: "empty candidates",
			Latency:     latency,
		}
	}

	promptTokens := provider.EstimateTokens(req.Prompt)
	completionTokens := provider.EstimateTokens(text)
	if resp.UsageMetadata != nil {
		if resp.UsageMetadata.PromptTokenCount > 0 {
			promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		}
		if resp.UsageMetadata.CandidatesTokenCount > 0 {
			completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
	}

	return provider.Result{
		Success:          true,
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Latency:          latency,
		HTTPStatus:       http.StatusOK,
	}
}

// classifyGeminiErr classifies a genai SDK error. The SDK wraps transport and
// API errors without a single shared status type, so classification falls
// back to a transient retry rather than misclassifying as non-retryable.
func classifyGeminiErr(err error) provider.ErrorKind {
	if apiErr, ok := err.(genai.APIError); ok {
		return classifyHTTPStatus(apiErr.Code)
	}
	return provider.ErrTransient
}
