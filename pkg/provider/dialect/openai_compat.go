package dialect

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/beargallbladder/domainrunner/pkg/provider"
)

// openAICompatAdapter drives every OpenAI-wire-compatible provider (OpenAI
// itself, DeepSeek, Mistral, Together, xAI, Groq, Perplexity) through the
// official SDK pointed at each provider's own base URL.
type openAICompatAdapter struct{}

func (openAICompatAdapter) Invoke(ctx context.Context, httpClient *http.Client, endpoint, model, key string, req provider.Request) provider.Result {
	start := time.Now()

	client := openai.NewClient(
		option.WithAPIKey(key),
		option.WithBaseURL(endpoint),
		option.WithHTTPClient(httpClient),
	)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(req.Temperature),
	})

	latency := since(start)

	if err != nil {
		var apiErr *openai.Error
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return provider.Result{
			Success:     false,
			ErrorKind:   classifyOpenAIErr(status, err),
			ErrorDetail: err.Error(),
			Latency:     latency,
			HTTPStatus:  status,
		}
	}

	if len(resp.Choices) == 0 {
		return provider.Result{
			Success:     false,
			ErrorKind:   provider.ErrNonRetryable,
			ErrorDetail: "empty choices array",
			Latency:     latency,
		}
	}

	text := resp.Choices[0].Message.Content
	promptTokens := int(resp.Usage.PromptTokens)
	completionTokens := int(resp.Usage.CompletionTokens)
	if promptTokens == 0 {
		promptTokens = provider.EstimateTokens(req.Prompt)
	}
	if completionTokens == 0 {
		completionTokens = provider.EstimateTokens(text)
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

func classifyOpenAIErr(status int, err error) provider.ErrorKind {
	if status == 0 {
		// No HTTP round-trip completed: treat as a transient network failure.
		return provider.ErrTransient
	}
	return classifyHTTPStatus(status)
}
