package dialect

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/beargallbladder/domainrunner/pkg/provider"
)

// anthropicAdapter drives the Anthropic Messages API.
type anthropicAdapter struct{}

func (anthropicAdapter) Invoke(ctx context.Context, httpClient *http.Client, endpoint, model, key string, req provider.Request) provider.Result {
	start := time.Now()

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(httpClient),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	client := anthropic.NewClient(opts...)

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})

	latency := since(start)

	if err != nil {
		var apiErr *anthropic.Error
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		kind := provider.ErrTransient
		if status != 0 {
			kind = classifyHTTPStatus(status)
		}
		return provider.Result{
			Success:     false,
			ErrorKind:   kind,
			ErrorDetail: err.Error(),
			Latency:     latency,
			HTTPStatus:  status,
		}
	}

	var text string
	if len(msg.Content) > 0 {
		text = msg.Content[0].Text
	}
	if text == "" {
		return provider.Result{
			Success:     false,
			ErrorKind:   provider.ErrNonRetryable,
			ErrorDetail: "empty content blocks",
			Latency:     latency,
		}
	}

	promptTokens := int(msg.Usage.InputTokens)
	completionTokens := int(msg.Usage.OutputTokens)
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
