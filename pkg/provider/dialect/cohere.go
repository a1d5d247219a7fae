package dialect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beargallbladder/domainrunner/pkg/provider"
)

// cohereAdapter drives Cohere's generate API directly over HTTP, matching
// ai21Adapter's style since no Cohere SDK appears anywhere in the pack.
type cohereAdapter struct{}

type cohereRequest struct {
	Model     string `json:"model,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type cohereResponse struct {
	Generations []struct {
		Text string `json:"text"`
	} `json:"generations"`
}

func (cohereAdapter) Invoke(ctx context.Context, httpClient *http.Client, endpoint, model, key string, req provider.Request) provider.Result {
	start := time.Now()

	body, err := json.Marshal(cohereRequest{
		Model:     model,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return provider.Result{Success: false, ErrorKind: provider.ErrConfigError, ErrorDetail: err.Error(), Latency: since(start)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return provider.Result{Success: false, ErrorKind: provider.ErrConfigError, ErrorDetail: err.Error(), Latency: since(start)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return provider.Result{Success: false, ErrorKind: provider.ErrTransient, ErrorDetail: err.Error(), Latency: since(start)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	latency := since(start)

	if resp.StatusCode >= http.StatusBadRequest {
		return provider.Result{
			Success:     false,
			ErrorKind:   classifyHTTPStatus(resp.StatusCode),
			ErrorDetail: string(respBody),
			Latency:     latency,
			HTTPStatus:  resp.StatusCode,
		}
	}

	var parsed cohereResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return provider.Result{Success: false, ErrorKind: provider.ErrNonRetryable, ErrorDetail: fmt.Sprintf("decoding response: %v", err), Latency: latency, HTTPStatus: resp.StatusCode}
	}
	if len(parsed.Generations) == 0 {
		return provider.Result{Success: false, ErrorKind: provider.ErrNonRetryable, ErrorDetail: "empty generations array", Latency: latency, HTTPStatus: resp.StatusCode}
	}

	text := parsed.Generations[0].Text
	return provider.Result{
		Success:          true,
		Text:             text,
		PromptTokens:     provider.EstimateTokens(req.Prompt),
		CompletionTokens: provider.EstimateTokens(text),
		Latency:          latency,
		HTTPStatus:       resp.StatusCode,
	}
}
