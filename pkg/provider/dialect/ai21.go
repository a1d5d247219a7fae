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

// ai21Adapter drives AI21's completion API directly over HTTP: no Go SDK for
// AI21 appears anywhere in the dependency pack, so this follows the plain
// net/http + encoding/json style used fleet-wide for uncovered third-party
// calls.
type ai21Adapter struct{}

type ai21Request struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

type ai21Response struct {
	Completions []struct {
		Data struct {
			Text string `json:"text"`
		} `json:"data"`
	} `json:"completions"`
}

func (ai21Adapter) Invoke(ctx context.Context, httpClient *http.Client, endpoint, model, key string, req provider.Request) provider.Result {
	start := time.Now()

	body, err := json.Marshal(ai21Request{
		Model:       model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
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

	var parsed ai21Response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return provider.Result{Success: false, ErrorKind: provider.ErrNonRetryable, ErrorDetail: fmt.Sprintf("decoding response: %v", err), Latency: latency, HTTPStatus: resp.StatusCode}
	}
	if len(parsed.Completions) == 0 {
		return provider.Result{Success: false, ErrorKind: provider.ErrNonRetryable, ErrorDetail: "empty completions array", Latency: latency, HTTPStatus: resp.StatusCode}
	}

	text := parsed.Completions[0].Data.Text
	return provider.Result{
		Success:          true,
		Text:             text,
		PromptTokens:     provider.EstimateTokens(req.Prompt),
		CompletionTokens: provider.EstimateTokens(text),
		Latency:          latency,
		HTTPStatus:       resp.StatusCode,
	}
}
