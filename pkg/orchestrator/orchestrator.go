// Package orchestrator drives a claimed domain through the full
// (provider x prompt template) tensor: every element flows through the Key
// Rotator & Rate Limiter and the Circuit Breaker into a Provider Adapter
// call, is persisted independently, and the domain's final status is
// decided once every element has settled.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/beargallbladder/domainrunner/pkg/breaker"
	"github.com/beargallbladder/domainrunner/pkg/domain"
	"github.com/beargallbladder/domainrunner/pkg/eventlog"
	"github.com/beargallbladder/domainrunner/pkg/prompt"
	"github.com/beargallbladder/domainrunner/pkg/provider"
	"github.com/beargallbladder/domainrunner/pkg/provider/dialect"
	"github.com/beargallbladder/domainrunner/pkg/rate"
	"github.com/beargallbladder/domainrunner/pkg/response"
	"github.com/beargallbladder/domainrunner/pkg/tariff"
)

// Breakers is the set of per-provider circuit breakers the Orchestrator
// consults; owned by the caller (one Breaker per enabled provider, shared
// across every domain so consecutive-failure counts accumulate correctly).
type Breakers interface {
	Get(providerID string) (*breaker.Breaker, bool)
}

// ProviderLister supplies the enabled-provider catalog. Satisfied by
// *provider.Registry; an interface here lets tests substitute a fixed
// provider list pointed at a test server.
type ProviderLister interface {
	ListEnabled() []provider.Provider
}

// Outcome is one domain's final disposition after its tensor settles.
type Outcome struct {
	DomainID   string
	Status     domain.Status
	Successful int
	Expected   int
	CostUSD    float64
	Elapsed    time.Duration
}

// Config bounds a single domain's processing pass.
type Config struct {
	PerCallTimeout   time.Duration
	PerDomainTimeout time.Duration
	ShadowMode       bool // exercises the full pipeline but skips persistence
}

// element is one cell of the expected (provider x template) tensor.
type element struct {
	provider provider.Provider
	template prompt.Template
}

// Orchestrator processes one claimed domain at a time through its full
// tensor. It holds no per-domain state between calls to Process.
type Orchestrator struct {
	registry   ProviderLister
	limiter    *rate.Limiter
	breakers   Breakers
	domains    *domain.Store
	responses  *response.Store
	events     *eventlog.Store
	health     *tariff.HealthTracker
	httpClient *http.Client
	cfg        Config
}

// New builds an Orchestrator. httpClient is shared across every call issued
// for every domain, connection-pooled per provider host.
func New(
	registry ProviderLister,
	limiter *rate.Limiter,
	breakers Breakers,
	domains *domain.Store,
	responses *response.Store,
	events *eventlog.Store,
	health *tariff.HealthTracker,
	httpClient *http.Client,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		limiter:    limiter,
		breakers:   breakers,
		domains:    domains,
		responses:  responses,
		events:     events,
		health:     health,
		httpClient: httpClient,
		cfg:        cfg,
	}
}

// Process drives claimed through its full tensor and commits its final
// status. ownerID must match the lease Process was handed under; it is
// re-asserted on every status write.
func (o *Orchestrator) Process(ctx context.Context, claimed domain.Claimed, ownerID string) (Outcome, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PerDomainTimeout)
	defer cancel()

	elements := o.expectedSet()
	results := make([]elementResult, len(elements))

	providerSems := make(map[string]*semaphore.Weighted, len(elements))
	for _, p := range o.registry.ListEnabled() {
		providerSems[p.ID] = semaphore.NewWeighted(int64(max(1, len(p.Keys))))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, el := range elements {
		i, el := i, el
		sem := providerSems[el.provider.ID]
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = elementResult{element: el, result: provider.Result{ErrorKind: provider.ErrProviderUnavailable}}
				return nil //nolint:nilerr // per-element cancellation is recorded, not propagated
			}
			defer sem.Release(1)
			results[i] = o.runElement(gctx, claimed, el)
			return nil
		})
	}
	_ = g.Wait() // element goroutines never return a real error; failures live in elementResult

	return o.settle(ctx, claimed, ownerID, results, start)
}

// expectedSet computes E = enabled_providers x active_prompt_templates.
func (o *Orchestrator) expectedSet() []element {
	providers := o.registry.ListEnabled()
	elements := make([]element, 0, len(providers)*len(prompt.Active))
	for _, p := range providers {
		for _, t := range prompt.Active {
			elements = append(elements, element{provider: p, template: t})
		}
	}
	return elements
}

type elementResult struct {
	element element
	result  provider.Result
}

// runElement takes one tensor cell from rate-limited acquisition through
// persistence, retrying retryable failures up to 3 times with exponential
// backoff (§4.6).
func (o *Orchestrator) runElement(ctx context.Context, claimed domain.Claimed, el element) elementResult {
	br, ok := o.breakers.Get(el.provider.ID)
	if !ok {
		return elementResult{el, provider.Result{ErrorKind: provider.ErrConfigError, ErrorDetail: "no breaker configured"}}
	}
	if br.State() == breaker.StateOpen {
		return elementResult{el, provider.Result{ErrorKind: provider.ErrProviderUnavailable, ErrorDetail: "circuit open"}}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 10 * time.Second

	var last provider.Result
	for attempt := 0; attempt < 3; attempt++ {
		last = o.callOnce(ctx, claimed, el, br)
		if last.Success || !last.ErrorKind.Retryable() {
			break
		}
		if attempt < 2 {
			wait := policy.NextBackOff()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return elementResult{el, last}
			}
		}
	}
	return elementResult{el, last}
}

// callOnce performs a single rate-limited, circuit-guarded provider call and
// persists its outcome (success or classified failure) before returning.
func (o *Orchestrator) callOnce(ctx context.Context, claimed domain.Claimed, el element, br *breaker.Breaker) provider.Result {
	key, release, err := o.limiter.Acquire(ctx, el.provider.ID)
	if err != nil {
		return provider.Result{ErrorKind: provider.ErrConfigError, ErrorDetail: err.Error()}
	}

	adapter, err := dialect.For(el.provider.Dialect)
	if err != nil {
		release(rate.OutcomeFailure)
		return provider.Result{ErrorKind: provider.ErrConfigError, ErrorDetail: err.Error()}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout())
	defer cancel()

	req := provider.Request{Prompt: el.template.Render(claimed.Hostname), MaxTokens: 1024, Temperature: 0.7}
	model := el.provider.DefaultModel

	res, execErr := br.Execute(callCtx, func() (provider.Result, error) {
		return adapter.Invoke(callCtx, o.httpClient, el.provider.Endpoint, model, key, req), nil
	})
	if execErr != nil {
		res = provider.Result{ErrorKind: provider.ErrProviderUnavailable, ErrorDetail: execErr.Error()}
	}

	switch {
	case res.Success:
		release(rate.OutcomeSuccess)
	case res.ErrorKind == provider.ErrAuth:
		release(rate.OutcomeAuthFailure)
	default:
		release(rate.OutcomeFailure)
	}

	o.recordOutcome(ctx, claimed, el, res)
	return res
}

func (o *Orchestrator) callTimeout() time.Duration {
	if o.cfg.PerCallTimeout > 0 {
		return o.cfg.PerCallTimeout
	}
	return 90 * time.Second
}

// recordOutcome persists a successful response or logs a call_failure event,
// then updates the rolling provider health score. In ShadowMode nothing is
// written, per the "exercise the pipeline, skip persistence" contract.
func (o *Orchestrator) recordOutcome(ctx context.Context, claimed domain.Claimed, el element, res provider.Result) {
	if res.Success {
		if o.health != nil {
			o.health.RecordSuccess(el.provider.ID)
		}
	} else if o.health != nil && res.ErrorKind.CountsAsCircuitFailure() {
		o.health.RecordFailure(el.provider.ID)
	}

	if o.cfg.ShadowMode {
		return
	}

	if res.Success {
		capturedAt := time.Now()
		cost := tariff.Calculate(el.provider.ID, el.provider.DefaultModel, res.PromptTokens, res.CompletionTokens)
		costF, _ := cost.Float64()
		r := response.Response{
			DomainID:         claimed.ID,
			Provider:         el.provider.ID,
			Model:            el.provider.DefaultModel,
			PromptTemplateID: el.template.ID,
			PromptText:       el.template.Render(claimed.Hostname),
			ResponseText:     res.Text,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			TotalCostUSD:     cost,
			LatencyMS:        res.Latency.Milliseconds(),
			CapturedAt:       capturedAt,
		}
		idem := response.IdempotencyKey(claimed.ID, el.provider.ID, el.template.ID, capturedAt)
		if o.responses != nil {
			_, _ = o.responses.Persist(ctx, r, idem)
		}
		if o.events != nil {
			_ = o.events.Append(ctx, eventlog.ForDomain(claimed.ID, eventlog.KindCallSuccess, map[string]any{
				"provider": el.provider.ID, "template": el.template.ID, "cost_usd": costF,
			}))
		}
		return
	}

	if o.events != nil {
		_ = o.events.Append(ctx, eventlog.ForDomain(claimed.ID, eventlog.KindCallFailure, map[string]any{
			"provider": el.provider.ID, "template": el.template.ID,
			"error_kind": string(res.ErrorKind), "detail": res.ErrorDetail,
		}))
	}
}

// settle evaluates tensor completeness and commits the domain's final status
// (§4.6, §8 Completeness).
func (o *Orchestrator) settle(ctx context.Context, claimed domain.Claimed, ownerID string, results []elementResult, start time.Time) (Outcome, error) {
	successful := 0
	deficitConfinedToOpenCircuits := true
	var totalCost float64

	for _, r := range results {
		if r.result.Success {
			successful++
			cost := tariff.Calculate(r.element.provider.ID, r.element.provider.DefaultModel, r.result.PromptTokens, r.result.CompletionTokens)
			f, _ := cost.Float64()
			totalCost += f
			continue
		}
		if r.result.ErrorKind != provider.ErrProviderUnavailable {
			deficitConfinedToOpenCircuits = false
		}
	}

	expected := len(results)
	var status domain.Status
	var errorIncrement int

	switch {
	case successful == expected:
		status = domain.StatusCompleted
	case successful > 0 && deficitConfinedToOpenCircuits:
		status = domain.StatusCompletedPartial
	default:
		status = domain.StatusPending
		errorIncrement = 1
	}

	if o.cfg.ShadowMode {
		return Outcome{DomainID: claimed.ID, Status: status, Successful: successful, Expected: expected, CostUSD: totalCost, Elapsed: time.Since(start)}, nil
	}

	// UpdateStatus may park the domain at error instead of pending once its
	// pending-cycle count tops out (§7); the persisted status, not the one
	// requested here, is what the caller should observe.
	persisted, err := o.domains.UpdateStatus(ctx, claimed.ID, ownerID, status, errorIncrement)
	if err != nil {
		return Outcome{}, fmt.Errorf("committing domain completion: %w", err)
	}

	return Outcome{DomainID: claimed.ID, Status: persisted, Successful: successful, Expected: expected, CostUSD: totalCost, Elapsed: time.Since(start)}, nil
}
