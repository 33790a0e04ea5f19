package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ComponentUsage is the aggregated LLM usage of one component.
type ComponentUsage struct {
	Component        string  `json:"component"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// UsageByComponent returns token and cost totals for every component that
// issued LLM requests.
func (q *QueryService) UsageByComponent(ctx context.Context) (map[string]*ComponentUsage, error) {
	result := make(map[string]*ComponentUsage)
	get := func(component string) *ComponentUsage {
		u, ok := result[component]
		if !ok {
			u = &ComponentUsage{Component: component}
			result[component] = u
		}
		return u
	}

	prompt, err := q.vector(ctx, `sum by (component) (foamagent_llm_tokens_total{type="prompt"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	for _, s := range prompt {
		get(string(s.Metric["component"])).PromptTokens = int64(s.Value)
	}

	completion, err := q.vector(ctx, `sum by (component) (foamagent_llm_tokens_total{type="completion"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	for _, s := range completion {
		get(string(s.Metric["component"])).CompletionTokens = int64(s.Value)
	}

	costs, err := q.vector(ctx, `sum by (component) (foamagent_llm_costs_total)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	for _, s := range costs {
		get(string(s.Metric["component"])).TotalCost = float64(s.Value)
	}

	for _, u := range result {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return result, nil
}

// RunsByStatus returns the number of finished runs per final status.
func (q *QueryService) RunsByStatus(ctx context.Context) (map[string]int64, error) {
	vec, err := q.vector(ctx, `sum by (status) (foamagent_runs_total)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	out := make(map[string]int64, len(vec))
	for _, s := range vec {
		out[string(s.Metric["status"])] = int64(s.Value)
	}
	return out, nil
}

func (q *QueryService) vector(ctx context.Context, query string) (model.Vector, error) {
	res, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, err
	}
	vec, ok := res.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s", res.Type())
	}
	return vec, nil
}
