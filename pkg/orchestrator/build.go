package orchestrator

import (
	"fmt"

	"foamagent/pkg/agent"
	"foamagent/pkg/agent/llm"
	"foamagent/pkg/architect"
	"foamagent/pkg/config"
	"foamagent/pkg/knowledge"
	"foamagent/pkg/metrics"
	"foamagent/pkg/reviewer"
	"foamagent/pkg/runner"
	"foamagent/pkg/writer"
)

// ClientSource hands out one LLM client per pipeline component.
// *agent.ClientFactory implements it.
type ClientSource interface {
	Client(component agent.Component) (llm.LLMClient, error)
}

// Build wires the architect, writer, runner and reviewer from cfg.
func Build(cfg *config.Config, clients ClientSource, retriever *knowledge.Retriever, store RecordStore, recorder metrics.RunRecorder) (*Orchestrator, error) {
	deps, err := BuildDeps(cfg, clients, retriever, store, recorder)
	if err != nil {
		return nil, err
	}
	return New(deps, cfg), nil
}

// BuildDeps creates the components Build wires together.
func BuildDeps(cfg *config.Config, clients ClientSource, retriever *knowledge.Retriever, store RecordStore, recorder metrics.RunRecorder) (Deps, error) {
	architectClient, err := clients.Client(agent.ComponentArchitect)
	if err != nil {
		return Deps{}, fmt.Errorf("architect client: %w", err)
	}
	writerClient, err := clients.Client(agent.ComponentWriter)
	if err != nil {
		return Deps{}, fmt.Errorf("writer client: %w", err)
	}
	var advisor llm.LLMClient
	if cfg.Reviewer.UseLLMAdvice {
		if advisor, err = clients.Client(agent.ComponentReviewer); err != nil {
			return Deps{}, fmt.Errorf("reviewer client: %w", err)
		}
	}
	rev, err := reviewer.NewFromConfig(cfg, advisor, retriever)
	if err != nil {
		return Deps{}, err
	}
	return Deps{
		Planner:  architect.New(architectClient, retriever, cfg.Retrieval),
		Writer:   writer.New(writerClient, retriever, cfg),
		Runner:   runner.New(cfg.Runner, nil),
		Reviewer: rev,
		Store:    store,
		Metrics:  recorder,
	}, nil
}
