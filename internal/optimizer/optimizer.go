// Package optimizer defines the upstream optimization capability and
// its HTTP client. The engine behind the API is opaque; this package
// only speaks its wire contract.
package optimizer

import (
	"context"

	"promptgate/internal/optimize"
)

// Optimizer is the capability the orchestrator executes against.
type Optimizer interface {
	Optimize(ctx context.Context, req optimize.Request) (*optimize.Result, error)
	Score(ctx context.Context, req optimize.ScoreRequest) (*optimize.Score, error)
	Compare(ctx context.Context, req optimize.CompareRequest) (*optimize.Comparison, error)
	HealthCheck(ctx context.Context) error
}

// CallStats reports upstream usage for the metrics endpoint.
type CallStats struct {
	Calls    uint64 `json:"calls"`
	Failures uint64 `json:"failures"`
}

// StatsReporter is implemented by optimizers that track their own call
// volume. The metrics aggregator type-asserts against it.
type StatsReporter interface {
	Stats() CallStats
}
