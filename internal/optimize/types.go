package optimize

import "time"

// Request is the canonical optimization request shared by every transport face.
// It is immutable after validation; the fingerprint is derived from it.
type Request struct {
	Prompt            string         `json:"prompt"`
	Task              string         `json:"task"`
	TargetModel       string         `json:"target_model,omitempty"`
	Iterations        int            `json:"mutate_refine_iterations,omitempty"`
	FewShotCount      int            `json:"few_shot_count,omitempty"`
	GenerateReasoning bool           `json:"generate_reasoning,omitempty"`
	Params            map[string]any `json:"custom_params,omitempty"`
}

type Metrics struct {
	AccuracyImprovement float64 `json:"accuracy_improvement"`
	TokenReduction      float64 `json:"token_reduction"`
	CostReduction       float64 `json:"cost_reduction"`
	ProcessingTime      float64 `json:"processing_time"`
	APICallsUsed        int     `json:"api_calls_used"`
}

type Example struct {
	Input   string  `json:"input"`
	Output  string  `json:"output"`
	Quality float64 `json:"quality"`
}

// Result is a completed optimization.
type Result struct {
	OriginalPrompt  string    `json:"original_prompt"`
	OptimizedPrompt string    `json:"optimized_prompt"`
	Metrics         Metrics   `json:"metrics"`
	Examples        []Example `json:"examples,omitempty"`
	Reasoning       []string  `json:"reasoning,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// ---- Scoring ----

type ScoreRequest struct {
	Prompt string `json:"prompt"`
	Task   string `json:"task,omitempty"`
}

type QualityMetrics struct {
	Clarity         float64 `json:"clarity"`
	TaskAlignment   float64 `json:"task_alignment"`
	TokenEfficiency float64 `json:"token_efficiency"`
	ExampleQuality  float64 `json:"example_quality,omitempty"`
}

type Score struct {
	Overall     float64        `json:"overall"`
	Metrics     QualityMetrics `json:"metrics"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Confidence  float64        `json:"confidence"`
}

// ---- Comparison ----

type CompareRequest struct {
	Original  string `json:"original"`
	Optimized string `json:"optimized"`
	Task      string `json:"task,omitempty"`
}

type PromptAssessment struct {
	Prompt          string  `json:"prompt"`
	Score           Score   `json:"score"`
	EstimatedTokens int     `json:"estimated_tokens"`
	EstimatedCost   float64 `json:"estimated_cost"`
}

type Improvements struct {
	QualityImprovement float64 `json:"quality_improvement"`
	TokenReduction     float64 `json:"token_reduction"`
	CostSavings        float64 `json:"cost_savings"`
}

type Analysis struct {
	StrengthsGained []string `json:"strengths_gained,omitempty"`
	PotentialRisks  []string `json:"potential_risks,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

type Comparison struct {
	ID           string           `json:"comparison_id"`
	Original     PromptAssessment `json:"original"`
	Optimized    PromptAssessment `json:"optimized"`
	Improvements Improvements     `json:"improvements"`
	Analysis     Analysis         `json:"analysis"`
}
