package optimize

const (
	maxPromptLen = 10000
	maxTaskLen   = 500

	minIterations = 1
	maxIterations = 10
	maxFewShot    = 20
)

var knownModels = map[string]struct{}{
	"gpt-4":           {},
	"gpt-3.5-turbo":   {},
	"claude-3-opus":   {},
	"claude-3-sonnet": {},
	"gemini-pro":      {},
}

// DefaultModel is applied when a request omits target_model.
const DefaultModel = "gpt-4"

// Normalize applies defaults in place and returns the request for chaining.
func (r Request) Normalize() Request {
	if r.TargetModel == "" {
		r.TargetModel = DefaultModel
	}
	if r.Iterations == 0 {
		r.Iterations = 3
	}
	if r.FewShotCount == 0 {
		r.FewShotCount = 5
	}
	return r
}

// Validate checks field bounds and returns a KindValidation error on the first
// violation. Call after Normalize.
func (r Request) Validate() error {
	if r.Prompt == "" {
		return Errorf(KindValidation, "prompt is required")
	}
	if len(r.Prompt) > maxPromptLen {
		return Errorf(KindValidation, "prompt exceeds %d characters", maxPromptLen)
	}
	if r.Task == "" {
		return Errorf(KindValidation, "task is required")
	}
	if len(r.Task) > maxTaskLen {
		return Errorf(KindValidation, "task exceeds %d characters", maxTaskLen)
	}
	if _, ok := knownModels[r.TargetModel]; !ok {
		return Errorf(KindValidation, "unknown target_model %q", r.TargetModel)
	}
	if r.Iterations < minIterations || r.Iterations > maxIterations {
		return Errorf(KindValidation, "mutate_refine_iterations must be in [%d,%d]", minIterations, maxIterations)
	}
	if r.FewShotCount < 0 || r.FewShotCount > maxFewShot {
		return Errorf(KindValidation, "few_shot_count must be in [0,%d]", maxFewShot)
	}
	return nil
}

func (r ScoreRequest) Validate() error {
	if r.Prompt == "" {
		return Errorf(KindValidation, "prompt is required")
	}
	if len(r.Prompt) > maxPromptLen {
		return Errorf(KindValidation, "prompt exceeds %d characters", maxPromptLen)
	}
	if len(r.Task) > maxTaskLen {
		return Errorf(KindValidation, "task exceeds %d characters", maxTaskLen)
	}
	return nil
}

func (r CompareRequest) Validate() error {
	if r.Original == "" {
		return Errorf(KindValidation, "original prompt is required")
	}
	if len(r.Original) > maxPromptLen {
		return Errorf(KindValidation, "original prompt exceeds %d characters", maxPromptLen)
	}
	if r.Optimized == "" {
		return Errorf(KindValidation, "optimized prompt is required")
	}
	if len(r.Optimized) > maxPromptLen {
		return Errorf(KindValidation, "optimized prompt exceeds %d characters", maxPromptLen)
	}
	if len(r.Task) > maxTaskLen {
		return Errorf(KindValidation, "task exceeds %d characters", maxTaskLen)
	}
	return nil
}
