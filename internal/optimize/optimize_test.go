package optimize

import (
	"errors"
	"strings"
	"testing"
)

func TestFingerprintIsDeterministic(t *testing.T) {
	t.Parallel()

	req := Request{
		Prompt:       "summarize the document",
		Task:         "summarization",
		TargetModel:  "gpt-4",
		Iterations:   3,
		FewShotCount: 5,
		Params:       map[string]any{"b": 2, "a": 1},
	}
	other := req
	other.Params = map[string]any{"a": 1, "b": 2}

	if req.Fingerprint() != other.Fingerprint() {
		t.Fatal("same content produced different fingerprints")
	}
	if got := req.Fingerprint(); len(got) != 64 {
		t.Fatalf("fingerprint length = %d, want 64", len(got))
	}
}

func TestFingerprintVariesWithContent(t *testing.T) {
	t.Parallel()

	base := Request{Prompt: "p", Task: "t", TargetModel: "gpt-4", Iterations: 3}
	seen := map[string]string{base.Fingerprint(): "base"}

	variants := map[string]Request{
		"prompt":     {Prompt: "q", Task: "t", TargetModel: "gpt-4", Iterations: 3},
		"task":       {Prompt: "p", Task: "u", TargetModel: "gpt-4", Iterations: 3},
		"model":      {Prompt: "p", Task: "t", TargetModel: "gemini-pro", Iterations: 3},
		"iterations": {Prompt: "p", Task: "t", TargetModel: "gpt-4", Iterations: 4},
		"reasoning":  {Prompt: "p", Task: "t", TargetModel: "gpt-4", Iterations: 3, GenerateReasoning: true},
	}
	for name, v := range variants {
		fp := v.Fingerprint()
		if prev, dup := seen[fp]; dup {
			t.Errorf("variant %q collides with %q", name, prev)
		}
		seen[fp] = name
	}
}

func TestScoreFingerprintSeparatesPromptAndTask(t *testing.T) {
	t.Parallel()

	a := ScoreRequest{Prompt: "ab", Task: "c"}
	b := ScoreRequest{Prompt: "a", Task: "bc"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("prompt/task boundary is ambiguous in the digest")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	r := Request{Prompt: "p", Task: "t"}.Normalize()
	if r.TargetModel != DefaultModel {
		t.Errorf("TargetModel = %q, want %q", r.TargetModel, DefaultModel)
	}
	if r.Iterations != 3 || r.FewShotCount != 5 {
		t.Errorf("defaults = (%d,%d), want (3,5)", r.Iterations, r.FewShotCount)
	}

	r = Request{Prompt: "p", Task: "t", TargetModel: "gemini-pro", Iterations: 7, FewShotCount: 2}.Normalize()
	if r.TargetModel != "gemini-pro" || r.Iterations != 7 || r.FewShotCount != 2 {
		t.Error("Normalize overwrote explicit values")
	}
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	valid := Request{Prompt: "p", Task: "t", TargetModel: "gpt-4", Iterations: 3, FewShotCount: 5}

	tests := []struct {
		name    string
		mutate  func(r *Request)
		wantErr string
	}{
		{"valid", func(r *Request) {}, ""},
		{"missing prompt", func(r *Request) { r.Prompt = "" }, "prompt is required"},
		{"prompt too long", func(r *Request) { r.Prompt = strings.Repeat("x", maxPromptLen+1) }, "prompt exceeds"},
		{"missing task", func(r *Request) { r.Task = "" }, "task is required"},
		{"unknown model", func(r *Request) { r.TargetModel = "gpt-9" }, "unknown target_model"},
		{"iterations too high", func(r *Request) { r.Iterations = maxIterations + 1 }, "mutate_refine_iterations"},
		{"iterations zero", func(r *Request) { r.Iterations = 0 }, "mutate_refine_iterations"},
		{"few shot negative", func(r *Request) { r.FewShotCount = -1 }, "few_shot_count"},
		{"few shot too high", func(r *Request) { r.FewShotCount = maxFewShot + 1 }, "few_shot_count"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			err := r.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %v, want message containing %q", err, tc.wantErr)
			}
			if KindOf(err) != KindValidation {
				t.Errorf("kind = %v, want KindValidation", KindOf(err))
			}
		})
	}
}

func TestCompareValidate(t *testing.T) {
	t.Parallel()

	if err := (CompareRequest{Original: "a", Optimized: "b"}).Validate(); err != nil {
		t.Fatalf("valid compare rejected: %v", err)
	}
	if err := (CompareRequest{Optimized: "b"}).Validate(); KindOf(err) != KindValidation {
		t.Error("missing original not rejected")
	}
	if err := (CompareRequest{Original: "a"}).Validate(); KindOf(err) != KindValidation {
		t.Error("missing optimized not rejected")
	}
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := Wrap(KindOptimizerFailure, inner, "upstream call failed")
	if KindOf(err) != KindOptimizerFailure {
		t.Errorf("KindOf = %v, want KindOptimizerFailure", KindOf(err))
	}
	if !errors.Is(err, inner) {
		t.Error("wrapped cause lost")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("plain error should default to KindInternal")
	}

	as := AsError(errors.New("plain"))
	if as.Kind != KindInternal || as.Message != "internal error" {
		t.Errorf("AsError wrapped as %v %q", as.Kind, as.Message)
	}
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}
}
