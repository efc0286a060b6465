package optimize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprintFields is the semantically relevant subset of a Request.
// Two requests equal on these fields map to the same cache/dedup key.
//
// encoding/json sorts map keys, so Params marshals canonically and the
// digest is stable across processes.
type fingerprintFields struct {
	Prompt      string         `json:"prompt"`
	Task        string         `json:"task"`
	TargetModel string         `json:"target_model"`
	Iterations  int            `json:"iterations"`
	FewShot     int            `json:"few_shot"`
	Reasoning   bool           `json:"reasoning"`
	Params      map[string]any `json:"params,omitempty"`
}

// Fingerprint returns the deterministic content digest of a request.
func (r Request) Fingerprint() string {
	b, err := json.Marshal(fingerprintFields{
		Prompt:      r.Prompt,
		Task:        r.Task,
		TargetModel: r.TargetModel,
		Iterations:  r.Iterations,
		FewShot:     r.FewShotCount,
		Reasoning:   r.GenerateReasoning,
		Params:      r.Params,
	})
	if err != nil {
		// Params with unmarshalable values cannot occur for requests decoded
		// from JSON; hash the prompt alone as a degraded key.
		b = []byte(r.Prompt)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Fingerprint digests a scoring request. Scoring keys live in their own
// cache namespace and never collide with optimization fingerprints.
func (r ScoreRequest) Fingerprint() string {
	sum := sha256.Sum256([]byte(r.Prompt + "\x00" + r.Task))
	return hex.EncodeToString(sum[:])
}
