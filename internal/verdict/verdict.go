// Package verdict calls the Gemini vision model to judge whether a photo
// shows a mission step, and parses the model's JSON verdict defensively.
package verdict

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/halsaram/mission-pipeline/internal/jsonutil"
)

// Verdict is the model's judgement of one photo against one step.
type Verdict struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
	Reasons    string  `json:"reasons"`
}

// Approved reports whether the verdict clears the approval bar.
func (v Verdict) Approved(threshold float64) bool {
	return v.Match && v.Confidence >= threshold
}

// Parse turns raw model output into a Verdict. It first tries a strict
// unmarshal, then the fence-stripping object extraction used for chatty
// model output. Unparseable output yields a negative verdict rather than an
// error: a photo is never approved on the strength of output we could not
// read.
func Parse(raw string) Verdict {
	trimmed := strings.TrimSpace(raw)

	var v Verdict
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return clamp(v)
	}

	v, err := jsonutil.ParseJSON[Verdict](raw)
	if err == nil {
		return clamp(v)
	}

	preview := trimmed
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	return Verdict{
		Match:      false,
		Confidence: 0,
		Reasons:    fmt.Sprintf("model output could not be parsed as a verdict: %s", preview),
	}
}

func clamp(v Verdict) Verdict {
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v
}
