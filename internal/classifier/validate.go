package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/IliaW/page-guard/internal/model"
)

// Verdict is a validated classifier answer.
type Verdict struct {
	Status      model.Status
	Explanation string
}

// Validate turns the raw model output into a Verdict. It never fails silently:
// malformed output yields an ERROR verdict with ErrInvalidResponse, an unknown status
// yields SUSPICIOUS with ErrUnrecognizedStatus. A nil error means a clean verdict.
func Validate(raw string) (Verdict, error) {
	var body any
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &body); err != nil {
		return Verdict{Status: model.StatusError, Explanation: "non-JSON response from classifier"},
			fmt.Errorf("%w: %s", ErrInvalidResponse, err.Error())
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return incomplete("response is not an object")
	}
	status, ok := nonBlankString(obj["status"])
	if !ok {
		return incomplete("missing status")
	}
	explanation, ok := nonBlankString(obj["explanation"])
	if !ok {
		return incomplete("missing explanation")
	}
	explanation += details(obj)

	parsed, ok := model.ParseStatus(status)
	if !ok {
		return Verdict{
				Status:      model.StatusSuspicious,
				Explanation: fmt.Sprintf("classifier returned unrecognized status %q; treat with caution. %s", status, explanation),
			},
			fmt.Errorf("%w: %q", ErrUnrecognizedStatus, status)
	}

	return Verdict{Status: parsed, Explanation: explanation}, nil
}

func incomplete(reason string) (Verdict, error) {
	return Verdict{Status: model.StatusError, Explanation: "incomplete response from classifier: " + reason},
		fmt.Errorf("%w: %s", ErrInvalidResponse, reason)
}

// details renders the optional confidence_score and primary_threat_type fields; invalid values are skipped.
func details(obj map[string]any) string {
	var parts []string
	if score, ok := obj["confidence_score"].(float64); ok && !math.IsNaN(score) {
		switch {
		case score >= 0 && score <= 1:
			parts = append(parts, fmt.Sprintf("confidence: %d%%", int(math.Round(score*100))))
		case score > 1 && score <= 100:
			parts = append(parts, fmt.Sprintf("confidence: %d%%", int(math.Round(score))))
		}
	}
	if threat, ok := nonBlankString(obj["primary_threat_type"]); ok {
		parts = append(parts, "threat: "+threat)
	}
	if len(parts) == 0 {
		return ""
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

func nonBlankString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// stripCodeFence removes a ```json ... ``` wrapper some models add around their answer.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
