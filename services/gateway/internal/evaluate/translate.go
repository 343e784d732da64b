package evaluate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/RichardRajuChirayath/Assure/pkg/scorer"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/store"
)

var ErrUnknownVerdict = errors.New("risk engine returned an unknown verdict")

// Translate fills every optional scorer field once so nothing downstream has
// to handle a missing value.
func Translate(resp *scorer.Response) (Result, error) {
	if resp == nil {
		return Result{}, errors.New("empty risk engine response")
	}
	verdict := strings.ToUpper(strings.TrimSpace(resp.Verdict))
	switch verdict {
	case VerdictBlock, VerdictWarn, VerdictAllow:
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownVerdict, resp.Verdict)
	}

	score := store.ClampScore(deref(resp.RiskScore))
	reasoning := make([]string, 0, len(resp.Reasoning))
	for _, r := range resp.Reasoning {
		if strings.TrimSpace(r) != "" {
			reasoning = append(reasoning, r)
		}
	}

	breakdown := &Breakdown{
		Rules:          deref(resp.Rules),
		MLBoost:        deref(resp.MLBoost),
		AnomalyPenalty: deref(resp.AnomalyPenalty),
		FinalScore:     score,
	}
	if resp.Breakdown != nil {
		breakdown = &Breakdown{
			Rules:          resp.Breakdown.Rules,
			MLBoost:        resp.Breakdown.MLBoost,
			AnomalyPenalty: resp.Breakdown.AnomalyPenalty,
			FinalScore:     resp.Breakdown.FinalScore,
		}
	}

	isAnomaly := false
	if resp.IsAnomaly != nil {
		isAnomaly = *resp.IsAnomaly
	}
	return Result{
		RiskScore:    score,
		Verdict:      verdict,
		Reasoning:    reasoning,
		MLConfidence: deref(resp.MLConfidence),
		IsAnomaly:    &isAnomaly,
		Breakdown:    breakdown,
		Planning:     resp.Planning,
	}, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
