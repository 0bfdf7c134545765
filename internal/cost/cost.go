// Package cost estimates token counts and prices LLM interactions.
package cost

// EstimateTokens approximates the token count of text with a mixed heuristic:
// CJK characters count 1:1, everything else averages four characters per
// token. The result is floored at a third of the rune count so short
// non-empty strings never estimate to zero.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	var cjk, other int
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			cjk++
		} else {
			other++
		}
	}

	estimated := cjk + other/4
	if floor := (cjk + other) / 3; estimated < floor {
		return floor
	}
	return estimated
}

// Rates holds per-token pricing for one backend family.
type Rates struct {
	InputPerToken  float64
	OutputPerToken float64
}

// Price computes the estimated cost of one interaction. Pure function;
// malformed rates are a caller configuration error, not handled here.
func (r Rates) Price(input, output string) float64 {
	return float64(EstimateTokens(input))*r.InputPerToken +
		float64(EstimateTokens(output))*r.OutputPerToken
}
