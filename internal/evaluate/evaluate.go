// Package evaluate scores RAG answers along weighted quality criteria,
// through an LLM rubric or a deterministic offline heuristic.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hephlab/ragprobe/internal/config"
	"github.com/hephlab/ragprobe/internal/cost"
	"github.com/hephlab/ragprobe/internal/llm"
	"github.com/hephlab/ragprobe/pkg/models"
)

const rubricPromptWithImage = `Evaluate the quality of the following RAG system answer against the attached document page.

Question: %s
Answer: %s

Score each of these four dimensions between 0.0 and 1.0:

1. technical_accuracy - is the technical content correct and consistent with the page
2. completeness - does the answer fully address the question
3. image_reference - does the answer reference the page content or related images
4. clarity - is the answer clearly structured and easy to follow

Respond strictly with a JSON object and nothing else:
{"technical_accuracy": 0.0, "completeness": 0.0, "image_reference": 0.0, "clarity": 0.0}`

const rubricPromptNoImage = `Evaluate the quality of the following RAG system answer.

Question: %s
Answer: %s

Score each of these four dimensions between 0.0 and 1.0:

1. technical_accuracy - is the technical content correct
2. completeness - does the answer fully address the question
3. relevance - is the answer relevant to the question
4. clarity - is the answer clearly structured and easy to follow

Respond strictly with a JSON object and nothing else:
{"technical_accuracy": 0.0, "completeness": 0.0, "relevance": 0.0, "clarity": 0.0}`

// defaultScore is substituted for any criterion the backend omitted or
// scored out of range.
const defaultScore = 0.5

// imageIndicators mark an answer as referencing source imagery.
var imageIndicators = []string{
	"image", "figure", "diagram", "illustration", "screenshot",
	"see fig", "shown in", "http://", "https://", ".png", ".jpg",
}

// technicalTerms drive the heuristic technical_accuracy score.
var technicalTerms = []string{
	"material", "connector", "harness", "test", "specification",
	"design", "structure", "function", "characteristic", "application",
	"tolerance", "requirement",
}

// structureMarkers drive the heuristic clarity score.
var structureMarkers = []string{"1.", "2.", "•", "- ", ": ", ". "}

// Evaluator scores answers. A nil backend always uses the heuristic path.
type Evaluator struct {
	backend llm.Backend
	weights config.Weights
	rates   cost.Rates
	log     *logrus.Logger
}

// New creates an Evaluator. backend may be nil.
func New(backend llm.Backend, weights config.Weights, rates cost.Rates, log *logrus.Logger) *Evaluator {
	if log == nil {
		log = logrus.New()
	}
	return &Evaluator{backend: backend, weights: weights, rates: rates, log: log}
}

// Evaluate scores an answer and returns the scores plus the backend cost of
// producing them. It never fails: backend and parse problems degrade to the
// deterministic heuristic at zero cost. image may be nil for the no-image
// variant, in which case the fourth criterion is relevance.
func (e *Evaluator) Evaluate(ctx context.Context, question, answer string, image []byte) (models.Scores, float64) {
	if e.backend == nil {
		return e.heuristic(question, answer, image == nil), 0
	}

	prompt := rubricPromptWithImage
	if image == nil {
		prompt = rubricPromptNoImage
	}
	prompt = fmt.Sprintf(prompt, question, answer)

	resp, err := e.backend.Invoke(ctx, prompt, image)
	if err != nil {
		e.log.WithError(err).Warn("evaluation backend failed, using heuristic scores")
		return e.heuristic(question, answer, image == nil), 0
	}

	raw, ok := extractJSON(resp.Content)
	if !ok {
		e.log.Warn("no JSON object in evaluation response, using heuristic scores")
		return e.heuristic(question, answer, image == nil), 0
	}

	var parsed map[string]float64
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		e.log.WithError(err).Warn("failed to parse evaluation JSON, using heuristic scores")
		return e.heuristic(question, answer, image == nil), 0
	}

	fourth := "image_reference"
	if image == nil {
		fourth = "relevance"
	}
	scores := e.compose(
		criterion(parsed, "technical_accuracy"),
		criterion(parsed, "completeness"),
		criterion(parsed, "clarity"),
		criterion(parsed, fourth),
	)
	return scores, e.rates.Price(prompt, resp.Content)
}

// heuristic scores an answer deterministically, with no backend.
func (e *Evaluator) heuristic(question, answer string, noImage bool) models.Scores {
	if strings.TrimSpace(answer) == "" {
		return e.compose(0, 0, 0, 0)
	}

	lower := strings.ToLower(answer)

	terms := 0
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			terms++
		}
	}
	technical := clamp(0.3 + 0.1*float64(terms))

	var completeness float64
	switch n := len(answer); {
	case n > 200:
		completeness = 0.8
	case n > 100:
		completeness = 0.6
	case n > 50:
		completeness = 0.4
	default:
		completeness = 0.2
	}

	markers := 0
	for _, m := range structureMarkers {
		if strings.Contains(answer, m) {
			markers++
		}
	}
	clarity := clamp(0.4 + 0.1*float64(markers))

	var fourth float64
	if noImage {
		fourth = relevance(question, answer)
	} else if HasImageReference(answer) {
		fourth = 0.8
	}

	return e.compose(technical, completeness, clarity, fourth)
}

// compose builds a Scores value with Overall as the configured weighted sum.
func (e *Evaluator) compose(technical, completeness, clarity, fourth float64) models.Scores {
	return models.Scores{
		TechnicalAccuracy: technical,
		Completeness:      completeness,
		Clarity:           clarity,
		ImageReference:    fourth,
		Overall: technical*e.weights.TechnicalAccuracy +
			completeness*e.weights.Completeness +
			clarity*e.weights.Clarity +
			fourth*e.weights.ImageReference,
	}
}

// relevance approximates topical overlap between question and answer by
// counting shared significant words.
func relevance(question, answer string) float64 {
	answerLower := strings.ToLower(answer)
	shared := 0
	for _, word := range strings.Fields(strings.ToLower(question)) {
		word = strings.Trim(word, ".,?!:;\"'()")
		if len(word) < 5 {
			continue
		}
		if strings.Contains(answerLower, word) {
			shared++
		}
	}
	switch {
	case shared >= 3:
		return 0.9
	case shared >= 1:
		return 0.7
	default:
		return 0.3
	}
}

// HasImageReference reports whether the answer appears to reference source
// imagery or linked files.
func HasImageReference(answer string) bool {
	lower := strings.ToLower(answer)
	for _, indicator := range imageIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// criterion reads one score from the parsed object, defaulting and clamping
// so every criterion lands in [0, 1].
func criterion(parsed map[string]float64, key string) float64 {
	v, ok := parsed[key]
	if !ok {
		return defaultScore
	}
	if v < 0 || v > 1 {
		return defaultScore
	}
	return v
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// extractJSON returns the first balanced JSON-object-shaped substring.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
