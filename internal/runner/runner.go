// Package runner orchestrates the per-item pipeline and batch execution.
package runner

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/hephlab/ragprobe/internal/config"
	"github.com/hephlab/ragprobe/internal/corpus"
	"github.com/hephlab/ragprobe/internal/evaluate"
	"github.com/hephlab/ragprobe/internal/progress"
	"github.com/hephlab/ragprobe/internal/question"
	"github.com/hephlab/ragprobe/pkg/models"
)

// Querier sends a question to the RAG service under test.
type Querier interface {
	Query(ctx context.Context, question, sessionID string) (*models.Answer, error)
}

// Orchestrator runs test items through generate, query, and evaluate stages.
type Orchestrator struct {
	questions *question.Generator
	rag       Querier
	evaluator *evaluate.Evaluator
	cfg       config.Config
	emitter   progress.Emitter
	limiter   *rate.Limiter
	log       *logrus.Logger

	// newSessionID is swapped out in tests for deterministic sessions.
	newSessionID func() string
}

// New creates an Orchestrator. emitter may be nil.
func New(questions *question.Generator, rag Querier, evaluator *evaluate.Evaluator, cfg config.Config, emitter progress.Emitter, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	limit := rate.Inf
	if d := cfg.DelayBetween.Std(); d > 0 {
		limit = rate.Every(d)
	}
	return &Orchestrator{
		questions:    questions,
		rag:          rag,
		evaluator:    evaluator,
		cfg:          cfg,
		emitter:      emitter,
		limiter:      rate.NewLimiter(limit, 1),
		log:          log,
		newSessionID: uuid.NewString,
	}
}

// RunItem executes the full pipeline for one item. It always returns a
// result: a RAG failure sets ErrorMessage and zeroes the scores and every
// cost component while keeping the generated question text.
func (o *Orchestrator) RunItem(ctx context.Context, item models.TestItem, sessionID string) models.TestResult {
	result := models.TestResult{
		ItemID:   item.ID,
		Category: item.Category,
	}

	var questionText string
	if item.CustomQuestion != "" {
		questionText = item.CustomQuestion
	} else {
		generated := o.questions.Generate(ctx, item)
		questionText = generated.Text
		result.CostInfo.QuestionGeneration = generated.Cost
	}
	result.GeneratedQuestion = questionText

	answer, err := o.rag.Query(ctx, questionText, sessionID)
	if err != nil {
		result.ErrorMessage = err.Error()
		result.CostInfo = models.CostInfo{}
		return result
	}
	result.RagAnswer = answer.Text
	result.Sources = answer.Sources
	result.ResponseTime = answer.Latency
	result.CostInfo.Rag = o.cfg.RagRates.Rates().Price(questionText, answer.Text)
	result.HasImageReference = evaluate.HasImageReference(answer.Text)

	var image []byte
	if item.ArtifactPath != "" {
		if data, rerr := os.ReadFile(item.ArtifactPath); rerr == nil {
			image = data
		}
	}
	scores, evalCost := o.evaluator.Evaluate(ctx, questionText, answer.Text, image)
	result.Scores = scores
	result.CostInfo.Evaluation = evalCost
	result.CostInfo.Sum()
	return result
}

// RunBatch runs every item of the catalog, category by category, honoring the
// per-category cap and the inter-item pacing. A failing item never aborts the
// batch; context cancellation does.
func (o *Orchestrator) RunBatch(ctx context.Context, catalog *corpus.Catalog) ([]models.TestResult, models.BatchSummary) {
	total := 0
	for _, category := range catalog.Categories() {
		total += o.capped(len(catalog.Items(category)))
	}
	progress.Emit(o.emitter, progress.Event{Type: "info", Total: total, Message: "starting batch"})
	o.log.WithFields(logrus.Fields{
		"items":    total,
		"sessions": sessionDescription(o.cfg.SessionScope),
	}).Info("starting batch")

	batchSession := ""
	if o.cfg.SessionScope == config.ScopeGlobal {
		batchSession = o.newSessionID()
	}

	results := make([]models.TestResult, 0, total)
	index := 0
	for _, category := range catalog.Categories() {
		items := catalog.Items(category)
		items = items[:o.capped(len(items))]
		progress.Emit(o.emitter, progress.Event{Type: "category", Category: category, Total: len(items)})

		categorySession := batchSession
		if o.cfg.SessionScope == config.ScopeCategory {
			categorySession = o.newSessionID()
		}

		for _, item := range items {
			if err := o.limiter.Wait(ctx); err != nil {
				o.log.WithError(err).Warn("batch interrupted")
				return results, Summarize(results)
			}

			index++
			progress.Emit(o.emitter, progress.Event{
				Type: "item", Index: index, Total: total,
				Category: category, Item: item.ID,
			})

			sessionID := categorySession
			if o.cfg.SessionScope == config.ScopeNone {
				sessionID = o.newSessionID()
			}

			result := o.RunItem(ctx, item, sessionID)
			results = append(results, result)

			if result.Succeeded() {
				progress.Emit(o.emitter, progress.Event{
					Type: "score", Index: index, Total: total, Item: item.ID,
					Score: result.Scores.Overall, Cost: result.CostInfo.Total,
				})
			} else {
				progress.Emit(o.emitter, progress.Event{
					Type: "error", Index: index, Total: total, Item: item.ID,
					Err: result.ErrorMessage,
				})
			}
		}
	}
	return results, Summarize(results)
}

func (o *Orchestrator) capped(n int) int {
	if o.cfg.MaxPerCategory > 0 && n > o.cfg.MaxPerCategory {
		return o.cfg.MaxPerCategory
	}
	return n
}

// Summarize aggregates batch results. Score means cover successful items
// only; image-reference rate and cost cover all items. Failed items carry a
// zeroed CostInfo, so including them leaves the total unchanged.
func Summarize(results []models.TestResult) models.BatchSummary {
	summary := models.BatchSummary{TotalTests: len(results)}
	if len(results) == 0 {
		return summary
	}

	var sumOverall, sumTechnical, sumCompleteness float64
	imageRefs := 0
	for i := range results {
		r := &results[i]
		summary.TotalCost += r.CostInfo.Total
		if r.HasImageReference {
			imageRefs++
		}
		if !r.Succeeded() {
			continue
		}
		summary.SuccessfulTests++
		if r.Scores.Overall > 0 {
			summary.ScoredTests++
		}
		sumOverall += r.Scores.Overall
		sumTechnical += r.Scores.TechnicalAccuracy
		sumCompleteness += r.Scores.Completeness
	}

	summary.SuccessRate = float64(summary.SuccessfulTests) / float64(summary.TotalTests)
	if summary.SuccessfulTests > 0 {
		n := float64(summary.SuccessfulTests)
		summary.AvgOverall = sumOverall / n
		summary.AvgTechnical = sumTechnical / n
		summary.AvgCompleteness = sumCompleteness / n
	}
	summary.ImageReferenceRate = float64(imageRefs) / float64(summary.TotalTests)
	summary.AvgCostPerTest = summary.TotalCost / float64(summary.TotalTests)
	return summary
}

// sessionDescription returns a human-readable note about session scoping for
// batch-start logging.
func sessionDescription(scope config.SessionScope) string {
	switch scope {
	case config.ScopeGlobal:
		return "one session for the whole batch"
	case config.ScopeCategory:
		return "one session per category"
	default:
		return "fresh session per item"
	}
}
