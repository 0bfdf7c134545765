package models

import "time"

// TestItem is one evaluable unit of the corpus. Immutable once discovered.
type TestItem struct {
	// ID identifies the item: a file path for directory corpora, or a
	// row label for question-file corpora.
	ID       string `json:"id"`
	Category string `json:"category"`
	// CustomQuestion, when non-empty, bypasses question generation.
	CustomQuestion string `json:"custom_question,omitempty"`
	// ArtifactPath points at the source image/document, if any.
	ArtifactPath string `json:"artifact_path,omitempty"`
}

// GeneratedQuestion is the output of the question-generation stage.
type GeneratedQuestion struct {
	Text       string  `json:"text"`
	SourceItem string  `json:"source_item"`
	Cost       float64 `json:"cost"`
	// RawOutput is the unparsed backend response, empty on the fallback path.
	RawOutput string `json:"raw_output,omitempty"`
}

// Source is one retrieval passage returned alongside a RAG answer.
type Source struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Topic string  `json:"topic,omitempty"`
	Page  int     `json:"page,omitempty"`
}

// Answer is the output of the RAG query stage.
type Answer struct {
	Text    string        `json:"text"`
	Raw     string        `json:"raw,omitempty"`
	Sources []Source      `json:"sources,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Scores holds per-criterion evaluation scores, each in [0, 1].
// Overall is always the configured weighted sum, never estimated separately.
type Scores struct {
	TechnicalAccuracy float64 `json:"technical_accuracy"`
	Completeness      float64 `json:"completeness"`
	Clarity           float64 `json:"clarity"`
	// ImageReference holds the relevance score in the no-image variant.
	ImageReference float64 `json:"image_reference"`
	Overall        float64 `json:"overall_score"`
}

// CostInfo breaks down the estimated spend for one test.
type CostInfo struct {
	QuestionGeneration float64 `json:"question_generation_cost"`
	Evaluation         float64 `json:"evaluation_cost"`
	Rag                float64 `json:"rag_cost"`
	Total              float64 `json:"total_cost"`
}

// Sum recomputes Total from the three components and returns it.
// Callers must invoke it whenever a component changes.
func (c *CostInfo) Sum() float64 {
	c.Total = c.QuestionGeneration + c.Evaluation + c.Rag
	return c.Total
}

// TestResult is the terminal record for one item. Either ErrorMessage is set
// and the scores and cost components are all zeroed, or ErrorMessage is empty
// and the scores come from a completed evaluation. Consumers must check
// ErrorMessage, not score values, to determine success.
type TestResult struct {
	ItemID            string        `json:"item_id"`
	Category          string        `json:"category"`
	GeneratedQuestion string        `json:"generated_question"`
	RagAnswer         string        `json:"rag_answer"`
	Scores            Scores        `json:"evaluation_scores"`
	Sources           []Source      `json:"sources,omitempty"`
	ResponseTime      time.Duration `json:"response_time"`
	HasImageReference bool          `json:"has_image_reference"`
	CostInfo          CostInfo      `json:"cost_info"`
	ErrorMessage      string        `json:"error_message,omitempty"`
}

// Succeeded reports whether the result completed the full pipeline.
// A deliberate 0.0 evaluation still counts as success; only transport
// failures set ErrorMessage.
func (r *TestResult) Succeeded() bool {
	return r.ErrorMessage == ""
}

// BatchSummary aggregates a completed batch.
type BatchSummary struct {
	TotalTests      int     `json:"total_tests"`
	SuccessfulTests int     `json:"successful_tests"`
	// ScoredTests counts successful results with Overall > 0. Kept separate
	// from SuccessfulTests so low-quality answers are visible without being
	// conflated with transport failures.
	ScoredTests        int     `json:"scored_tests"`
	SuccessRate        float64 `json:"success_rate"`
	AvgOverall         float64 `json:"avg_overall_score"`
	AvgTechnical       float64 `json:"avg_technical_accuracy"`
	AvgCompleteness    float64 `json:"avg_completeness"`
	ImageReferenceRate float64 `json:"image_reference_rate"`
	TotalCost          float64 `json:"total_cost"`
	AvgCostPerTest     float64 `json:"avg_cost_per_test"`
}
