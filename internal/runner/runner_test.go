package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephlab/ragprobe/internal/config"
	"github.com/hephlab/ragprobe/internal/corpus"
	"github.com/hephlab/ragprobe/internal/cost"
	"github.com/hephlab/ragprobe/internal/evaluate"
	"github.com/hephlab/ragprobe/internal/llm"
	"github.com/hephlab/ragprobe/internal/progress"
	"github.com/hephlab/ragprobe/internal/question"
	"github.com/hephlab/ragprobe/pkg/models"
)

// fakeVisionBackend always produces a parseable numbered question, so the
// generator's priced path is exercised.
type fakeVisionBackend struct{}

func (fakeVisionBackend) Invoke(context.Context, string, []byte) (*llm.Response, error) {
	return &llm.Response{Content: "1. [What is the crimp height tolerance?]"}, nil
}

func (fakeVisionBackend) Provider() string { return "fake" }
func (fakeVisionBackend) Model() string    { return "fake-model" }

type fakeQuerier struct {
	mu       sync.Mutex
	calls    int
	sessions []string
	failOn   map[int]bool // 1-based call numbers that fail
	answer   string
}

func (f *fakeQuerier) Query(_ context.Context, _ string, sessionID string) (*models.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sessions = append(f.sessions, sessionID)
	if f.failOn[f.calls] {
		return nil, errors.New("connection refused")
	}
	return &models.Answer{Text: f.answer, Latency: 5 * time.Millisecond}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) typed(kind string) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, ev := range r.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.DelayBetween = 0
	return *cfg
}

func newOrchestrator(t *testing.T, rag Querier, cfg config.Config, emitter progress.Emitter) *Orchestrator {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	gen := question.New(nil, cost.Rates{}, log)
	eval := evaluate.New(nil, cfg.Weights, cost.Rates{}, log)
	o := New(gen, rag, eval, cfg, emitter, log)
	session := 0
	o.newSessionID = func() string {
		session++
		return fmt.Sprintf("session-%d", session)
	}
	return o
}

// writeCatalog lays out categories as subdirectories with n items each.
func writeCatalog(t *testing.T, categories map[string]int) *corpus.Catalog {
	t.Helper()
	root := t.TempDir()
	for category, n := range categories {
		dir := filepath.Join(root, category)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := 0; i < n; i++ {
			path := filepath.Join(dir, fmt.Sprintf("page_%02d.png", i))
			require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644))
		}
	}
	catalog, err := corpus.Discover(root, corpus.DefaultRules)
	require.NoError(t, err)
	return catalog
}

func TestRunItem_Success(t *testing.T) {
	rag := &fakeQuerier{answer: "See the diagram. The harness material specification requires tensile tests and strain relief at every connector exit point to meet the design requirement."}
	o := newOrchestrator(t, rag, testConfig(), nil)

	item := models.TestItem{ID: "a/x.png", Category: "wire_harness"}
	result := o.RunItem(context.Background(), item, "s1")

	assert.True(t, result.Succeeded())
	assert.Equal(t, "a/x.png", result.ItemID)
	assert.NotEmpty(t, result.GeneratedQuestion)
	assert.Equal(t, rag.answer, result.RagAnswer)
	assert.True(t, result.HasImageReference)
	assert.Greater(t, result.Scores.Overall, 0.0)
	assert.Greater(t, result.CostInfo.Rag, 0.0)
	assert.InDelta(t, result.CostInfo.QuestionGeneration+result.CostInfo.Evaluation+result.CostInfo.Rag,
		result.CostInfo.Total, 1e-12)
}

func TestRunItem_CustomQuestionSkipsGeneration(t *testing.T) {
	rag := &fakeQuerier{answer: "ok"}
	o := newOrchestrator(t, rag, testConfig(), nil)

	item := models.TestItem{ID: "row_1", Category: "row_1", CustomQuestion: "What is the bend radius?"}
	result := o.RunItem(context.Background(), item, "")

	assert.Equal(t, "What is the bend radius?", result.GeneratedQuestion)
	assert.Zero(t, result.CostInfo.QuestionGeneration)
}

func TestRunItem_RagFailurePreservesQuestion(t *testing.T) {
	rag := &fakeQuerier{failOn: map[int]bool{1: true}}
	o := newOrchestrator(t, rag, testConfig(), nil)

	item := models.TestItem{ID: "b/y.png", Category: "cable_assembly"}
	result := o.RunItem(context.Background(), item, "")

	assert.False(t, result.Succeeded())
	assert.Contains(t, result.ErrorMessage, "connection refused")
	assert.NotEmpty(t, result.GeneratedQuestion)
	assert.Empty(t, result.RagAnswer)
	assert.Zero(t, result.Scores)
	assert.Zero(t, result.CostInfo)
}

func TestRunItem_RagFailureZeroesCost(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	rates := cost.Rates{InputPerToken: 0.000012, OutputPerToken: 0.00006}
	gen := question.New(fakeVisionBackend{}, rates, log)
	cfg := testConfig()
	eval := evaluate.New(nil, cfg.Weights, cost.Rates{}, log)
	rag := &fakeQuerier{failOn: map[int]bool{1: true}}
	o := New(gen, rag, eval, cfg, nil, log)

	item := writeArtifact(t)

	// The priced generation path really does cost something.
	require.Greater(t, gen.Generate(context.Background(), item).Cost, 0.0)

	result := o.RunItem(context.Background(), item, "")

	assert.False(t, result.Succeeded())
	assert.Equal(t, "What is the crimp height tolerance?", result.GeneratedQuestion)
	assert.Equal(t, 0.0, result.CostInfo.QuestionGeneration)
	assert.Equal(t, 0.0, result.CostInfo.Evaluation)
	assert.Equal(t, 0.0, result.CostInfo.Rag)
	assert.Equal(t, 0.0, result.CostInfo.Total)
}

func writeArtifact(t *testing.T) models.TestItem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page_01.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644))
	return models.TestItem{ID: path, Category: "wire_harness", ArtifactPath: path}
}

func TestRunBatch_SingleFailureDoesNotAbort(t *testing.T) {
	catalog := writeCatalog(t, map[string]int{"alpha": 3})
	rag := &fakeQuerier{answer: "fine", failOn: map[int]bool{2: true}}
	emitter := &recordingEmitter{}
	o := newOrchestrator(t, rag, testConfig(), emitter)

	results, summary := o.RunBatch(context.Background(), catalog)

	require.Len(t, results, 3)
	assert.Equal(t, 3, summary.TotalTests)
	assert.Equal(t, 2, summary.SuccessfulTests)
	assert.InDelta(t, 2.0/3.0, summary.SuccessRate, 1e-9)
	assert.Len(t, emitter.typed("item"), 3)
	assert.Len(t, emitter.typed("score"), 2)
	assert.Len(t, emitter.typed("error"), 1)
}

func TestRunBatch_PerCategoryCap(t *testing.T) {
	catalog := writeCatalog(t, map[string]int{"alpha": 4, "beta": 2})
	cfg := testConfig()
	cfg.MaxPerCategory = 3
	rag := &fakeQuerier{answer: "fine"}
	o := newOrchestrator(t, rag, cfg, nil)

	results, summary := o.RunBatch(context.Background(), catalog)

	assert.Len(t, results, 5) // 3 from alpha, 2 from beta
	assert.Equal(t, 5, summary.TotalTests)
}

func TestRunBatch_SessionScopes(t *testing.T) {
	cases := []struct {
		scope config.SessionScope
		want  []string
	}{
		{config.ScopeGlobal, []string{"session-1", "session-1", "session-1", "session-1"}},
		{config.ScopeCategory, []string{"session-1", "session-1", "session-2", "session-2"}},
		{config.ScopeNone, []string{"session-1", "session-2", "session-3", "session-4"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.scope), func(t *testing.T) {
			catalog := writeCatalog(t, map[string]int{"alpha": 2, "beta": 2})
			cfg := testConfig()
			cfg.SessionScope = tc.scope
			rag := &fakeQuerier{answer: "fine"}
			o := newOrchestrator(t, rag, cfg, nil)

			o.RunBatch(context.Background(), catalog)
			assert.Equal(t, tc.want, rag.sessions)
		})
	}
}

func TestRunBatch_CategoryOrder(t *testing.T) {
	catalog := writeCatalog(t, map[string]int{"zeta": 1, "alpha": 1, "mid": 1})
	rag := &fakeQuerier{answer: "fine"}
	o := newOrchestrator(t, rag, testConfig(), nil)

	results, _ := o.RunBatch(context.Background(), catalog)

	require.Len(t, results, 3)
	assert.Equal(t, "alpha", results[0].Category)
	assert.Equal(t, "mid", results[1].Category)
	assert.Equal(t, "zeta", results[2].Category)
}

func TestSummarize(t *testing.T) {
	results := []models.TestResult{
		{
			Scores:            models.Scores{Overall: 0.8, TechnicalAccuracy: 0.9, Completeness: 0.7},
			HasImageReference: true,
			CostInfo:          models.CostInfo{Total: 0.02},
		},
		{
			Scores:   models.Scores{Overall: 0.4, TechnicalAccuracy: 0.5, Completeness: 0.3},
			CostInfo: models.CostInfo{Total: 0.01},
		},
		{
			ErrorMessage: "query failed after 3 attempts",
		},
	}

	s := Summarize(results)

	assert.Equal(t, 3, s.TotalTests)
	assert.Equal(t, 2, s.SuccessfulTests)
	assert.Equal(t, 2, s.ScoredTests)
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-9)
	assert.InDelta(t, 0.6, s.AvgOverall, 1e-9)
	assert.InDelta(t, 0.7, s.AvgTechnical, 1e-9)
	assert.InDelta(t, 0.5, s.AvgCompleteness, 1e-9)
	assert.InDelta(t, 1.0/3.0, s.ImageReferenceRate, 1e-9)
	assert.InDelta(t, 0.03, s.TotalCost, 1e-9)
	assert.InDelta(t, 0.01, s.AvgCostPerTest, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.TotalTests)
	assert.Zero(t, s.SuccessRate)
	assert.Zero(t, s.TotalCost)
}

func TestSummarize_AllFailed(t *testing.T) {
	results := []models.TestResult{
		{ErrorMessage: "down"},
		{ErrorMessage: "down"},
	}
	s := Summarize(results)
	assert.Zero(t, s.SuccessfulTests)
	assert.Zero(t, s.AvgOverall)
	assert.Zero(t, s.SuccessRate)
}
