// Package question produces one evaluation question per corpus item, either
// through a vision-capable LLM backend or a deterministic offline fallback.
package question

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hephlab/ragprobe/internal/cost"
	"github.com/hephlab/ragprobe/internal/llm"
	"github.com/hephlab/ragprobe/pkg/models"
)

const generationPrompt = `This is a page from an engineering reference document. Generate 1 technical question based on the content visible on the page.

Requirements:
1. The question must be grounded in technical content actually visible on the page
2. The question must be specific and answerable from the page
3. Prefer material properties, specifications, and design requirements

Output strictly in this format:
1. [the question]`

// fallbackQuestion is the last-resort question when everything else fails.
const fallbackQuestion = "What are the relevant technical requirements and specifications?"

// categoryTemplates maps category-name fragments to offline questions.
// Matching is ordered and case-insensitive on the fragment.
var categoryTemplates = []struct {
	fragment string
	question string
}{
	{"material", "What materials are introduced here, and what are their key properties and applications?"},
	{"connector", "What is the structure and function of this connector?"},
	{"harness", "What are the notable design points of this wire harness?"},
	{"cable", "What are the specification parameters and design requirements for this cable?"},
	{"ffc", "What are the preload requirements and design principles for FFC assemblies?"},
	{"test", "What is the purpose of this test procedure and what are its steps?"},
	{"audit", "Which audit clauses apply here and what do they require?"},
}

// Generator produces questions for corpus items. A nil backend means the
// offline template path is always used.
type Generator struct {
	backend llm.Backend
	rates   cost.Rates
	log     *logrus.Logger
}

// New creates a Generator. backend may be nil.
func New(backend llm.Backend, rates cost.Rates, log *logrus.Logger) *Generator {
	if log == nil {
		log = logrus.New()
	}
	return &Generator{backend: backend, rates: rates, log: log}
}

// Generate returns a question for the item. It never fails: any backend or
// parse problem degrades to the deterministic offline question with zero
// cost, logged at warn level.
func (g *Generator) Generate(ctx context.Context, item models.TestItem) models.GeneratedQuestion {
	if g.backend == nil {
		return g.offline(item)
	}

	image, err := os.ReadFile(item.ArtifactPath)
	if err != nil {
		g.log.WithError(err).WithField("item", item.ID).Warn("failed to read artifact, using offline question")
		return g.offline(item)
	}

	resp, err := g.backend.Invoke(ctx, generationPrompt, image)
	if err != nil {
		g.log.WithError(err).WithField("item", item.ID).Warn("question generation backend failed, using offline question")
		return g.offline(item)
	}

	text, ok := parseQuestion(resp.Content)
	if !ok {
		g.log.WithField("item", item.ID).Warn("could not parse generated question, using offline question")
		return g.offline(item)
	}

	return models.GeneratedQuestion{
		Text:       text,
		SourceItem: item.ID,
		Cost:       g.rates.Price(generationPrompt, text),
		RawOutput:  resp.Content,
	}
}

// offline derives a question deterministically from the item's category.
func (g *Generator) offline(item models.TestItem) models.GeneratedQuestion {
	return models.GeneratedQuestion{
		Text:       TemplateFor(item.Category),
		SourceItem: item.ID,
	}
}

// TemplateFor returns the offline question for a category. Same category,
// same question, always.
func TemplateFor(category string) string {
	lower := strings.ToLower(category)
	for _, tpl := range categoryTemplates {
		if strings.Contains(lower, tpl.fragment) {
			return tpl.question
		}
	}
	if category == "" {
		return fallbackQuestion
	}
	return "Describe the technical content covered by " + category + "."
}

// parseQuestion extracts the question text from a backend response: the
// first numbered-list entry, else the first line ending in a question mark,
// else the first non-empty line.
func parseQuestion(response string) (string, bool) {
	lines := strings.Split(response, "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) > 3 && line[0] >= '1' && line[0] <= '9' && strings.HasPrefix(line[1:], ". ") {
			q := strings.TrimSpace(line[3:])
			q = strings.Trim(q, "[]")
			if q != "" {
				return q, true
			}
		}
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, "?") {
			return line, true
		}
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			return line, true
		}
	}

	return "", false
}
