package corpus

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/hephlab/ragprobe/pkg/models"
)

// questionColumns are the header names recognized as the question column,
// tried in order.
var questionColumns = []string{"question", "questions", "query", "user_query"}

// imageColumns are the header names recognized as the optional artifact
// path column.
var imageColumns = []string{"image_path", "image", "image_file"}

// LoadQuestionFile reads a CSV with a question column (and an optional image
// path column) into a catalog of pre-supplied questions. Rows with an empty
// question are skipped. Each row becomes its own category so reports show
// per-row results, matching the directory flow's grouping.
func LoadQuestionFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open question file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse question file: %w", err)
	}
	if len(records) == 0 {
		return build(map[string][]models.TestItem{}), nil
	}

	header := records[0]
	questionIdx := findColumn(header, questionColumns)
	if questionIdx < 0 {
		return nil, fmt.Errorf("question file has no question column (looked for %s)", strings.Join(questionColumns, ", "))
	}
	imageIdx := findColumn(header, imageColumns)

	items := make(map[string][]models.TestItem)
	for i, record := range records[1:] {
		if questionIdx >= len(record) {
			continue
		}
		question := strings.TrimSpace(record[questionIdx])
		if question == "" {
			continue
		}

		artifact := ""
		if imageIdx >= 0 && imageIdx < len(record) {
			artifact = strings.TrimSpace(record[imageIdx])
		}

		category := fmt.Sprintf("row_%d", i+1)
		items[category] = append(items[category], models.TestItem{
			ID:             category,
			Category:       category,
			CustomQuestion: question,
			ArtifactPath:   artifact,
		})
	}

	return build(items), nil
}

func findColumn(header []string, names []string) int {
	for _, name := range names {
		for i, col := range header {
			if strings.EqualFold(strings.TrimSpace(col), name) {
				return i
			}
		}
	}
	return -1
}
