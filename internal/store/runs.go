package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hephlab/ragprobe/pkg/models"
)

// Run is a stored batch run with its summary.
type Run struct {
	ID         uuid.UUID
	CorpusPath string
	Summary    models.BatchSummary
	CreatedAt  time.Time
}

// CreateRunParams contains parameters for persisting a completed batch.
type CreateRunParams struct {
	CorpusPath string
	Summary    models.BatchSummary
	Results    []models.TestResult
}

// runColumns is the standard column list for run queries.
const runColumns = `id, corpus_path, summary, created_at`

// scanRun scans a row into a Run and unmarshals the summary JSON.
func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	var summaryJSON []byte
	err := row.Scan(&r.ID, &r.CorpusPath, &summaryJSON, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRun stores a run and its per-item results in one transaction.
func (db *DB) CreateRun(ctx context.Context, params CreateRunParams) (*Run, error) {
	summaryJSON, err := json.Marshal(params.Summary)
	if err != nil {
		return nil, err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO runs (corpus_path, summary)
		 VALUES ($1, $2)
		 RETURNING `+runColumns,
		params.CorpusPath, summaryJSON,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	for i := range params.Results {
		r := &params.Results[i]
		scoresJSON, err := json.Marshal(r.Scores)
		if err != nil {
			return nil, err
		}
		var sourcesJSON []byte
		if r.Sources != nil {
			if sourcesJSON, err = json.Marshal(r.Sources); err != nil {
				return nil, err
			}
		}
		costJSON, err := json.Marshal(r.CostInfo)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO results (run_id, item_id, category, generated_question, rag_answer,
			                      scores, sources, response_time_ms, has_image_reference, cost, error_message)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			run.ID, r.ItemID, r.Category, r.GeneratedQuestion, r.RagAnswer,
			scoresJSON, sourcesJSON, r.ResponseTime.Milliseconds(), r.HasImageReference,
			costJSON, nullable(r.ErrorMessage),
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID, or nil if it does not exist.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`,
		id,
	)
	return scanRun(row)
}

// ListRuns returns runs ordered by creation date descending.
func (db *DB) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var summaryJSON []byte
		if err := rows.Scan(&r.ID, &r.CorpusPath, &summaryJSON, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunResults retrieves the per-item results of a run in insertion order.
func (db *DB) GetRunResults(ctx context.Context, runID uuid.UUID) ([]models.TestResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT item_id, category, generated_question, rag_answer,
		        scores, sources, response_time_ms, has_image_reference, cost, error_message
		 FROM results WHERE run_id = $1 ORDER BY created_at, item_id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.TestResult
	for rows.Next() {
		var r models.TestResult
		var scoresJSON, sourcesJSON, costJSON []byte
		var responseMs int64
		var errMsg *string
		if err := rows.Scan(
			&r.ItemID, &r.Category, &r.GeneratedQuestion, &r.RagAnswer,
			&scoresJSON, &sourcesJSON, &responseMs, &r.HasImageReference, &costJSON, &errMsg,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(scoresJSON, &r.Scores); err != nil {
			return nil, err
		}
		if sourcesJSON != nil {
			if err := json.Unmarshal(sourcesJSON, &r.Sources); err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal(costJSON, &r.CostInfo); err != nil {
			return nil, err
		}
		r.ResponseTime = time.Duration(responseMs) * time.Millisecond
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteRun removes a run and, via cascade, its results.
func (db *DB) DeleteRun(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
