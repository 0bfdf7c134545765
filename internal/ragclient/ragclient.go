// Package ragclient queries the RAG service under test over HTTP.
package ragclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hephlab/ragprobe/pkg/models"
)

// QueryError is returned once every retry attempt has failed. It carries the
// last failure so callers can record a meaningful per-item error message.
type QueryError struct {
	Attempts int
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

type queryRequest struct {
	UserQuery            string `json:"user_query"`
	SessionID            string `json:"sessionId,omitempty"`
	Streaming            bool   `json:"streaming"`
	UsePersistentSession bool   `json:"use_persistent_session"`
}

// queryResponse covers the answer field variants the service has shipped.
// The first non-empty of Response, Reply, Answer wins.
type queryResponse struct {
	Response string           `json:"response"`
	Reply    string           `json:"reply"`
	Answer   string           `json:"answer"`
	Sources  []responseSource `json:"sources"`
}

type responseSource struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Topic string  `json:"topic"`
	Page  int     `json:"page"`
}

// Client sends questions to a RAG endpoint with bounded retries.
type Client struct {
	url        string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	log        *logrus.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(context.Context, time.Duration) error
}

// New creates a Client. maxRetries is the total number of attempts and must
// be at least 1.
func New(url string, timeout time.Duration, maxRetries int, backoff time.Duration, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.New()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		url:        url,
		maxRetries: maxRetries,
		backoff:    backoff,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		sleep:      sleepCtx,
	}
}

// Query sends the question and returns the parsed answer. A 200 response
// always succeeds, even when the body carries no recognizable answer field;
// transport errors and non-200 statuses are retried with a fixed backoff and
// surface as *QueryError only after every attempt has failed.
func (c *Client) Query(ctx context.Context, question, sessionID string) (*models.Answer, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		answer, err := c.attempt(ctx, question, sessionID)
		if err == nil {
			return answer, nil
		}
		lastErr = err

		if attempt < c.maxRetries {
			c.log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"of":      c.maxRetries,
			}).Warn("query attempt failed, retrying")
			if serr := c.sleep(ctx, c.backoff); serr != nil {
				return nil, &QueryError{Attempts: attempt, Err: serr}
			}
		}
	}
	return nil, &QueryError{Attempts: c.maxRetries, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, question, sessionID string) (*models.Answer, error) {
	body, err := json.Marshal(queryRequest{
		UserQuery:            question,
		SessionID:            sessionID,
		Streaming:            false,
		UsePersistentSession: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	answer := &models.Answer{Raw: string(raw), Latency: latency}

	var parsed queryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// A 200 with an unparseable body still counts as an answer.
		return answer, nil
	}

	switch {
	case parsed.Response != "":
		answer.Text = parsed.Response
	case parsed.Reply != "":
		answer.Text = parsed.Reply
	case parsed.Answer != "":
		answer.Text = parsed.Answer
	}
	for _, s := range parsed.Sources {
		answer.Sources = append(answer.Sources, models.Source{
			Text:  s.Text,
			Score: s.Score,
			Topic: s.Topic,
			Page:  s.Page,
		})
	}
	return answer, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
