package ragclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, maxRetries int, log *logrus.Logger) *Client {
	c := New(url, 5*time.Second, maxRetries, 2*time.Second, log)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestQuery_Success(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"response": "The pitch is 0.5mm.",
			"sources": []map[string]any{
				{"text": "spec excerpt", "score": 0.91, "topic": "connectors", "page": 12},
			},
		})
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	c := newTestClient(srv.URL, 3, log)

	answer, err := c.Query(context.Background(), "what pitch?", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "The pitch is 0.5mm.", answer.Text)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "spec excerpt", answer.Sources[0].Text)
	assert.InDelta(t, 0.91, answer.Sources[0].Score, 1e-9)
	assert.Equal(t, 12, answer.Sources[0].Page)
	assert.Greater(t, answer.Latency, time.Duration(0))

	assert.Equal(t, "what pitch?", gotBody["user_query"])
	assert.Equal(t, "sess-1", gotBody["sessionId"])
	assert.Equal(t, false, gotBody["streaming"])
	assert.Equal(t, true, gotBody["use_persistent_session"])
}

func TestQuery_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"reply": "recovered"})
	}))
	defer srv.Close()

	log, hook := logtest.NewNullLogger()
	c := newTestClient(srv.URL, 3, log)

	answer, err := c.Query(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer.Text)
	assert.Equal(t, int32(3), calls.Load())

	warns := 0
	for _, e := range hook.Entries {
		if e.Level == logrus.WarnLevel {
			warns++
		}
	}
	assert.Equal(t, 2, warns)
}

func TestQuery_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	c := newTestClient(srv.URL, 3, log)

	answer, err := c.Query(context.Background(), "q", "")
	assert.Nil(t, answer)
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, 3, qerr.Attempts)
	assert.Contains(t, qerr.Error(), "status 500")
	assert.Equal(t, int32(3), calls.Load())
}

func TestQuery_FirstSuccessReturnsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"answer": "ok"})
	}))
	defer srv.Close()

	log, hook := logtest.NewNullLogger()
	c := newTestClient(srv.URL, 3, log)

	answer, err := c.Query(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer.Text)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, hook.Entries)
}

func TestQuery_MissingAnswerFieldIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	c := newTestClient(srv.URL, 3, log)

	answer, err := c.Query(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Empty(t, answer.Text)
	assert.NotEmpty(t, answer.Raw)
}

func TestQuery_UnparseableBodyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text, not json"))
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	c := newTestClient(srv.URL, 3, log)

	answer, err := c.Query(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Empty(t, answer.Text)
	assert.Equal(t, "plain text, not json", answer.Raw)
}

func TestQuery_AnswerFieldPrecedence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"response": "from response",
			"reply":    "from reply",
			"answer":   "from answer",
		})
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	c := newTestClient(srv.URL, 3, log)

	answer, err := c.Query(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "from response", answer.Text)
}
