package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/ingest-worker/internal/chunker"
	"github.com/cuongbtq/ingest-worker/internal/parser"
	"github.com/cuongbtq/ingest-worker/internal/queue"
	"github.com/cuongbtq/ingest-worker/internal/worker/domain"
)

// fakeQueue is an httptest-backed stand-in for the remote queue/API
// service, recording every pipeline call the worker makes.
type fakeQueue struct {
	mu sync.Mutex

	loginStatus int
	leaseStatus int
	leaseJob    *domain.Job
	fileStatus  int
	fileBody    []byte

	loginCalls      int
	leaseCalls      int
	fetchCalls      int
	ingestCalls     int
	markFailedCalls int

	lastIngest       queue.IngestRequest
	lastFailedJobID  string
	lastFailedReason string

	server *httptest.Server
}

func newFakeQueue(t *testing.T) *fakeQueue {
	t.Helper()

	fq := &fakeQueue{
		loginStatus: http.StatusOK,
		leaseStatus: http.StatusCreated,
		fileStatus:  http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		fq.mu.Lock()
		defer fq.mu.Unlock()
		fq.loginCalls++
		w.WriteHeader(fq.loginStatus)
		if fq.loginStatus == http.StatusOK {
			w.Write([]byte(`{"token":"tok-test"}`))
		}
	})
	mux.HandleFunc("POST /leases", func(w http.ResponseWriter, r *http.Request) {
		fq.mu.Lock()
		defer fq.mu.Unlock()
		fq.leaseCalls++
		w.WriteHeader(fq.leaseStatus)
		if fq.leaseStatus == http.StatusCreated && fq.leaseJob != nil {
			json.NewEncoder(w).Encode(fq.leaseJob)
		}
	})
	mux.HandleFunc("GET /files/{entityID}/download", func(w http.ResponseWriter, r *http.Request) {
		fq.mu.Lock()
		defer fq.mu.Unlock()
		fq.fetchCalls++
		w.WriteHeader(fq.fileStatus)
		if fq.fileStatus == http.StatusOK {
			w.Write(fq.fileBody)
		}
	})
	mux.HandleFunc("POST /index", func(w http.ResponseWriter, r *http.Request) {
		fq.mu.Lock()
		defer fq.mu.Unlock()
		fq.ingestCalls++
		if err := json.NewDecoder(r.Body).Decode(&fq.lastIngest); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PATCH /jobs/{jobID}/failed", func(w http.ResponseWriter, r *http.Request) {
		fq.mu.Lock()
		defer fq.mu.Unlock()
		fq.markFailedCalls++
		fq.lastFailedJobID = r.PathValue("jobID")
		var req struct {
			LeaserID string `json:"leaserId"`
			Reason   string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fq.lastFailedReason = req.Reason
		w.WriteHeader(http.StatusNoContent)
	})

	fq.server = httptest.NewServer(mux)
	t.Cleanup(fq.server.Close)

	return fq
}

// queueCalls is a point-in-time copy of the fake's recorded traffic.
type queueCalls struct {
	loginCalls       int
	leaseCalls       int
	fetchCalls       int
	ingestCalls      int
	markFailedCalls  int
	lastIngest       queue.IngestRequest
	lastFailedJobID  string
	lastFailedReason string
}

func (fq *fakeQueue) snapshot() queueCalls {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return queueCalls{
		loginCalls:       fq.loginCalls,
		leaseCalls:       fq.leaseCalls,
		fetchCalls:       fq.fetchCalls,
		ingestCalls:      fq.ingestCalls,
		markFailedCalls:  fq.markFailedCalls,
		lastIngest:       fq.lastIngest,
		lastFailedJobID:  fq.lastFailedJobID,
		lastFailedReason: fq.lastFailedReason,
	}
}

func newTestWorker(t *testing.T, baseURL string) *Worker {
	t.Helper()

	p, err := parser.New(parser.TypePlainText)
	require.NoError(t, err)

	return NewWorker(&Config{
		Logger: slog.New(slog.DiscardHandler),
		Queue: queue.NewClient(&queue.Config{
			BaseURL:        baseURL,
			Email:          "worker@example.com",
			Password:       "secret",
			RequestTimeout: 5 * time.Second,
		}, slog.New(slog.DiscardHandler)),
		Parser:        p,
		Chunker:       chunker.NewSlidingWindow(),
		LeaserID:      "worker-a",
		LeaseDuration: 60 * time.Second,
		InstanceID:    "worker-a-test",
		IdleBackoff:   time.Millisecond,
		AuthBackoff:   time.Millisecond,
		ErrorBackoff:  time.Millisecond,
	})
}

func TestProcessNext_HappyPath(t *testing.T) {
	// 600 characters, single paragraph, a space every 5 characters.
	text := strings.Repeat("abcd ", 120)
	require.Len(t, text, 600)

	fq := newFakeQueue(t)
	fq.leaseJob = &domain.Job{
		ID:       "job-1",
		EntityID: "file-1",
		Leaser:   "worker-a",
		TaskType: parser.ContentTypePlainText,
	}
	fq.fileBody = []byte(text)

	w := newTestWorker(t, fq.server.URL)
	err := w.processNext(context.Background())
	require.NoError(t, err)

	got := fq.snapshot()
	assert.Equal(t, 1, got.leaseCalls)
	assert.Equal(t, 1, got.fetchCalls)
	assert.Equal(t, 1, got.ingestCalls)
	assert.Zero(t, got.markFailedCalls)

	assert.Equal(t, "file-1", got.lastIngest.ID)
	assert.Equal(t, "job-1", got.lastIngest.JobID)
	assert.Equal(t, "worker-a", got.lastIngest.LeaserID)
	assert.False(t, got.lastIngest.Replace)

	require.NotEmpty(t, got.lastIngest.Chunks)
	last := got.lastIngest.Chunks[len(got.lastIngest.Chunks)-1]
	assert.Equal(t, text[len(text)-1], last[len(last)-1],
		"last chunk must end with the source text's last character")
}

func TestProcessNext_UpdateSentinelSetsReplace(t *testing.T) {
	fq := newFakeQueue(t)
	fq.leaseJob = &domain.Job{
		ID:       "job-2",
		EntityID: "update",
		Leaser:   "worker-a",
		TaskType: parser.ContentTypePlainText,
	}
	fq.fileBody = []byte("fresh contents replacing the old chunks")

	w := newTestWorker(t, fq.server.URL)
	err := w.processNext(context.Background())
	require.NoError(t, err)

	got := fq.snapshot()
	assert.Equal(t, 1, got.ingestCalls)
	assert.True(t, got.lastIngest.Replace)
}

func TestProcessNext_FetchFailureMarksJobFailed(t *testing.T) {
	fq := newFakeQueue(t)
	fq.leaseJob = &domain.Job{
		ID:       "job-3",
		EntityID: "file-3",
		Leaser:   "worker-a",
		TaskType: parser.ContentTypePlainText,
	}
	fq.fileStatus = http.StatusInternalServerError

	w := newTestWorker(t, fq.server.URL)
	err := w.processNext(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoJobAvailable)

	got := fq.snapshot()
	assert.Equal(t, 1, got.markFailedCalls)
	assert.Equal(t, "job-3", got.lastFailedJobID)
	assert.Contains(t, got.lastFailedReason, "fetch")
	assert.Zero(t, got.ingestCalls, "ingest must not run after a failed fetch")
}

func TestProcessNext_NoJobAvailable(t *testing.T) {
	fq := newFakeQueue(t)
	fq.leaseStatus = http.StatusNotFound

	w := newTestWorker(t, fq.server.URL)
	err := w.processNext(context.Background())
	require.ErrorIs(t, err, domain.ErrNoJobAvailable)

	got := fq.snapshot()
	assert.Equal(t, 1, got.leaseCalls)
	assert.Zero(t, got.fetchCalls)
	assert.Zero(t, got.ingestCalls)
	assert.Zero(t, got.markFailedCalls, "an empty lease must never be reported as a failure")
}

func TestRun_InitialLoginFailureIsFatal(t *testing.T) {
	fq := newFakeQueue(t)
	fq.loginStatus = http.StatusUnauthorized

	w := newTestWorker(t, fq.server.URL)
	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial login failed")
	assert.Zero(t, fq.snapshot().leaseCalls)
}

func TestRun_IdlesOnEmptyQueueUntilCanceled(t *testing.T) {
	fq := newFakeQueue(t)
	fq.leaseStatus = http.StatusNotFound

	w := newTestWorker(t, fq.server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	// Let a few idle cycles pass, then shut down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	got := fq.snapshot()
	assert.Equal(t, 1, got.loginCalls)
	assert.GreaterOrEqual(t, got.leaseCalls, 1)
	assert.Zero(t, got.markFailedCalls)

	stats := w.Stats()
	assert.Equal(t, "worker-a-test", stats.InstanceID)
	assert.Equal(t, "worker-a", stats.LeaserID)
	assert.GreaterOrEqual(t, stats.Idle, uint64(1))
	assert.GreaterOrEqual(t, stats.Cycles, stats.Idle)
	assert.Zero(t, stats.Completed)
}

func TestRun_ProcessesJobsThenIdles(t *testing.T) {
	text := strings.Repeat("word ", 200)

	fq := newFakeQueue(t)
	fq.leaseJob = &domain.Job{
		ID:       "job-9",
		EntityID: "file-9",
		Leaser:   "worker-a",
		TaskType: parser.ContentTypePlainText,
	}
	fq.fileBody = []byte(text)

	w := newTestWorker(t, fq.server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	// Let the worker complete at least one job, then drain the queue.
	require.Eventually(t, func() bool {
		return w.Stats().Completed >= 1
	}, 2*time.Second, 5*time.Millisecond)

	fq.mu.Lock()
	fq.leaseStatus = http.StatusNotFound
	fq.mu.Unlock()

	require.Eventually(t, func() bool {
		return w.Stats().Idle >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	got := fq.snapshot()
	assert.GreaterOrEqual(t, got.ingestCalls, 1)
	assert.Zero(t, got.markFailedCalls)
}
