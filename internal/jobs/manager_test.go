package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/offer-scraper/internal/models"
	"github.com/maltedev/offer-scraper/internal/queue"
	"github.com/maltedev/offer-scraper/internal/scrape"
)

var errBadURL = errors.New("bad url")

type stubRunner struct {
	mu      sync.Mutex
	calls   []string
	block   chan struct{}
	started chan string
}

func newStubRunner() *stubRunner {
	return &stubRunner{started: make(chan string, 10)}
}

func (r *stubRunner) ValidateListingURL(raw string) error {
	if raw == "bad" {
		return errBadURL
	}
	return nil
}

func (r *stubRunner) RunWithID(ctx context.Context, runID, listingURL, filter string) *models.ScrapeResult {
	r.mu.Lock()
	r.calls = append(r.calls, runID)
	r.mu.Unlock()
	r.started <- runID

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return &models.ScrapeResult{RunID: runID, State: "failed", Error: &models.Error{Code: scrape.CodeCanceled}}
		}
	}
	if filter == "none" {
		return &models.ScrapeResult{RunID: runID, State: "failed", Error: &models.Error{Code: scrape.CodeNoOffersFound}}
	}
	return &models.ScrapeResult{RunID: runID, Success: true, State: "done", Count: 3}
}

func newManager(r Runner) *Manager {
	return NewManager(queue.NewInMemoryQueue(), r, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) Run {
	t.Helper()
	var run Run
	require.Eventually(t, func() bool {
		var err error
		run, err = m.Get(id)
		return err == nil && run.Status == want
	}, time.Second, 5*time.Millisecond)
	return run
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	m := newManager(newStubRunner())

	_, err := m.Submit("bad", "")
	assert.ErrorIs(t, err, errBadURL)
	assert.Empty(t, m.List())
}

func TestWorkerRunsQueuedJobs(t *testing.T) {
	runner := newStubRunner()
	m := newManager(runner)

	ok, err := m.Submit("https://funpay.com/users/1/", "")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, ok.Status)

	empty, err := m.Submit("https://funpay.com/users/1/", "none")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	done := waitForStatus(t, m, ok.ID, StatusDone)
	require.NotNil(t, done.Result)
	assert.Equal(t, 3, done.Result.Count)
	assert.Equal(t, "done", done.State)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)

	failed := waitForStatus(t, m, empty.ID, StatusFailed)
	assert.Equal(t, scrape.CodeNoOffersFound, failed.Result.Error.Code)

	runner.mu.Lock()
	assert.Equal(t, []string{ok.ID, empty.ID}, runner.calls)
	runner.mu.Unlock()
}

func TestCancelQueuedRun(t *testing.T) {
	m := newManager(newStubRunner())

	run, err := m.Submit("https://funpay.com/users/1/", "")
	require.NoError(t, err)

	require.NoError(t, m.Cancel(run.ID))
	got, err := m.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)

	assert.ErrorIs(t, m.Cancel(run.ID), ErrRunFinished)
	assert.ErrorIs(t, m.Cancel("missing"), ErrRunNotFound)
}

func TestCancelRunningRun(t *testing.T) {
	runner := newStubRunner()
	runner.block = make(chan struct{})
	m := newManager(runner)

	run, err := m.Submit("https://funpay.com/users/1/", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	<-runner.started
	waitForStatus(t, m, run.ID, StatusRunning)
	require.NoError(t, m.Cancel(run.ID))

	waitForStatus(t, m, run.ID, StatusCanceled)
}

func TestUpdateStateAndList(t *testing.T) {
	m := newManager(newStubRunner())

	first, err := m.Submit("https://funpay.com/users/1/", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Submit("https://funpay.com/users/2/", "")
	require.NoError(t, err)

	m.UpdateState(first.ID, "listing")
	m.UpdateState("missing", "listing")

	got, err := m.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "listing", got.State)

	runs := m.List()
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
}

func TestStartStopsWhenQueueCloses(t *testing.T) {
	q := queue.NewInMemoryQueue()
	m := NewManager(q, newStubRunner(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, q.Close())

	assert.NoError(t, m.Start(context.Background()))
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewManagerWithHistory(queue.NewInMemoryQueue(), newStubRunner(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)), 2)

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := m.Submit("https://funpay.com/users/1/", "")
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	waitForStatus(t, m, ids[2], StatusDone)

	_, err := m.Get(ids[0])
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.Len(t, m.List(), 2)
	assert.ErrorIs(t, m.Cancel(ids[1]), ErrRunFinished)
}
