// Package jobs queues scrape runs requested over HTTP and executes them one
// at a time.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maltedev/offer-scraper/internal/metrics"
	"github.com/maltedev/offer-scraper/internal/models"
	"github.com/maltedev/offer-scraper/internal/queue"
	"github.com/maltedev/offer-scraper/internal/scrape"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// HistorySize bounds how many finished runs stay queryable.
const HistorySize = 200

// Runner is satisfied by *scrape.Orchestrator.
type Runner interface {
	RunWithID(ctx context.Context, runID, listingURL, filter string) *models.ScrapeResult
	ValidateListingURL(raw string) error
}

type Run struct {
	ID         string               `json:"id"`
	URL        string               `json:"url"`
	Filter     string               `json:"filter"`
	Status     Status               `json:"status"`
	State      string               `json:"state,omitempty"`
	Result     *models.ScrapeResult `json:"result,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
}

// Manager keeps queued and running runs until they finish, then moves them
// to a bounded history.
type Manager struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	history *lru.Cache[string, *Run]
	cancels map[string]context.CancelFunc

	queue   queue.Queue
	runner  Runner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewManager(q queue.Queue, runner Runner, m *metrics.Metrics, logger *slog.Logger) *Manager {
	return NewManagerWithHistory(q, runner, m, logger, HistorySize)
}

func NewManagerWithHistory(q queue.Queue, runner Runner, m *metrics.Metrics, logger *slog.Logger, historySize int) *Manager {
	if historySize <= 0 {
		historySize = HistorySize
	}
	history, _ := lru.New[string, *Run](historySize)

	return &Manager{
		runs:    make(map[string]*Run),
		history: history,
		cancels: make(map[string]context.CancelFunc),
		queue:   q,
		runner:  runner,
		metrics: m,
		logger:  logger.With("component", "jobs"),
	}
}

// Submit validates the listing URL and queues a run.
func (m *Manager) Submit(listingURL, filter string) (Run, error) {
	if err := m.runner.ValidateListingURL(listingURL); err != nil {
		return Run{}, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		URL:       listingURL,
		Filter:    filter,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	if err := m.queue.Push(&queue.Task{ID: run.ID, URL: listingURL, Filter: filter, CreatedAt: run.CreatedAt}); err != nil {
		m.mu.Lock()
		delete(m.runs, run.ID)
		m.mu.Unlock()
		return Run{}, fmt.Errorf("failed to queue run: %w", err)
	}
	m.metrics.SetQueueDepth(m.queue.Size())

	m.logger.Info("run queued", "run_id", run.ID, "url", listingURL, "filter", filter)
	return m.snapshot(run), nil
}

func (m *Manager) Get(id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if run, ok := m.runs[id]; ok {
		return *run, nil
	}
	if run, ok := m.history.Peek(id); ok {
		return *run, nil
	}
	return Run{}, ErrRunNotFound
}

// List returns every known run, newest first.
func (m *Manager) List() []Run {
	m.mu.RLock()
	runs := make([]Run, 0, len(m.runs)+m.history.Len())
	for _, run := range m.runs {
		runs = append(runs, *run)
	}
	for _, run := range m.history.Values() {
		runs = append(runs, *run)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs
}

// Cancel drops a queued run or interrupts the running one.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		if m.history.Contains(id) {
			return ErrRunFinished
		}
		return ErrRunNotFound
	}

	switch run.Status {
	case StatusQueued:
		if m.queue.Remove(id) {
			now := time.Now()
			run.Status = StatusCanceled
			run.FinishedAt = &now
			m.retire(run)
			m.metrics.SetQueueDepth(m.queue.Size())
			return nil
		}
		return ErrRunFinished
	case StatusRunning:
		if cancel, ok := m.cancels[id]; ok {
			cancel()
		}
		return nil
	default:
		return ErrRunFinished
	}
}

// UpdateState records the orchestrator state of a running run.
func (m *Manager) UpdateState(id, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run, ok := m.runs[id]; ok {
		run.State = state
	}
}

// Start runs queued tasks sequentially until ctx ends or the queue closes.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("worker started")
	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				m.logger.Info("worker stopped, queue closed")
				return nil
			}
			m.logger.Info("worker stopped")
			return err
		}
		m.metrics.SetQueueDepth(m.queue.Size())
		m.execute(ctx, task)
	}
}

func (m *Manager) execute(ctx context.Context, task *queue.Task) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	run, ok := m.runs[task.ID]
	if !ok || run.Status != StatusQueued {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	run.Status = StatusRunning
	run.StartedAt = &now
	m.cancels[task.ID] = cancel
	m.mu.Unlock()

	m.logger.Info("run started", "run_id", task.ID)
	result := m.runner.RunWithID(runCtx, task.ID, task.URL, task.Filter)

	m.mu.Lock()
	defer m.mu.Unlock()

	finished := time.Now()
	delete(m.cancels, task.ID)
	run.Result = result
	run.State = result.State
	run.FinishedAt = &finished

	switch {
	case result.Success:
		run.Status = StatusDone
	case result.Error != nil && result.Error.Code == scrape.CodeCanceled:
		run.Status = StatusCanceled
	default:
		run.Status = StatusFailed
	}

	m.retire(run)

	m.logger.Info("run finished", "run_id", task.ID, "status", run.Status, "count", result.Count)
}

// retire moves a finished run to the history. Callers hold m.mu.
func (m *Manager) retire(run *Run) {
	delete(m.runs, run.ID)
	m.history.Add(run.ID, run)
}

func (m *Manager) snapshot(run *Run) Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *run
}
