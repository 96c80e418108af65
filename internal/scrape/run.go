package scrape

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/offer-scraper/internal/models"
)

type State string

const (
	StateInit              State = "init"
	StateProxyVerifying    State = "proxy_verifying"
	StateSessionsLaunching State = "sessions_launching"
	StateListing           State = "listing"
	StateNavigating        State = "navigating"
	StateExtracting        State = "extracting"
	StatePersisting        State = "persisting"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// runContext owns everything a single run acquires.
type runContext struct {
	id       string
	log      *slog.Logger
	gate     ProxyGate
	notify   func(runID string, state State)
	result   *models.ScrapeResult
	state    State
	sessions map[string]Session
	opened   []Session
	once     sync.Once
}

func (o *Orchestrator) newRunContext(runID, listingURL, filter string) *runContext {
	rc := &runContext{
		id:       runID,
		log:      o.log.With("run_id", runID),
		gate:     o.deps.Gate,
		notify:   o.deps.OnStateChange,
		sessions: make(map[string]Session, len(o.opts.Locales)),
		result: &models.ScrapeResult{
			RunID:      runID,
			ListingURL: listingURL,
			Filter:     filter,
			StartedAt:  time.Now(),
		},
	}
	rc.transition(StateInit)
	return rc
}

func (rc *runContext) transition(next State) {
	if rc.state == next {
		return
	}
	prev := rc.state
	rc.state = next
	rc.result.State = string(next)

	switch next {
	case StateNavigating, StateExtracting:
		rc.log.Debug("state changed", "from", prev, "to", next)
	default:
		rc.log.Info("state changed", "from", prev, "to", next)
	}
	if rc.notify != nil {
		rc.notify(rc.id, next)
	}
}

func (rc *runContext) fail(code string, err error) *models.ScrapeResult {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = CodeCanceled
	}
	rc.result.Success = false
	rc.result.Error = &models.Error{
		Code:    code,
		Message: err.Error(),
		Time:    time.Now(),
		URL:     rc.result.ListingURL,
	}
	rc.log.Error("run failed", "state", rc.state, "code", code, "error", err)
	rc.transition(StateFailed)
	return rc.result
}

func (rc *runContext) addSession(s Session, codes ...string) {
	rc.opened = append(rc.opened, s)
	for _, code := range codes {
		rc.sessions[code] = s
	}
}

func (rc *runContext) sessionFor(code string) Session {
	return rc.sessions[code]
}

// teardown closes sessions newest first, then stops the proxy.
func (rc *runContext) teardown() {
	rc.once.Do(func() {
		for i := len(rc.opened) - 1; i >= 0; i-- {
			if err := rc.opened[i].Close(); err != nil {
				rc.log.Debug("failed to close session", "error", err)
			}
		}
		rc.opened = nil
		rc.gate.Shutdown()
		rc.log.Debug("run resources released")
	})
}
