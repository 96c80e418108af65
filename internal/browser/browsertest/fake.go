// Package browsertest provides an in-memory browser.Tab serving canned HTML.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maltedev/offer-scraper/internal/browser"
)

// Tab serves Pages by URL. Redirects maps a requested URL to the URL the
// site lands on instead, which is how locale mismatches are simulated.
type Tab struct {
	mu sync.Mutex

	Pages     map[string]string
	Redirects map[string]string
	Errors    map[string]error
	// EvalFunc overrides the default settle probe answer.
	EvalFunc func(script string, arg interface{}) (interface{}, error)

	current        string
	Visits         []string
	AcceptLanguage []string
	Selected       []string
	Clears         int
	Closed         bool
}

var _ browser.Tab = (*Tab)(nil)

func NewTab() *Tab {
	return &Tab{
		Pages:     make(map[string]string),
		Redirects: make(map[string]string),
		Errors:    make(map[string]error),
	}
}

func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.Visits = append(t.Visits, url)
	if err, ok := t.Errors[url]; ok {
		return err
	}

	landed := url
	if target, ok := t.Redirects[url]; ok {
		landed = target
	}
	if _, ok := t.Pages[landed]; !ok {
		return fmt.Errorf("%w: no fixture for %s", browser.ErrTimeout, landed)
	}
	t.current = landed
	return nil
}

func (t *Tab) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tab) HTML() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Pages[t.current], nil
}

func (t *Tab) Eval(script string, arg interface{}) (interface{}, error) {
	if t.EvalFunc != nil {
		return t.EvalFunc(script, arg)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		"ready": "complete",
		"size":  len(t.Pages[t.current]),
	}, nil
}

func (t *Tab) SelectOption(selector, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Selected = append(t.Selected, value)
	return nil
}

func (t *Tab) SetAcceptLanguage(value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AcceptLanguage = append(t.AcceptLanguage, value)
	return nil
}

func (t *Tab) ClearState() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Clears++
	return nil
}

func (t *Tab) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return nil
}

func (t *Tab) VisitCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Visits)
}
