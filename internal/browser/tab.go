package browser

import (
	"context"
	"time"
)

// Tab is the slice of a browser page the scraper drives. Session implements
// it on top of playwright; tests substitute an in-memory page.
type Tab interface {
	// Navigate loads url and waits for network idle, failing with ErrTimeout
	// once timeout passes.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	URL() string
	HTML() (string, error)
	Eval(script string, arg interface{}) (interface{}, error)
	SelectOption(selector, value string) error
	SetAcceptLanguage(value string) error
	// ClearState drops cookies and local/session storage.
	ClearState() error
}
