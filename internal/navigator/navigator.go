package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/offer-scraper/internal/browser"
	"github.com/maltedev/offer-scraper/internal/locale"
	"github.com/maltedev/offer-scraper/internal/wait"
)

var (
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrLocaleMismatch    = errors.New("page rendered in the wrong locale")
)

// settleProbe reports the document state and element count; the page is
// considered settled once it is complete and the count stops changing.
const settleProbe = `() => ({ ready: document.readyState, size: document.getElementsByTagName('*').length })`

type Options struct {
	// Shared means one tab serves every locale, so state is cleared before
	// each load.
	Shared            bool
	Strict            bool
	NavigationTimeout time.Duration
	SettleTimeout     time.Duration
	SettleInterval    time.Duration
	SelectSettle      time.Duration
}

// Outcome describes the page left in the tab after LoadLocalized.
type Outcome struct {
	URL      string
	Locale   string
	Switched bool
	Degraded bool
}

type Navigator struct {
	table  *locale.Table
	opts   Options
	logger *slog.Logger
}

func New(table *locale.Table, opts Options, logger *slog.Logger) *Navigator {
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = 200 * time.Millisecond
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &Navigator{
		table:  table,
		opts:   opts,
		logger: logger.With("component", "navigator"),
	}
}

// Shared reports whether state is cleared between locale loads.
func (n *Navigator) Shared() bool { return n.opts.Shared }

// LoadLocalized opens targetURL in the requested locale and leaves the tab
// on a settled page ready for extraction.
func (n *Navigator) LoadLocalized(ctx context.Context, tab browser.Tab, targetURL, offerID, code string) (*Outcome, error) {
	loc, err := n.table.Get(code)
	if err != nil {
		return nil, err
	}

	log := n.logger.With("offer_id", offerID, "locale", loc.Code)

	if n.opts.Shared {
		if err := tab.ClearState(); err != nil {
			log.Warn("failed to clear session state", "error", err)
		}
	}

	if err := tab.SetAcceptLanguage(loc.AcceptLanguage); err != nil {
		return nil, fmt.Errorf("failed to set accept-language: %w", err)
	}

	localized, err := n.table.Localize(targetURL, loc.Code)
	if err != nil {
		return nil, err
	}

	log.Info("loading page", "url", localized)
	if err := n.Open(ctx, tab, localized, n.opts.NavigationTimeout); err != nil {
		return nil, err
	}

	outcome := &Outcome{URL: tab.URL(), Locale: n.table.Detect(tab.URL())}

	if outcome.Locale != loc.Code {
		log.Info("locale mismatch", "rendered", outcome.Locale, "url", outcome.URL)
		if err := n.switchLocale(ctx, tab, localized, loc.Code, outcome); err != nil {
			return nil, err
		}
		if outcome.Locale != loc.Code {
			if n.opts.Strict {
				return nil, fmt.Errorf("%w: wanted %s, got %s at %s", ErrLocaleMismatch, loc.Code, outcome.Locale, outcome.URL)
			}
			outcome.Degraded = true
			log.Warn("continuing with mismatched locale", "rendered", outcome.Locale)
		}
	}

	n.handleSelect(ctx, tab, log)
	return outcome, nil
}

// Open navigates and waits for the page to settle. Timeouts surface as
// ErrNavigationTimeout.
func (n *Navigator) Open(ctx context.Context, tab browser.Tab, target string, timeout time.Duration) error {
	if err := tab.Navigate(ctx, target, timeout); err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
		}
		return err
	}
	return n.Settle(ctx, tab)
}

// Settle polls until the document is complete and its element count is
// stable. Running out of time is not an error.
func (n *Navigator) Settle(ctx context.Context, tab browser.Tab) error {
	lastSize := -1
	err := wait.Until(ctx, n.opts.SettleInterval, n.opts.SettleTimeout, func(ctx context.Context) (bool, error) {
		raw, err := tab.Eval(settleProbe, nil)
		if err != nil {
			n.logger.Debug("settle probe failed", "error", err)
			return false, nil
		}
		ready, size := parseProbe(raw)
		stable := ready == "complete" && size == lastSize
		lastSize = size
		return stable, nil
	})
	if errors.Is(err, wait.ErrTimeout) {
		return nil
	}
	return err
}

func (n *Navigator) switchLocale(ctx context.Context, tab browser.Tab, desired, code string, outcome *Outcome) error {
	html, err := tab.HTML()
	if err != nil {
		n.logger.Debug("could not read page for locale switch", "error", err)
		return nil
	}

	link, ok := n.findSwitchLink(html, tab.URL(), desired, code)
	if !ok {
		n.logger.Warn("no locale switch link found", "locale", code, "url", tab.URL())
		return nil
	}

	n.logger.Info("following locale switch link", "href", link)
	if err := n.Open(ctx, tab, link, n.opts.NavigationTimeout); err != nil {
		return err
	}

	outcome.URL = tab.URL()
	outcome.Locale = n.table.Detect(outcome.URL)
	outcome.Switched = true
	return nil
}

// findSwitchLink prefers an anchor pointing at the desired page itself and
// falls back to anything that looks like the site's language switcher.
func (n *Navigator) findSwitchLink(html, pageURL, desired, code string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}

	var fallback string
	var exact string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		raw, _ := a.Attr("href")
		raw = strings.TrimSpace(raw)
		ref, err := url.Parse(raw)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref).String()

		if resolved == desired {
			exact = resolved
			return false
		}
		if fallback == "" && n.table.IsSwitchLink(raw, code) {
			fallback = resolved
		}
		return true
	})

	if exact != "" {
		return exact, true
	}
	return fallback, fallback != ""
}

// handleSelect picks the first real option of the page's first <select>
// so offers with variants render their details. Failures are ignored.
func (n *Navigator) handleSelect(ctx context.Context, tab browser.Tab, log *slog.Logger) {
	html, err := tab.HTML()
	if err != nil {
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}

	sel := doc.Find("select").First()
	if sel.Length() == 0 {
		return
	}

	var value string
	sel.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		if v, ok := opt.Attr("value"); ok && v != "" {
			value = v
			return false
		}
		return true
	})
	if value == "" {
		return
	}

	if err := tab.SelectOption("select", value); err != nil {
		log.Debug("select option failed", "value", value, "error", err)
		return
	}
	if err := wait.Sleep(ctx, n.opts.SelectSettle); err != nil {
		log.Debug("select settle interrupted", "error", err)
	}
}

func parseProbe(raw interface{}) (string, int) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return "", -1
	}
	ready, _ := m["ready"].(string)

	switch v := m["size"].(type) {
	case int:
		return ready, v
	case int64:
		return ready, int(v)
	case float64:
		return ready, int(v)
	default:
		return ready, -1
	}
}
