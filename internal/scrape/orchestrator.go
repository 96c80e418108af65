package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/offer-scraper/internal/browser"
	"github.com/maltedev/offer-scraper/internal/extract"
	"github.com/maltedev/offer-scraper/internal/listing"
	"github.com/maltedev/offer-scraper/internal/locale"
	"github.com/maltedev/offer-scraper/internal/metrics"
	"github.com/maltedev/offer-scraper/internal/models"
	"github.com/maltedev/offer-scraper/internal/navigator"
	"github.com/maltedev/offer-scraper/internal/proxy"
	"github.com/maltedev/offer-scraper/internal/ratelimit"
	"github.com/maltedev/offer-scraper/internal/storage"
)

var (
	ErrNoOffersFound = errors.New("no offers found")
	ErrInvalidURL    = errors.New("invalid listing url")
)

const (
	CodeProxyBinaryNotFound     = "proxy_binary_not_found"
	CodeProxyVerificationFailed = "proxy_verification_failed"
	CodeSessionLaunchFailed     = "session_launch_failed"
	CodeNavigationTimeout       = "navigation_timeout"
	CodeListingFailed           = "listing_failed"
	CodeNoOffersFound           = "no_offers_found"
	CodePersistFailed           = "persist_failed"
	CodeInvalidURL              = "invalid_url"
	CodeCanceled                = "canceled"
)

// ProxyGate is satisfied by *proxy.Gate.
type ProxyGate interface {
	EnsureReady(ctx context.Context) (proxy.Endpoint, error)
	Shutdown()
}

type Session interface {
	browser.Tab
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context, endpoint proxy.Endpoint, loc locale.Locale) (Session, error)
}

// FactoryLauncher adapts *browser.Factory to Launcher.
type FactoryLauncher struct {
	Factory *browser.Factory
}

func (l FactoryLauncher) Launch(ctx context.Context, endpoint proxy.Endpoint, loc locale.Locale) (Session, error) {
	s, err := l.Factory.Launch(ctx, endpoint, loc)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ResultSink is satisfied by *storage.ResultWriter.
type ResultSink interface {
	Save(records []models.OfferRecord, filter string) (string, string, error)
}

// Archiver is satisfied by *database.Archive.
type Archiver interface {
	ArchiveRun(ctx context.Context, result *models.ScrapeResult) error
}

type Options struct {
	BaseURL        string
	Locales        []string
	SessionsPerRun int
	ListingTimeout time.Duration
	LocaleDelayMin time.Duration
	LocaleDelayMax time.Duration
	OfferDelay     time.Duration
}

type Deps struct {
	Gate      ProxyGate
	Launcher  Launcher
	Table     *locale.Table
	Navigator *navigator.Navigator
	Collector *listing.Collector
	Extractor *extract.Extractor
	Sink      ResultSink
	// Archiver and Metrics are optional.
	Archiver Archiver
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// OnStateChange is called on every transition of every run.
	OnStateChange func(runID string, state State)
}

// Orchestrator runs one scrape at a time from proxy start to teardown.
type Orchestrator struct {
	opts Options
	deps Deps
	log  *slog.Logger
}

func New(opts Options, deps Deps) (*Orchestrator, error) {
	if len(opts.Locales) == 0 {
		return nil, fmt.Errorf("at least one locale is required")
	}
	if opts.SessionsPerRun != 1 && opts.SessionsPerRun != 2 {
		return nil, fmt.Errorf("sessions per run must be 1 or 2, got %d", opts.SessionsPerRun)
	}
	for _, code := range opts.Locales {
		if _, err := deps.Table.Get(code); err != nil {
			return nil, err
		}
	}
	if deps.Gate == nil || deps.Launcher == nil || deps.Navigator == nil ||
		deps.Collector == nil || deps.Extractor == nil || deps.Sink == nil {
		return nil, fmt.Errorf("orchestrator is missing a dependency")
	}
	if deps.Navigator.Shared() != (opts.SessionsPerRun == 1) {
		return nil, fmt.Errorf("navigator shared mode does not match %d sessions per run", opts.SessionsPerRun)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Orchestrator{
		opts: opts,
		deps: deps,
		log:  deps.Logger.With("component", "orchestrator"),
	}, nil
}

func (o *Orchestrator) Run(ctx context.Context, listingURL, filter string) *models.ScrapeResult {
	return o.RunWithID(ctx, uuid.NewString(), listingURL, filter)
}

// RunWithID performs a full run. Every exit path returns a result and
// tears down the sessions and the proxy exactly once.
func (o *Orchestrator) RunWithID(ctx context.Context, runID, listingURL, filter string) *models.ScrapeResult {
	rc := o.newRunContext(runID, listingURL, filter)
	defer rc.teardown()
	defer o.finish(rc)

	if err := o.ValidateListingURL(listingURL); err != nil {
		return rc.fail(CodeInvalidURL, err)
	}

	rc.transition(StateProxyVerifying)
	endpoint, err := o.deps.Gate.EnsureReady(ctx)
	if err != nil {
		code := CodeProxyVerificationFailed
		if errors.Is(err, proxy.ErrBinaryNotFound) {
			code = CodeProxyBinaryNotFound
		}
		return rc.fail(code, err)
	}

	rc.transition(StateSessionsLaunching)
	if err := o.launchSessions(ctx, rc, endpoint); err != nil {
		return rc.fail(CodeSessionLaunchFailed, err)
	}

	rc.transition(StateListing)
	found, err := o.deps.Collector.CollectOfferIDs(ctx, rc.sessionFor(o.opts.Locales[0]), listingURL, filter)
	if err != nil {
		return rc.fail(CodeListingFailed, err)
	}
	rc.result.ListingURL = found.URL
	rc.result.AvailableCategories = found.AvailableCategories

	if len(found.OfferIDs) == 0 {
		rc.log.Warn("no offers matched",
			"filter", filter,
			"available", strings.Join(found.AvailableCategories, ", "))
		return rc.fail(CodeNoOffersFound, ErrNoOffersFound)
	}
	rc.log.Info("offers found", "count", len(found.OfferIDs))

	o.warmSessions(ctx, rc, found.URL)

	records, failed, err := o.scrapeOffers(ctx, rc, found.OfferIDs)
	if err != nil {
		return rc.fail(CodeCanceled, err)
	}

	rc.transition(StatePersisting)
	path, latest, err := o.deps.Sink.Save(records, filter)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrLatestCopy) && path != "":
		rc.log.Warn("results saved without latest copy", "path", path, "error", err)
	default:
		return rc.fail(CodePersistFailed, err)
	}

	rc.result.Records = records
	rc.result.Count = len(records)
	rc.result.FailedOffers = failed
	rc.result.FilePath = path
	rc.result.LatestPath = latest
	rc.result.Success = true
	rc.transition(StateDone)
	rc.log.Info("results saved", "path", path, "count", len(records), "failed", failed)

	if o.deps.Archiver != nil {
		rc.result.FinishedAt = time.Now()
		if err := o.deps.Archiver.ArchiveRun(ctx, rc.result); err != nil {
			rc.log.Warn("failed to archive run", "error", err)
		}
	}

	return rc.result
}

// ValidateListingURL accepts seller pages on the configured site, with or
// without a locale prefix.
func (o *Orchestrator) ValidateListingURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	base, err := url.Parse(o.opts.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", o.opts.BaseURL, err)
	}
	if !strings.EqualFold(strings.TrimPrefix(u.Host, "www."), strings.TrimPrefix(base.Host, "www.")) {
		return fmt.Errorf("%w: host %s is not %s", ErrInvalidURL, u.Host, base.Host)
	}

	def, err := o.deps.Table.Localize(u.String(), o.deps.Table.DefaultCode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	parsed, _ := url.Parse(def)
	if !strings.HasPrefix(parsed.Path, "/users/") || len(strings.Trim(strings.TrimPrefix(parsed.Path, "/users/"), "/")) == 0 {
		return fmt.Errorf("%w: %s is not a seller page", ErrInvalidURL, raw)
	}
	return nil
}

func (o *Orchestrator) launchSessions(ctx context.Context, rc *runContext, endpoint proxy.Endpoint) error {
	if o.opts.SessionsPerRun == 1 {
		loc, _ := o.deps.Table.Get(o.opts.Locales[0])
		s, err := o.deps.Launcher.Launch(ctx, endpoint, loc)
		if err != nil {
			return err
		}
		rc.addSession(s, o.opts.Locales...)
		return nil
	}

	for _, code := range o.opts.Locales {
		loc, _ := o.deps.Table.Get(code)
		s, err := o.deps.Launcher.Launch(ctx, endpoint, loc)
		if err != nil {
			return fmt.Errorf("locale %s: %w", code, err)
		}
		rc.addSession(s, code)
	}
	return nil
}

// warmSessions opens the listing in every other dedicated session so each
// one has visited the site in its own locale before the first offer.
func (o *Orchestrator) warmSessions(ctx context.Context, rc *runContext, listingURL string) {
	if o.opts.SessionsPerRun == 1 {
		return
	}
	for _, code := range o.opts.Locales[1:] {
		target, err := o.deps.Table.Localize(listingURL, code)
		if err != nil {
			continue
		}
		if err := o.deps.Navigator.Open(ctx, rc.sessionFor(code), target, o.opts.ListingTimeout); err != nil {
			rc.log.Warn("listing warm-up failed", "locale", code, "error", err)
		}
	}
}

// scrapeOffers visits offers strictly in listing order and each offer's
// locales in configured order. Only cancellation stops the loop.
func (o *Orchestrator) scrapeOffers(ctx context.Context, rc *runContext, ids []string) ([]models.OfferRecord, int, error) {
	offerPacer := ratelimit.NewAdaptiveRateLimiter(o.opts.OfferDelay, o.opts.OfferDelay)
	localePacer := ratelimit.NewSimpleRateLimiter(o.opts.LocaleDelayMin, o.opts.LocaleDelayMax)

	records := make([]models.OfferRecord, 0, len(ids))
	failed := 0

	for i, id := range ids {
		if err := offerPacer.Wait(ctx); err != nil {
			return nil, 0, err
		}

		rc.log.Info("processing offer", "offer_id", id, "position", i+1, "total", len(ids))
		rec, err := o.scrapeOffer(ctx, rc, localePacer, id)
		offerPacer.Done()
		if err != nil {
			return nil, 0, err
		}

		if rec.Error != "" {
			failed++
			offerPacer.RecordError()
			o.deps.Metrics.IncOffer("failed")
		} else {
			offerPacer.RecordSuccess()
			o.deps.Metrics.IncOffer("ok")
		}
		records = append(records, rec)
	}

	return records, failed, nil
}

func (o *Orchestrator) scrapeOffer(ctx context.Context, rc *runContext, pacer *ratelimit.SimpleRateLimiter, id string) (models.OfferRecord, error) {
	link := listing.OfferURL(o.opts.BaseURL, id)
	content := make(map[string]models.LocaleContent, len(o.opts.Locales))
	var problems []string

	pacer.Reset()
	for _, code := range o.opts.Locales {
		if err := pacer.Wait(ctx); err != nil {
			return models.OfferRecord{}, err
		}

		c, err := o.loadLocale(ctx, rc, link, id, code)
		pacer.Done()
		if err != nil {
			if ctx.Err() != nil {
				return models.OfferRecord{}, ctx.Err()
			}
			rc.log.Warn("offer locale failed", "offer_id", id, "locale", code, "error", err)
			problems = append(problems, code+": "+err.Error())
			continue
		}
		content[code] = c
	}

	return models.NewOfferRecord(id, link, o.opts.Locales, content, strings.Join(problems, "; ")), nil
}

func (o *Orchestrator) loadLocale(ctx context.Context, rc *runContext, link, id, code string) (models.LocaleContent, error) {
	tab := rc.sessionFor(code)

	rc.transition(StateNavigating)
	started := time.Now()
	outcome, err := o.deps.Navigator.LoadLocalized(ctx, tab, link, id, code)
	if err != nil {
		return models.LocaleContent{}, err
	}
	o.deps.Metrics.ObservePageLoad(code, time.Since(started))
	if outcome.Switched {
		o.deps.Metrics.IncLocaleMismatch(code, "switched")
	}
	if outcome.Degraded {
		o.deps.Metrics.IncLocaleMismatch(code, "degraded")
	}

	rc.transition(StateExtracting)
	html, err := tab.HTML()
	if err != nil {
		return models.LocaleContent{}, err
	}
	c := o.deps.Extractor.Extract(html)

	rc.log.Info("offer extracted",
		"offer_id", id,
		"locale", code,
		"title", truncate(c.Title, 40),
		"price", c.Price,
		"degraded", outcome.Degraded)
	return c, nil
}

func (o *Orchestrator) finish(rc *runContext) {
	rc.result.FinishedAt = time.Now()
	outcome := "success"
	if rc.result.Error != nil {
		outcome = rc.result.Error.Code
	}
	o.deps.Metrics.ObserveRun(outcome, rc.result.FinishedAt.Sub(rc.result.StartedAt))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
