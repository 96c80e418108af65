package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/offer-scraper/internal/config"
	"github.com/maltedev/offer-scraper/internal/locale"
	"github.com/maltedev/offer-scraper/internal/proxy"
)

var (
	ErrLaunchFailed = errors.New("browser session launch failed")
	ErrTimeout      = errors.New("navigation timed out")
)

const clearStorageScript = `() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} }`

type Options struct {
	Engine         string
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Engine:         "chromium",
		Headless:       false,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		TimezoneID:     "Europe/Moscow",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

func OptionsFromConfig(cfg config.BrowserConfig, navigationTimeout time.Duration) *Options {
	opts := DefaultOptions()
	opts.Engine = cfg.Engine
	opts.Headless = cfg.Headless
	if cfg.UserAgent != "" {
		opts.UserAgent = cfg.UserAgent
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts.ViewportWidth = cfg.ViewportWidth
		opts.ViewportHeight = cfg.ViewportHeight
	}
	if cfg.TimezoneID != "" {
		opts.TimezoneID = cfg.TimezoneID
	}
	if navigationTimeout > 0 {
		opts.Timeout = navigationTimeout
	}
	return opts
}

// Factory launches isolated browser sessions routed through the proxy.
type Factory struct {
	opts   *Options
	logger *slog.Logger
}

func NewFactory(opts *Options, logger *slog.Logger) *Factory {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Factory{opts: opts, logger: logger.With("component", "browser")}
}

// Launch starts a browser whose traffic goes through endpoint, with a fresh
// incognito context negotiating loc. Anything created before a failure is
// closed again.
func (f *Factory) Launch(ctx context.Context, endpoint proxy.Endpoint, loc locale.Locale) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start playwright: %v", ErrLaunchFailed, err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(f.opts.Headless),
		Proxy: &playwright.Proxy{
			Server: endpoint.URL(),
		},
	}
	if f.opts.Engine != "firefox" {
		launchOpts.Args = launchArgs(f.opts)
	}

	engine := pw.Chromium
	if f.opts.Engine == "firefox" {
		engine = pw.Firefox
	}

	browser, err := engine.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("%w: failed to launch %s: %v", ErrLaunchFailed, f.opts.Engine, err)
	}

	headers := mergeHeaders(f.opts.ExtraHeaders, loc.AcceptLanguage)
	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:       playwright.String(f.opts.UserAgent),
		AcceptDownloads: playwright.Bool(false),
		Locale:          playwright.String(loc.Code),
		TimezoneId:      playwright.String(f.opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  f.opts.ViewportWidth,
			Height: f.opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("%w: failed to create browser context: %v", ErrLaunchFailed, err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("%w: failed to open page: %v", ErrLaunchFailed, err)
	}
	page.SetDefaultTimeout(float64(f.opts.Timeout.Milliseconds()))

	f.logger.Info("browser session launched", "engine", f.opts.Engine, "locale", loc.Code, "proxy", endpoint.URL())

	return &Session{
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    page,
		headers: f.opts.ExtraHeaders,
		logger:  f.logger.With("locale", loc.Code),
	}, nil
}

type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	headers map[string]string
	logger  *slog.Logger

	storageHook bool
}

func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, url, timeout)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) URL() string {
	return s.page.URL()
}

func (s *Session) HTML() (string, error) {
	content, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return content, nil
}

func (s *Session) Eval(script string, arg interface{}) (interface{}, error) {
	if arg == nil {
		return s.page.Evaluate(script)
	}
	return s.page.Evaluate(script, arg)
}

func (s *Session) SelectOption(selector, value string) error {
	_, err := s.page.SelectOption(selector, playwright.SelectOptionValues{
		Values: &[]string{value},
	})
	return err
}

func (s *Session) SetAcceptLanguage(value string) error {
	return s.page.SetExtraHTTPHeaders(mergeHeaders(s.headers, value))
}

// ClearState drops cookies and the current origin's storage, then makes
// sure every later document starts with empty storage too.
func (s *Session) ClearState() error {
	if err := s.context.ClearCookies(); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}

	if !s.storageHook {
		script := "(" + clearStorageScript + ")()"
		if err := s.context.AddInitScript(playwright.Script{Content: &script}); err != nil {
			return fmt.Errorf("failed to install storage reset: %w", err)
		}
		s.storageHook = true
	}

	if _, err := s.page.Evaluate(clearStorageScript); err != nil {
		s.logger.Debug("storage clear on current page failed", "error", err)
	}
	return nil
}

func (s *Session) Close() error {
	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

func launchArgs(opts *Options) []string {
	return []string{
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
	}
}

func mergeHeaders(base map[string]string, acceptLanguage string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	if acceptLanguage != "" {
		out["Accept-Language"] = acceptLanguage
	}
	return out
}
