package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/maltedev/offer-scraper/internal/config"
	"github.com/maltedev/offer-scraper/internal/wait"
)

var ErrVerificationFailed = errors.New("proxy verification failed")

// Endpoint is the local SOCKS5 listener exposed by the proxy process.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) URL() string {
	return "socks5://" + e.Address()
}

type checkResponse struct {
	IsTor bool   `json:"IsTor"`
	IP    string `json:"IP"`
}

type process interface {
	Kill() error
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	_ = p.cmd.Wait()
	return nil
}

// Gate owns the proxy process for one run. EnsureReady must succeed before
// any browser session is pointed at the endpoint.
type Gate struct {
	cfg    config.ProxyConfig
	logger *slog.Logger

	findBinary   func(override string) (string, error)
	start        func(binary string) (process, error)
	probe        func(ctx context.Context, addr string) error
	newTransport func(endpoint Endpoint) (http.RoundTripper, error)
	retryBackoff time.Duration

	mu   sync.Mutex
	proc process
}

func NewGate(cfg config.ProxyConfig, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:          cfg,
		logger:       logger.With("component", "proxy"),
		findBinary:   FindBinary,
		start:        startProcess,
		probe:        probePort,
		newTransport: socksTransport,
		retryBackoff: 2 * time.Second,
	}
}

// EnsureReady starts the proxy unless it is external, waits for its SOCKS
// port and verifies that traffic actually leaves through Tor.
func (g *Gate) EnsureReady(ctx context.Context) (Endpoint, error) {
	endpoint := Endpoint{Host: g.cfg.Host, Port: g.cfg.Port}

	if !g.cfg.External {
		if err := g.launch(); err != nil {
			return Endpoint{}, err
		}
	}

	if err := wait.Sleep(ctx, g.cfg.WarmupMin); err != nil {
		return Endpoint{}, err
	}

	g.logger.Info("waiting for socks port", "address", endpoint.Address(), "timeout", g.cfg.WarmupTimeout)
	err := wait.Until(ctx, 500*time.Millisecond, g.cfg.WarmupTimeout, func(ctx context.Context) (bool, error) {
		return g.probe(ctx, endpoint.Address()) == nil, nil
	})
	if err != nil {
		if errors.Is(err, wait.ErrTimeout) {
			return Endpoint{}, fmt.Errorf("%w: socks port %s not reachable after %s", ErrVerificationFailed, endpoint.Address(), g.cfg.WarmupTimeout)
		}
		return Endpoint{}, err
	}

	if err := g.Verify(ctx, endpoint); err != nil {
		return Endpoint{}, err
	}
	return endpoint, nil
}

// Verify asks the check service whether requests through endpoint exit via
// Tor. The circuit may still be building right after the port opens, so a
// few attempts are made with linear backoff.
func (g *Gate) Verify(ctx context.Context, endpoint Endpoint) error {
	attempts := g.cfg.VerifyAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ip, err := g.verifyOnce(ctx, endpoint)
		if err == nil {
			g.logger.Info("tor connection verified", "ip", ip, "attempt", attempt)
			return nil
		}
		lastErr = err
		g.logger.Warn("tor check failed", "attempt", attempt, "max_attempts", attempts, "error", err)

		if attempt < attempts {
			if err := wait.Sleep(ctx, time.Duration(attempt)*g.retryBackoff); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%w: %v", ErrVerificationFailed, lastErr)
}

func (g *Gate) verifyOnce(ctx context.Context, endpoint Endpoint) (string, error) {
	transport, err := g.newTransport(endpoint)
	if err != nil {
		return "", err
	}

	client := &http.Client{Transport: transport, Timeout: g.cfg.VerifyTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.VerifyURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode check response: %w", err)
	}
	if !body.IsTor {
		return "", fmt.Errorf("traffic is not routed through tor (ip %s)", body.IP)
	}
	return body.IP, nil
}

// Shutdown kills the proxy process if this gate started one. Safe to call
// more than once.
func (g *Gate) Shutdown() {
	g.mu.Lock()
	proc := g.proc
	g.proc = nil
	g.mu.Unlock()

	if proc == nil {
		return
	}
	if err := proc.Kill(); err != nil {
		g.logger.Warn("failed to stop tor browser", "error", err)
		return
	}
	g.logger.Info("tor browser stopped")
}

func (g *Gate) launch() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.proc != nil {
		return nil
	}

	binary, err := g.findBinary(g.cfg.BinaryPath)
	if err != nil {
		return err
	}

	g.logger.Info("starting tor browser", "path", binary)
	proc, err := g.start(binary)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", binary, err)
	}
	g.proc = proc
	return nil
}

func startProcess(binary string) (process, error) {
	cmd := exec.Command(binary)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

func probePort(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	conn, err := xproxy.Direct.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func socksTransport(endpoint Endpoint) (http.RoundTripper, error) {
	dialer, err := xproxy.SOCKS5("tcp", endpoint.Address(), nil, xproxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
	}

	contextDialer, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}

	return &http.Transport{
		DialContext:         contextDialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   true,
	}, nil
}
