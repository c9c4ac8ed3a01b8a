// Package executor runs browser-automation scripts via chromedp and headless
// Chrome.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// Script drives the browser for one run type. The context carries a live
// chromedp target; scripts report domain failures through Outcome.Errors and
// reserve the error return for infrastructure breakage.
type Script func(ctx context.Context, run automation.Run) (automation.Outcome, error)

// Config controls the behavior of the chromedp executor.
type Config struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	Headless          bool          `mapstructure:"headless"`
}

// Chromedp implements automation.Executor. Each execution gets its own
// browser process so proxy and user-agent settings never leak between users.
type Chromedp struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	scripts map[automation.RunType]Script
}

// NewChromedp creates a chromedp-backed executor with an empty script
// registry.
func NewChromedp(cfg Config, logger *zap.Logger) *Chromedp {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &Chromedp{
		cfg:     cfg,
		logger:  logger,
		scripts: make(map[automation.RunType]Script),
	}
}

// Register binds a script to a run type, replacing any previous binding.
func (e *Chromedp) Register(runType automation.RunType, script Script) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[runType] = script
}

func (e *Chromedp) script(runType automation.RunType) (Script, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.scripts[runType]
	return s, ok
}

// Execute spins up a browser bound to the run's proxy and session identity
// and hands control to the registered script.
func (e *Chromedp) Execute(
	ctx context.Context,
	run automation.Run,
	session automation.BrowserSession,
	proxy automation.Proxy,
) (automation.Outcome, error) {
	script, ok := e.script(run.Type)
	if !ok {
		// Not registered means no deployment will ever handle it, so the
		// failure is permanent rather than retryable.
		return automation.Outcome{Errors: []automation.RunError{{
			ErrorType:    automation.ErrorTypePermanent,
			ErrorCode:    "UNSUPPORTED_RUN_TYPE",
			ErrorMessage: fmt.Sprintf("no script registered for run type %s", run.Type),
		}}}, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headlessMode(e.cfg.Headless)),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if proxy.URL != "" {
		opts = append(opts, chromedp.ProxyServer(proxy.URL))
	}
	if session.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(session.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	withProxyAuth := proxy.Username != ""
	if withProxyAuth {
		e.listenForProxyAuth(taskCtx, proxy)
	}

	if err := chromedp.Run(taskCtx, e.sessionSetupAction(session, withProxyAuth)); err != nil {
		return automation.Outcome{}, fmt.Errorf("prepare browser session: %w", err)
	}

	e.logger.Debug("executing run script",
		zap.String("run_id", run.ID),
		zap.String("run_type", string(run.Type)),
		zap.String("proxy_id", proxy.ID),
	)
	return script(taskCtx, run)
}

// listenForProxyAuth answers Chrome's proxy auth challenge with the egress
// credentials. Fetch interception pauses every request, so paused requests
// are resumed as-is.
func (e *Chromedp) listenForProxyAuth(ctx context.Context, egress automation.Proxy) {
	chromedp.ListenTarget(ctx, func(ev any) {
		switch event := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				err := chromedp.Run(ctx,
					fetch.ContinueWithAuth(event.RequestID, proxyAuthResponse(egress)))
				if err != nil {
					e.logger.Warn("proxy auth response failed", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				if err := chromedp.Run(ctx, fetch.ContinueRequest(event.RequestID)); err != nil {
					e.logger.Debug("continue paused request failed", zap.Error(err))
				}
			}()
		}
	})
}

func proxyAuthResponse(egress automation.Proxy) *fetch.AuthChallengeResponse {
	return &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: egress.Username,
		Password: egress.Password,
	}
}

// sessionSetupAction injects the stored session cookies so the script starts
// out authenticated.
func (e *Chromedp) sessionSetupAction(session automation.BrowserSession, withProxyAuth bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if withProxyAuth {
			if err := fetch.Enable().WithHandleAuthRequests(true).Do(ctx); err != nil {
				return fmt.Errorf("enable auth interception: %w", err)
			}
		}
		if session.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(session.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		for _, c := range session.Cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(cookiePath(c)).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if !c.Expires.IsZero() {
				expires := cdp.TimeSinceEpoch(c.Expires)
				param = param.WithExpires(&expires)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

func headlessMode(headless bool) any {
	if headless {
		return "new"
	}
	return false
}

func cookiePath(c automation.Cookie) string {
	if c.Path != "" {
		return c.Path
	}
	return "/"
}

// Navigate is a helper for scripts; it loads a page, waits for the body, and
// captures the rendered document.
func Navigate(ctx context.Context, url string, timeout time.Duration, html *string) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}
