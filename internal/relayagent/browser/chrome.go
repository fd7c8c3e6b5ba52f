package browser

import (
	"context"
	"fmt"
	"runtime"

	"github.com/chromedp/cdproto/input"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

var _ Driver = (*Chrome)(nil)

// Chrome drives one tab through the DevTools protocol, either in a browser it
// launched or in one it attached to.
type Chrome struct {
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	logger      log.Logger
}

// NewChrome starts or attaches to a browser and checks that its first tab responds.
func NewChrome(ctx context.Context, opts *options.BrowserOptions) (*Chrome, error) {
	logger := log.WithName("browser")

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	}

	tab, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { logger.Warn(fmt.Sprintf(format, args...)) }),
	)

	start := opts.StartURL
	if start == "" {
		start = "about:blank"
	}
	// The first Run allocates the browser and the tab.
	if err := chromedp.Run(tab, chromedp.Navigate(start)); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	logger.Info("Browser ready", "remote", opts.RemoteURL != "", "headless", opts.Headless)
	return &Chrome{allocCancel: allocCancel, tab: tab, tabCancel: tabCancel, logger: logger}, nil
}

func allocatorOptions(opts *options.BrowserOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("disable-extensions", true),
	)
	if runtime.GOOS == "linux" {
		out = append(out, chromedp.NoSandbox)
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

// run executes actions in the tab, bounded by the caller's ctx. Cancelling
// ctx never closes the tab.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *Chrome) eval(ctx context.Context, js string, out any) error {
	return c.run(ctx, chromedp.Evaluate(js, out, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
}

func (c *Chrome) require(ctx context.Context, selector string) error {
	var ok bool
	if err := c.eval(ctx, script(existsScript, selector), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *Chrome) Click(ctx context.Context, selector string) error {
	if err := c.require(ctx, selector); err != nil {
		return err
	}
	return c.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (c *Chrome) Type(ctx context.Context, selector, text string) error {
	if err := c.require(ctx, selector); err != nil {
		return err
	}
	return c.run(ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (c *Chrome) Insert(ctx context.Context, selector, value string, mode v1.InsertMode, viaAPI bool) error {
	replace := mode == v1.InsertModeReplace
	if viaAPI {
		var ok bool
		if err := c.eval(ctx, script(insertAPIScript, selector, value, replace), &ok); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrEditorUnavailable, selector)
		}
		return nil
	}

	var ok bool
	if err := c.eval(ctx, script(caretScript, selector, replace), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	// insertText fires the same beforeinput/input events as an IME commit.
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(value).Do(ctx)
	}))
}

func (c *Chrome) Observe(ctx context.Context, selector, lastLine string) (*Observation, error) {
	var (
		obs     Observation
		signals struct {
			EditorDetected  bool `json:"editor_detected"`
			ContentLength   int  `json:"content_length"`
			LastLinePresent bool `json:"last_line_present"`
		}
	)
	err := c.run(ctx,
		chromedp.Location(&obs.URL),
		chromedp.Title(&obs.Title),
		chromedp.Evaluate(script(observeScript, selector, lastLine), &signals, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return p.WithReturnByValue(true)
		}),
	)
	if err != nil {
		return nil, err
	}
	obs.EditorDetected = signals.EditorDetected
	obs.ContentLength = signals.ContentLength
	obs.LastLinePresent = signals.LastLinePresent
	return &obs, nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the tab and, for a launched browser, the browser process.
func (c *Chrome) Close() error {
	c.tabCancel()
	c.allocCancel()
	return nil
}
