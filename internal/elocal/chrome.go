package elocal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	navigationTimeout = 120 * time.Second
	selectorTimeout   = 20 * time.Second
	submitTimeout     = 180 * time.Second
	exportTimeout     = 180 * time.Second
	settleDelay       = 2 * time.Second
)

const passwordSelector = `input[type="password"]`

const clickSubmitJS = `(function () {
  var el = document.querySelector('input[type="submit"]') || document.querySelector('button[type="submit"]');
  if (el) { el.click(); return true; }
  return false;
})()`

const fetchTextJS = `(async function (url) {
  var res = await fetch(url, { credentials: 'include', headers: { 'Accept': 'text/csv,*/*' } });
  var text = await res.text();
  return { status: res.status, body: text };
})(%q)`

// ChromeBrowser drives a local headless Chrome through the DevTools protocol.
type ChromeBrowser struct {
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
}

// ChromeOpener returns an Opener that launches Chrome from execPath, or from PATH when empty.
func ChromeOpener(execPath string) Opener {
	return func(ctx context.Context) (Browser, error) {
		return NewChromeBrowser(ctx, execPath)
	}
}

// NewChromeBrowser launches Chrome and waits for the first target.
func NewChromeBrowser(ctx context.Context, execPath string) (*ChromeBrowser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1280, 900),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser process and binds it to the context it
	// is given, so it must run on browserCtx itself with no deadline attached.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	timer := time.NewTimer(navigationTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-started:
	case <-timer.C:
		err = fmt.Errorf("chrome did not start within %s", navigationTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &ChromeBrowser{
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
	}, nil
}

func (b *ChromeBrowser) NewTab(ctx context.Context) (Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	tab := &chromeTab{ctx: tabCtx, cancel: cancel}
	if err := tab.run(ctx, navigationTimeout); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return tab, nil
}

func (b *ChromeBrowser) Close() error {
	if b == nil {
		return nil
	}
	err := chromedp.Cancel(b.browserCtx)
	b.cancelBrowser()
	b.cancelAlloc()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (t *chromeTab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (t *chromeTab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, navigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (t *chromeTab) TypePassword(ctx context.Context, password string) error {
	return t.run(ctx, selectorTimeout,
		chromedp.WaitVisible(passwordSelector, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, password, chromedp.ByQuery),
	)
}

func (t *chromeTab) Submit(ctx context.Context) error {
	var clicked bool
	if err := t.run(ctx, selectorTimeout, chromedp.Evaluate(clickSubmitJS, &clicked)); err != nil {
		return err
	}
	if !clicked {
		if err := t.run(ctx, selectorTimeout, chromedp.SendKeys(passwordSelector, kb.Enter, chromedp.ByQuery)); err != nil {
			return err
		}
	}
	return t.run(ctx, submitTimeout,
		chromedp.Sleep(settleDelay),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (t *chromeTab) URL(ctx context.Context) (string, error) {
	var location string
	err := t.run(ctx, selectorTimeout, chromedp.Location(&location))
	return location, err
}

func (t *chromeTab) FetchText(ctx context.Context, url string) (int, string, error) {
	var out struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	err := t.run(ctx, exportTimeout,
		chromedp.Evaluate(fmt.Sprintf(fetchTextJS, url), &out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return 0, "", err
	}
	return out.Status, out.Body, nil
}

func (t *chromeTab) Close() error {
	t.cancel()
	return nil
}
