package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	flippBaseURL = "https://flipp.com"
	flippStore   = "No Frills"
)

var errPostalNotSet = errors.New("Failed to set postal code")

// BrowserOptions configures the Chromium session used to browse Flipp.
type BrowserOptions struct {
	ExecPath string
	Headless bool
	Timeout  time.Duration
	// Settle is how long the flyer page gets to lazy-load its images.
	Settle time.Duration
}

// FlippCollector selects the store for the run's postal code in a browser,
// reads the flyer page image URLs and downloads them.
type FlippCollector struct {
	Browser    BrowserOptions
	Downloader *Downloader

	discover func(ctx context.Context, opts BrowserOptions, postalCode string) ([]string, error)
}

func NewFlippCollector(browser BrowserOptions, downloader *Downloader) *FlippCollector {
	return &FlippCollector{Browser: browser, Downloader: downloader, discover: discoverFlippFlyers}
}

func (c *FlippCollector) Name() string { return "flipp" }

func (c *FlippCollector) Collect(ctx context.Context, req CollectRequest) ([]string, error) {
	if err := req.report(StatusSelectingStore); err != nil {
		return nil, err
	}
	opts := c.Browser
	opts.Headless = req.Headless
	found, err := c.discover(ctx, opts, req.PostalCode)
	if err != nil {
		return nil, err
	}
	urls := FilterFlyerURLs(found)
	slog.Info("found flyer pages", "postal_code", req.PostalCode, "candidates", len(found), "pages", len(urls))
	if len(urls) == 0 {
		return nil, nil
	}
	if err := req.report(StatusDownloading); err != nil {
		return nil, err
	}
	return c.Downloader.Download(ctx, urls)
}

// FilterFlyerURLs keeps full-size flyer page JPEGs, dropping duplicates and
// preserving page order.
func FilterFlyerURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		lower := strings.ToLower(u)
		if !strings.Contains(lower, "extra_large") {
			continue
		}
		if !strings.HasSuffix(lower, ".jpg") && !strings.HasSuffix(lower, ".jpeg") {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func discoverFlippFlyers(ctx context.Context, opts BrowserOptions, postalCode string) ([]string, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(browserUserAgent),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := selectStore(browserCtx, postalCode); err != nil {
		return nil, fmt.Errorf("%w: %v", errPostalNotSet, err)
	}

	settle := opts.Settle
	if settle <= 0 {
		settle = 10 * time.Second
	}
	var urls []string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(flippBaseURL+"/search/"+url.PathEscape(flippStore)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settle),
		chromedp.Evaluate(collectFlyerURLsJS, &urls),
	)
	if err != nil {
		return nil, fmt.Errorf("read flyer pages: %w", err)
	}
	return urls, nil
}

// selectStore enters the postal code on the Flipp landing page and submits
// it, falling back to submitting the input's form when no start button shows.
func selectStore(ctx context.Context, postalCode string) error {
	quoted, err := json.Marshal(postalCode)
	if err != nil {
		return err
	}
	var ok, clicked bool
	err = chromedp.Run(ctx,
		chromedp.Navigate(flippBaseURL+"/"),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(acceptConsentJS, &ok),
		chromedp.Poll(findPostalInputJS, &ok,
			chromedp.WithPollingTimeout(12*time.Second),
			chromedp.WithPollingInterval(300*time.Millisecond)),
		chromedp.Evaluate(fmt.Sprintf(setPostalJS, string(quoted)), &ok),
	)
	if err != nil {
		return fmt.Errorf("enter postal code: %w", err)
	}
	if !ok {
		return errors.New("postal code input not found")
	}

	err = chromedp.Run(ctx, chromedp.Poll(clickStartJS, &clicked,
		chromedp.WithPollingTimeout(8*time.Second),
		chromedp.WithPollingInterval(250*time.Millisecond)))
	if err == nil && clicked {
		return nil
	}
	slog.Debug("start button not clickable, submitting postal code form", "err", err)
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(submitPostalJS, &clicked),
		chromedp.Sleep(3*time.Second),
	); err != nil {
		return fmt.Errorf("submit postal code: %w", err)
	}
	if !clicked {
		return errors.New("start button not found")
	}
	return nil
}

const postalSelectorsJS = `['input[data-cy="postalCodeInput"]', 'input[name="postalCode"]', 'input[placeholder*="Postal"]', 'input[type="text"]']`

const (
	acceptConsentJS = `(() => {
  const visible = (el) => el && el.offsetParent !== null;
  const css = ['button[data-cy="consent-accept"]', 'button[aria-label="Accept"]', 'button.cky-btn-accept',
    'button[data-cky-tag="accept-button"]', 'button[data-cky-tag="detail-accept-button"]'];
  for (const sel of css) {
    for (const btn of document.querySelectorAll(sel)) {
      if (visible(btn)) { btn.click(); return true; }
    }
  }
  for (const btn of document.querySelectorAll('button')) {
    const text = (btn.innerText || '').trim().toLowerCase();
    if (visible(btn) && (text.includes('accept') || text.includes('agree'))) { btn.click(); return true; }
  }
  return false;
})()`

	findPostalInputJS = `(() => ` + postalSelectorsJS + `.some((s) => document.querySelector(s) !== null))()`

	setPostalJS = `(() => {
  for (const s of ` + postalSelectorsJS + `) {
    const input = document.querySelector(s);
    if (!input) continue;
    input.focus();
    input.value = %s;
    input.dispatchEvent(new Event('input', {bubbles: true}));
    return true;
  }
  return false;
})()`

	clickStartJS = `(() => {
  for (const s of ['a[data-cy="startSaving"]', 'button[data-cy="startSaving"]', 'a[href*="start"]', 'button[type="submit"]']) {
    for (const el of document.querySelectorAll(s)) {
      if (el.offsetParent !== null && !el.disabled) { el.click(); return true; }
    }
  }
  return false;
})()`

	submitPostalJS = `(() => {
  for (const s of ` + postalSelectorsJS + `) {
    const input = document.querySelector(s);
    if (!input) continue;
    if (input.form) { input.form.requestSubmit ? input.form.requestSubmit() : input.form.submit(); return true; }
    input.dispatchEvent(new KeyboardEvent('keydown', {key: 'Enter', code: 'Enter', keyCode: 13, bubbles: true}));
    return true;
  }
  return false;
})()`

	collectFlyerURLsJS = `(() => {
  const urls = [];
  for (const r of performance.getEntriesByType('resource')) urls.push(r.name);
  for (const img of document.getElementsByTagName('img')) if (img.src) urls.push(img.src);
  return [...new Set(urls)].filter((u) => u.includes('extra_large'));
})()`
)
