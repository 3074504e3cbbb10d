package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"flatbot/config"
	"flatbot/utils"
)

// CookieStore persists one cookie blob per source between sessions.
// Best-effort; absence is normal on first run.
type CookieStore interface {
	Save(source string, data []byte) error
	Load(source string) ([]byte, bool, error)
}

// Session wraps a single chromedp browser context with the helper operations
// the processors need. It holds the driver handle by composition; all
// operations are synchronous and bounded by explicit timeouts.
type Session struct {
	ctx     context.Context
	cancels []context.CancelFunc

	log         *utils.Logger
	cookies     CookieStore
	interactive bool
}

// NewSession starts a browser and returns a ready Session. The caller owns
// the session and must Close it; one session processes one listing at a time.
func NewSession(parent context.Context, cfg *config.Config, log *utils.Logger, cookies CookieStore) (*Session, error) {
	chromeBin := findChromeBinary(cfg.ChromeBin)
	log.Debug("[browser] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("start-maximized", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))

	// Start the browser eagerly so a broken Chrome install fails here,
	// not on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser: start: %w", err)
	}

	return &Session{
		ctx:         browserCtx,
		cancels:     []context.CancelFunc{cancelBrowser, cancelAlloc},
		log:         log,
		cookies:     cookies,
		interactive: cfg.Interactive,
	}, nil
}

// Close shuts the browser down. Safe on a nil session.
func (s *Session) Close() {
	if s == nil {
		return
	}
	for _, cancel := range s.cancels {
		cancel()
	}
}

// run executes chromedp actions against the session, bounded by timeout
// when one is given.
func (s *Session) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx := s.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, timeout)
		defer cancel()
	}
	return chromedp.Run(ctx, actions...)
}

// Navigate loads the given URL.
func (s *Session) Navigate(url string) error {
	if err := s.run(60*time.Second, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	return nil
}

// Refresh reloads the current page.
func (s *Session) Refresh() error {
	if err := s.run(60*time.Second, chromedp.Reload()); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	return nil
}

// Title returns the current page title ("" when none yet).
func (s *Session) Title() string {
	var title string
	if err := s.run(5*time.Second, chromedp.Title(&title)); err != nil {
		return ""
	}
	return title
}

// CurrentURL returns the current location.
func (s *Session) CurrentURL() (string, error) {
	var url string
	if err := s.run(5*time.Second, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("browser: location: %w", err)
	}
	return url, nil
}

// WaitTitle blocks until the page title becomes non-empty or the timeout
// elapses. A timeout is a retryable failure, not a crash.
func (s *Session) WaitTitle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if t := s.Title(); t != "" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("browser: page title still empty after %v", timeout)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Source returns the full page markup.
func (s *Session) Source() (string, error) {
	var src string
	if err := s.run(10*time.Second, chromedp.OuterHTML("html", &src, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("browser: page source: %w", err)
	}
	return src, nil
}

// SafeText returns the trimmed text of the first element matching sel, or
// "Unknown" when the element is absent. Absence is expected, never an error.
func (s *Session) SafeText(sel string) string {
	var text string
	err := s.run(3*time.Second,
		chromedp.Text(sel, &text, chromedp.ByQuery, chromedp.NodeVisible))
	if err != nil || strings.TrimSpace(text) == "" {
		return "Unknown"
	}
	return strings.TrimSpace(text)
}

// Exists reports whether an element matching the CSS selector appears within
// the timeout.
func (s *Session) Exists(sel string, timeout time.Duration) bool {
	js := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
	return s.pollBool(js, timeout)
}

// ExistsXPath reports whether an element matching the XPath expression
// appears within the timeout.
func (s *Session) ExistsXPath(expr string, timeout time.Duration) bool {
	js := fmt.Sprintf(
		`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue !== null`,
		expr)
	return s.pollBool(js, timeout)
}

func (s *Session) pollBool(js string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		var found bool
		if err := s.run(2*time.Second, chromedp.Evaluate(js, &found)); err == nil && found {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(300 * time.Millisecond)
	}
}

// Click clicks the first visible element matching sel.
func (s *Session) Click(sel string) error {
	if err := s.run(10*time.Second, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("browser: click %q: %w", sel, err)
	}
	return nil
}

// Attribute returns the value of an attribute on the first matching element;
// ok is false when the element or attribute is absent.
func (s *Session) Attribute(sel, name string) (string, bool) {
	var value string
	var ok bool
	err := s.run(3*time.Second,
		chromedp.AttributeValue(sel, name, &value, &ok, chromedp.ByQuery))
	if err != nil {
		return "", false
	}
	return value, ok
}

// RunScript executes JavaScript on the page, discarding the result.
func (s *Session) RunScript(js string) error {
	if err := s.run(10*time.Second, chromedp.Evaluate(js, nil)); err != nil {
		return fmt.Errorf("browser: script: %w", err)
	}
	return nil
}

// Eval executes JavaScript and unmarshals the result into out.
func (s *Session) Eval(js string, out interface{}) error {
	if err := s.run(10*time.Second, chromedp.Evaluate(js, out)); err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	return nil
}

// WaitForUser blocks until the operator presses Enter. Only active in
// interactive mode; unattended runs return immediately.
func (s *Session) WaitForUser(prompt string) {
	if !s.interactive {
		return
	}
	fmt.Printf("%s — press Enter to continue...", prompt)
	fmt.Fscanln(os.Stdin)
}

// findChromeBinary locates a Chrome/Chromium binary, preferring an explicit
// override.
func findChromeBinary(override string) string {
	if override != "" {
		return override
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
