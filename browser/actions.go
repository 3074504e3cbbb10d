package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Pause sleeps a random duration in [min, max]. Randomized pauses between
// actions are a behavioral requirement, not dead time.
func (s *Session) Pause(min, max time.Duration) {
	if max <= min {
		time.Sleep(min)
		return
	}
	d := min + time.Duration(rand.Int63n(int64(max-min)))
	s.log.Debug("[browser] Pausing for %v", d.Round(10*time.Millisecond))
	time.Sleep(d)
}

// RandomScroll scrolls the page by a random offset.
func (s *Session) RandomScroll() {
	amount := rand.Intn(600) - 300
	_ = s.RunScript(fmt.Sprintf("window.scrollBy(0, %d)", amount))
	s.Pause(500*time.Millisecond, 1500*time.Millisecond)
}

// RandomAction performs one randomly chosen human-like filler action.
func (s *Session) RandomAction() {
	if rand.Intn(2) == 0 {
		s.RandomScroll()
		return
	}
	s.Pause(2*time.Second, 5*time.Second)
}

// TypeHuman clears the field and types the value one character at a time
// with per-keystroke jitter.
func (s *Session) TypeHuman(sel, value string) error {
	if err := s.run(10*time.Second, chromedp.Clear(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("browser: clear %q: %w", sel, err)
	}
	for _, r := range value {
		if err := s.run(5*time.Second, chromedp.SendKeys(sel, string(r), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("browser: type into %q: %w", sel, err)
		}
		time.Sleep(time.Duration(50+rand.Intn(130)) * time.Millisecond)
	}
	return nil
}

// SelectByLabel picks the <option> whose visible text equals label and fires
// the change event the page listens for.
func (s *Session) SelectByLabel(sel, label string) error {
	js := fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%q);
			if (!el) return false;
			for (var i = 0; i < el.options.length; i++) {
				if (el.options[i].text.trim() === %q) {
					el.selectedIndex = i;
					el.dispatchEvent(new Event('change', {bubbles: true}));
					return true;
				}
			}
			return false;
		})()
	`, sel, label)
	var ok bool
	if err := s.Eval(js, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("browser: select %q has no option %q", sel, label)
	}
	return nil
}

// SetChecked toggles a checkbox only when its current state differs from the
// desired one.
func (s *Session) SetChecked(sel string, want bool) error {
	var checked bool
	if err := s.Eval(fmt.Sprintf(`(function(){var el=document.querySelector(%q); return el ? el.checked : false})()`, sel), &checked); err != nil {
		return err
	}
	if checked == want {
		return nil
	}
	return s.Click(sel)
}

// ScrollToBottom repeatedly scrolls down until the page height stops
// growing, forcing lazy-loaded content (form fields included) to render.
func (s *Session) ScrollToBottom() {
	var lastHeight int
	for i := 0; i < 10; i++ {
		var height int
		if err := s.Eval("document.body.scrollHeight", &height); err != nil {
			return
		}
		if height == lastHeight && i > 0 {
			return
		}
		lastHeight = height
		_ = s.RunScript("window.scrollTo(0, document.body.scrollHeight)")
		s.Pause(700*time.Millisecond, 1500*time.Millisecond)
	}
}

// DismissOverlays sends Escape to close any modal that would swallow clicks.
func (s *Session) DismissOverlays() {
	_ = s.run(3*time.Second, chromedp.KeyEvent(kb.Escape))
}

// Screenshot captures the first visible element matching sel as PNG bytes.
func (s *Session) Screenshot(sel string) ([]byte, error) {
	var buf []byte
	err := s.run(15*time.Second,
		chromedp.Screenshot(sel, &buf, chromedp.NodeVisible, chromedp.ByQuery))
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot %q: %w", sel, err)
	}
	return buf, nil
}

type elementRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// ClickWithin clicks at (x, y) relative to the top-left corner of the first
// element matching sel.
func (s *Session) ClickWithin(sel string, x, y float64) error {
	js := fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%q);
			if (!el) return null;
			var r = el.getBoundingClientRect();
			return {x: r.x, y: r.y, width: r.width, height: r.height};
		})()
	`, sel)
	var rect *elementRect
	if err := s.Eval(js, &rect); err != nil {
		return err
	}
	if rect == nil {
		return fmt.Errorf("browser: click within: element %q not found", sel)
	}
	if err := s.run(10*time.Second, chromedp.MouseClickXY(rect.X+x, rect.Y+y)); err != nil {
		return fmt.Errorf("browser: click within %q at (%.0f,%.0f): %w", sel, x, y, err)
	}
	return nil
}

// SaveCookies stores the session cookies under the source's key.
func (s *Session) SaveCookies(source string) error {
	if s.cookies == nil {
		return nil
	}
	var cookies []*network.Cookie
	err := s.run(10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = cdpstorage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("browser: get cookies: %w", err)
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("browser: marshal cookies: %w", err)
	}
	if err := s.cookies.Save(source, data); err != nil {
		return err
	}
	s.log.Debug("[browser] Saved %d cookies for %s", len(cookies), source)
	return nil
}

// LoadCookies restores previously saved cookies for the source. Absence is
// normal on first run and is not an error.
func (s *Session) LoadCookies(source string) error {
	if s.cookies == nil {
		return nil
	}
	data, ok, err := s.cookies.Load(source)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("[browser] No stored cookies for %s", source)
		return nil
	}
	var cookies []*network.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("browser: unmarshal cookies: %w", err)
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		}
		if c.Expires > 0 {
			t := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &t
		}
		params = append(params, p)
	}

	err = s.run(10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdpstorage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	s.log.Debug("[browser] Restored %d cookies for %s", len(params), source)
	return nil
}
