package captcha

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"flatbot/models"
	"flatbot/utils"
)

// ErrUnsolved is reported when the attempt bound is exhausted with the
// challenge still present.
var ErrUnsolved = errors.New("captcha: challenge still present after all attempts")

// Page is the slice of the browser session the resolver needs. Expected
// absence comes back as sentinels; only unexpected faults are errors.
type Page interface {
	Source() (string, error)
	CurrentURL() (string, error)
	Attribute(sel, name string) (string, bool)
	Screenshot(sel string) ([]byte, error)
	RunScript(js string) error
	ClickWithin(sel string, x, y float64) error
	ScrollToBottom()
	Refresh() error
	Pause(min, max time.Duration)
}

// Point is one click position of a coordinate-puzzle solution.
type Point struct {
	X float64
	Y float64
}

// GeeTestSolution is the payload the solving service returns for a GeeTest
// challenge.
type GeeTestSolution struct {
	Challenge string `json:"geetest_challenge"`
	Validate  string `json:"geetest_validate"`
	SecCode   string `json:"geetest_seccode"`
}

// Solver obtains challenge solutions from the remote solving service. It is
// opaque, possibly slow, and possibly failing; the resolver retries around it.
type Solver interface {
	ReCaptcha(siteKey, pageURL string) (string, error)
	GeeTest(gt, challenge, pageURL string) (*GeeTestSolution, error)
	Coordinates(imageBase64 string) ([]Point, error)
}

const awsWAFHost = "awswaf-captcha"

// Resolver drives the detect → extract → solve → inject → validate state
// machine against whatever page the session currently shows.
type Resolver struct {
	solver   Solver
	log      *utils.Logger
	attempts int
}

// NewResolver creates a Resolver with the given attempt bound.
func NewResolver(solver Solver, attempts int, log *utils.Logger) *Resolver {
	if attempts < 1 {
		attempts = 1
	}
	return &Resolver{solver: solver, log: log, attempts: attempts}
}

// Resolve clears any challenge on the current page. A page without a
// challenge is an immediate success. Failed attempts refresh the page and
// retry from detection, up to the attempt bound.
func (r *Resolver) Resolve(page Page) error {
	for attempt := 1; attempt <= r.attempts; attempt++ {
		typ, err := r.Detect(page)
		if err != nil {
			return err
		}
		if typ == models.CaptchaNone {
			if attempt > 1 {
				r.log.Info("[captcha] Challenge cleared on attempt %d", attempt-1)
			}
			return nil
		}

		r.log.Info("[captcha] Detected %s challenge (attempt %d/%d)", typ, attempt, r.attempts)
		if err := r.solveOnce(page, typ); err != nil {
			r.log.Warn("[captcha] Attempt %d failed: %v", attempt, err)
		}
		page.Pause(2*time.Second, 4*time.Second)

		// validate: marker gone means solved
		typ, err = r.Detect(page)
		if err != nil {
			return err
		}
		if typ == models.CaptchaNone {
			r.log.Info("[captcha] Challenge solved")
			return nil
		}

		if attempt < r.attempts {
			r.log.Info("[captcha] Challenge still present, refreshing page")
			if err := page.Refresh(); err != nil {
				r.log.Warn("[captcha] Refresh failed: %v", err)
			}
			page.Pause(2*time.Second, 5*time.Second)
		}
	}
	return ErrUnsolved
}

// Detect scans the page markup for known challenge fingerprints.
func (r *Resolver) Detect(page Page) (models.CaptchaType, error) {
	src, err := page.Source()
	if err != nil {
		return models.CaptchaNone, fmt.Errorf("captcha: read page source: %w", err)
	}
	lower := strings.ToLower(src)
	switch {
	case strings.Contains(lower, "initgeetest"):
		return models.CaptchaGeeTest, nil
	case strings.Contains(lower, "g-recaptcha"):
		return models.CaptchaReCaptcha, nil
	case strings.Contains(lower, "awswaf"):
		return models.CaptchaAWSWAF, nil
	}
	return models.CaptchaNone, nil
}

func (r *Resolver) solveOnce(page Page, typ models.CaptchaType) error {
	switch typ {
	case models.CaptchaGeeTest:
		return r.solveGeeTest(page)
	case models.CaptchaReCaptcha:
		return r.solveReCaptcha(page)
	case models.CaptchaAWSWAF:
		return r.solveAWSWAF(page)
	}
	return fmt.Errorf("captcha: unknown challenge type %q", typ)
}

var (
	geeDataRe      = regexp.MustCompile(`geetest_validate: obj\.geetest_validate,\s*.*?data: "(.*?)"`)
	geeInitRe      = regexp.MustCompile(`(?s)initGeetest\({(.*?)}`)
	geeGTRe        = regexp.MustCompile(`gt: "(.*?)"`)
	geeChallengeRe = regexp.MustCompile(`challenge: "(.*?)"`)
)

func (r *Resolver) solveGeeTest(page Page) error {
	src, err := page.Source()
	if err != nil {
		return err
	}
	initBlock := geeInitRe.FindStringSubmatch(src)
	if initBlock == nil {
		return errors.New("captcha: geetest init block not found")
	}
	gt := geeGTRe.FindStringSubmatch(initBlock[1])
	challenge := geeChallengeRe.FindStringSubmatch(initBlock[1])
	if gt == nil || challenge == nil {
		return errors.New("captcha: geetest gt/challenge not found")
	}
	var data string
	if m := geeDataRe.FindStringSubmatch(src); m != nil {
		data = m[1]
	}

	pageURL, err := page.CurrentURL()
	if err != nil {
		return err
	}
	sol, err := r.solver.GeeTest(gt[1], challenge[1], pageURL)
	if err != nil {
		return fmt.Errorf("captcha: solve geetest: %w", err)
	}

	// hand the solution to the page's own completion callback
	js := fmt.Sprintf(
		`solvedCaptcha({geetest_challenge: %q, geetest_seccode: %q, geetest_validate: %q, data: %q});`,
		sol.Challenge, sol.SecCode, sol.Validate, data)
	if err := page.RunScript(js); err != nil {
		return fmt.Errorf("captcha: inject geetest solution: %w", err)
	}
	return nil
}

func (r *Resolver) solveReCaptcha(page Page) error {
	siteKey, ok := page.Attribute(".g-recaptcha", "data-sitekey")
	if !ok || siteKey == "" {
		return errors.New("captcha: recaptcha sitekey not found")
	}
	pageURL, err := page.CurrentURL()
	if err != nil {
		return err
	}
	token, err := r.solver.ReCaptcha(siteKey, pageURL)
	if err != nil {
		return fmt.Errorf("captcha: solve recaptcha: %w", err)
	}
	js := fmt.Sprintf(
		`document.getElementById("g-recaptcha-response").innerHTML = %q;`, token)
	if err := page.RunScript(js); err != nil {
		return fmt.Errorf("captcha: inject recaptcha token: %w", err)
	}
	return nil
}

func (r *Resolver) solveAWSWAF(page Page) error {
	page.ScrollToBottom()
	page.Pause(2*time.Second, 4*time.Second)

	// the puzzle select hides behind the host's shadow root; poke it open
	_ = page.RunScript(`
		(function() {
			var host = document.querySelector('awswaf-captcha');
			if (!host || !host.shadowRoot) return;
			var sel = host.shadowRoot.querySelector('select');
			if (sel) sel.click();
		})()
	`)
	page.Pause(1*time.Second, 3*time.Second)

	shot, err := page.Screenshot(awsWAFHost)
	if err != nil {
		return fmt.Errorf("captcha: puzzle screenshot: %w", err)
	}
	points, err := r.solver.Coordinates(base64.StdEncoding.EncodeToString(shot))
	if err != nil {
		return fmt.Errorf("captcha: solve puzzle: %w", err)
	}
	if len(points) == 0 {
		return errors.New("captcha: solver returned no click coordinates")
	}

	for _, p := range points {
		if err := page.ClickWithin(awsWAFHost, p.X, p.Y); err != nil {
			return fmt.Errorf("captcha: puzzle click: %w", err)
		}
		page.Pause(400*time.Millisecond, 900*time.Millisecond)
	}

	// confirm control lives in the same shadow root
	_ = page.RunScript(`
		(function() {
			var host = document.querySelector('awswaf-captcha');
			if (!host || !host.shadowRoot) return;
			var btn = host.shadowRoot.querySelector('#amzn-btn-verify-internal');
			if (btn) btn.click();
		})()
	`)
	page.Pause(3*time.Second, 5*time.Second)
	return nil
}
