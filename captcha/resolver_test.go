package captcha

import (
	"errors"
	"testing"
	"time"

	"flatbot/models"
	"flatbot/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger() }

// fakePage serves a scripted sequence of page sources. Reading past the end
// repeats the last one.
type fakePage struct {
	sources   []string
	reads     int
	refreshes int
	scripts   []string
	clicks    []Point
}

func (p *fakePage) Source() (string, error) {
	i := p.reads
	if i >= len(p.sources) {
		i = len(p.sources) - 1
	}
	p.reads++
	return p.sources[i], nil
}

func (p *fakePage) CurrentURL() (string, error) { return "https://example.com/expose/1", nil }

func (p *fakePage) Attribute(sel, name string) (string, bool) {
	if sel == ".g-recaptcha" && name == "data-sitekey" {
		return "site-key-123", true
	}
	return "", false
}

func (p *fakePage) Screenshot(sel string) ([]byte, error) { return []byte("png"), nil }

func (p *fakePage) RunScript(js string) error {
	p.scripts = append(p.scripts, js)
	return nil
}

func (p *fakePage) ClickWithin(sel string, x, y float64) error {
	p.clicks = append(p.clicks, Point{X: x, Y: y})
	return nil
}

func (p *fakePage) ScrollToBottom()              {}
func (p *fakePage) Refresh() error               { p.refreshes++; return nil }
func (p *fakePage) Pause(min, max time.Duration) {}

type fakeSolver struct {
	recaptchaCalls int
	geetestCalls   int
	coordCalls     int
	fail           bool
}

func (s *fakeSolver) ReCaptcha(siteKey, pageURL string) (string, error) {
	s.recaptchaCalls++
	if s.fail {
		return "", errors.New("service unavailable")
	}
	return "token-abc", nil
}

func (s *fakeSolver) GeeTest(gt, challenge, pageURL string) (*GeeTestSolution, error) {
	s.geetestCalls++
	if s.fail {
		return nil, errors.New("service unavailable")
	}
	return &GeeTestSolution{Challenge: "c", Validate: "v", SecCode: "s"}, nil
}

func (s *fakeSolver) Coordinates(imageBase64 string) ([]Point, error) {
	s.coordCalls++
	if s.fail {
		return nil, errors.New("service unavailable")
	}
	return []Point{{X: 10, Y: 20}}, nil
}

const geetestPage = `<html><script>
	initGeetest({
		gt: "gt-value",
		challenge: "challenge-value",
		offline: false
	}, handler);
</script></html>`

func TestDetect(t *testing.T) {
	r := NewResolver(&fakeSolver{}, 3, newTestLogger())

	tests := []struct {
		source string
		want   models.CaptchaType
	}{
		{geetestPage, models.CaptchaGeeTest},
		{`<div class="g-recaptcha" data-sitekey="k"></div>`, models.CaptchaReCaptcha},
		{`<awswaf-captcha></awswaf-captcha>`, models.CaptchaAWSWAF},
		{`<html><h1>Schöne Wohnung</h1></html>`, models.CaptchaNone},
		{``, models.CaptchaNone},
	}

	for _, tt := range tests {
		got, err := r.Detect(&fakePage{sources: []string{tt.source}})
		if err != nil {
			t.Fatalf("detect failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("detect = %q, want %q", got, tt.want)
		}
	}
}

func TestResolveNoChallenge(t *testing.T) {
	solver := &fakeSolver{}
	r := NewResolver(solver, 3, newTestLogger())

	page := &fakePage{sources: []string{`<html>plain page</html>`}}
	if err := r.Resolve(page); err != nil {
		t.Fatalf("resolve on clean page failed: %v", err)
	}
	if solver.recaptchaCalls+solver.geetestCalls+solver.coordCalls != 0 {
		t.Error("solver contacted although no challenge was present")
	}
}

func TestResolveClearsChallenge(t *testing.T) {
	solver := &fakeSolver{}
	r := NewResolver(solver, 3, newTestLogger())

	// challenge present at detection and solving, gone at validation
	page := &fakePage{sources: []string{geetestPage, geetestPage, `<html>expose page</html>`}}
	if err := r.Resolve(page); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if solver.geetestCalls != 1 {
		t.Errorf("solver called %d times, want 1", solver.geetestCalls)
	}
	if len(page.scripts) != 1 {
		t.Fatalf("expected 1 injected script, got %d", len(page.scripts))
	}
}

func TestResolveBoundedRetry(t *testing.T) {
	solver := &fakeSolver{}
	r := NewResolver(solver, 3, newTestLogger())

	// challenge never goes away
	page := &fakePage{sources: []string{geetestPage}}
	err := r.Resolve(page)
	if !errors.Is(err, ErrUnsolved) {
		t.Fatalf("got %v, want ErrUnsolved", err)
	}
	if solver.geetestCalls != 3 {
		t.Errorf("solver called %d times, want exactly 3", solver.geetestCalls)
	}
	if page.refreshes != 2 {
		t.Errorf("page refreshed %d times, want 2 (between attempts only)", page.refreshes)
	}
}

func TestResolveSolverFailureStillBounded(t *testing.T) {
	solver := &fakeSolver{fail: true}
	r := NewResolver(solver, 2, newTestLogger())

	page := &fakePage{sources: []string{geetestPage}}
	if err := r.Resolve(page); !errors.Is(err, ErrUnsolved) {
		t.Fatalf("got %v, want ErrUnsolved", err)
	}
	if solver.geetestCalls != 2 {
		t.Errorf("solver called %d times, want 2", solver.geetestCalls)
	}
}

func TestSolveReCaptchaInjectsToken(t *testing.T) {
	solver := &fakeSolver{}
	r := NewResolver(solver, 1, newTestLogger())

	page := &fakePage{sources: []string{
		`<div class="g-recaptcha" data-sitekey="k"></div>`,
		`<html>done</html>`,
	}}
	if err := r.Resolve(page); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if solver.recaptchaCalls != 1 {
		t.Errorf("recaptcha solver called %d times, want 1", solver.recaptchaCalls)
	}
	if len(page.scripts) != 1 {
		t.Fatalf("expected 1 injected script, got %d", len(page.scripts))
	}
}

func TestSolveAWSWAFClicksCoordinates(t *testing.T) {
	solver := &fakeSolver{}
	r := NewResolver(solver, 1, newTestLogger())

	page := &fakePage{sources: []string{
		`<awswaf-captcha></awswaf-captcha>`,
		`<html>done</html>`,
	}}
	if err := r.Resolve(page); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if solver.coordCalls != 1 {
		t.Errorf("coordinate solver called %d times, want 1", solver.coordCalls)
	}
	if len(page.clicks) != 1 || page.clicks[0].X != 10 || page.clicks[0].Y != 20 {
		t.Errorf("clicks = %v, want [{10 20}]", page.clicks)
	}
}

func TestParseCoordinates(t *testing.T) {
	points, err := ParseCoordinates("coordinates:x=39,y=59;x=252,y=72")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}
	if points[0].X != 39 || points[0].Y != 59 || points[1].X != 252 || points[1].Y != 72 {
		t.Errorf("points = %v", points)
	}

	if _, err := ParseCoordinates("ERROR_CAPTCHA_UNSOLVABLE"); err == nil {
		t.Error("expected error for response without coordinates")
	}
}
