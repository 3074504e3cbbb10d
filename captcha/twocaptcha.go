package captcha

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	api2captcha "github.com/2captcha/2captcha-go"
)

// TwoCaptcha adapts the 2Captcha client to the Solver interface. The client
// polls the service with its own internal timeout; failures surface as
// errors and are retried at the resolver level.
type TwoCaptcha struct {
	client *api2captcha.Client
}

// NewTwoCaptcha creates a solver backed by the 2Captcha service.
func NewTwoCaptcha(apiKey string) *TwoCaptcha {
	c := api2captcha.NewClient(apiKey)
	c.DefaultTimeout = 120
	c.PollingInterval = 10
	return &TwoCaptcha{client: c}
}

func (t *TwoCaptcha) ReCaptcha(siteKey, pageURL string) (string, error) {
	cap := api2captcha.ReCaptcha{
		SiteKey: siteKey,
		Url:     pageURL,
	}
	code, _, err := t.client.Solve(cap.ToRequest())
	if err != nil {
		return "", fmt.Errorf("twocaptcha: recaptcha: %w", err)
	}
	return code, nil
}

func (t *TwoCaptcha) GeeTest(gt, challenge, pageURL string) (*GeeTestSolution, error) {
	cap := api2captcha.GeeTest{
		GT:        gt,
		Challenge: challenge,
		Url:       pageURL,
	}
	code, _, err := t.client.Solve(cap.ToRequest())
	if err != nil {
		return nil, fmt.Errorf("twocaptcha: geetest: %w", err)
	}
	var sol GeeTestSolution
	if err := json.Unmarshal([]byte(code), &sol); err != nil {
		return nil, fmt.Errorf("twocaptcha: geetest response %q: %w", code, err)
	}
	return &sol, nil
}

func (t *TwoCaptcha) Coordinates(imageBase64 string) ([]Point, error) {
	cap := api2captcha.Coordinates{
		Base64: imageBase64,
	}
	code, _, err := t.client.Solve(cap.ToRequest())
	if err != nil {
		return nil, fmt.Errorf("twocaptcha: coordinates: %w", err)
	}
	points, err := ParseCoordinates(code)
	if err != nil {
		return nil, fmt.Errorf("twocaptcha: %w", err)
	}
	return points, nil
}

var coordRe = regexp.MustCompile(`x=(\d+),\s*y=(\d+)`)

// ParseCoordinates decodes the solving service's click list, e.g.
// "coordinates:x=39,y=59;x=252,y=72".
func ParseCoordinates(code string) ([]Point, error) {
	matches := coordRe.FindAllStringSubmatch(code, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no coordinates in solver response %q", code)
	}
	points := make([]Point, 0, len(matches))
	for _, m := range matches {
		x, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, err
		}
		points = append(points, Point{X: x, Y: y})
	}
	return points, nil
}
