package models

import "time"

// Listing is the unit of work tracked by the pipeline: one rental offer
// discovered by email, identified by the id the source site assigned to it.
// Attribute fields are filled opportunistically during scraping; an empty
// string means "not scraped yet" and is never an error.
type Listing struct {
	ID     string
	Source string

	Title            string
	PriceCold        string
	PriceWarm        string
	AncillaryCosts   string
	Location         string
	SquareMeters     string
	Rooms            string
	AgentName        string
	Agency           string
	EnergyRating     string
	ConstructionYear string
	Description      string
	Neighborhood     string

	// Processed is monotonic false->true: once set, no further automated
	// attempts are made, whether or not an application went out.
	Processed bool
	// Failures counts exhausted driver-level processing attempts, not
	// individual sub-step retries.
	Failures   int
	ReceivedAt time.Time
}

// NewListing creates a freshly discovered, unprocessed listing.
func NewListing(id, source string) *Listing {
	return &Listing{
		ID:         id,
		Source:     source,
		ReceivedAt: time.Now().UTC(),
	}
}

// CaptchaType identifies the anti-automation challenge family on a page.
type CaptchaType string

const (
	CaptchaNone      CaptchaType = ""
	CaptchaGeeTest   CaptchaType = "geetest"
	CaptchaReCaptcha CaptchaType = "recaptcha"
	CaptchaAWSWAF    CaptchaType = "awswaf"
)
