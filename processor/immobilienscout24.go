package processor

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"flatbot/application"
	"flatbot/browser"
	"flatbot/captcha"
	"flatbot/config"
	"flatbot/models"
	"flatbot/utils"
)

const (
	is24Source = "immobilienscout24"
	is24Name   = "ImmobilienScout24"
	is24Domain = "immobilienscout24.de"
)

// Page-title markers used to classify whatever page a navigation landed on.
var is24PageTitles = map[string]string{
	"captcha_wall":      "Ich bin kein Roboter",
	"offer_expired":     "Angebot nicht gefunden",
	"offer_deactivated": "Angebot wurde deaktiviert",
	"login_page":        "Welcome - ImmobilienScout24",
	"error_page":        "Fehler",
	"home_page":         "ImmoScout24 – Die Nr. 1 für Immobilien",
}

var is24ExposeLinkRe = regexp.MustCompile(`https://[a-zA-Z0-9./?=&_-]*expose/(\d+)`)

// is24SubjectKeywords gates extraction: the notification subject must
// mention an offer.
var is24SubjectKeywords = []string{"angebot", "offer"}

// ImmobilienScout24 drives listings from immobilienscout24.de through
// classification, scraping, login, and application submission.
type ImmobilienScout24 struct {
	email     string
	password  string
	applicant config.Applicant

	generator *application.Generator
	captcha   *captcha.Resolver

	localAttempts int
	pageTimeout   time.Duration
	log           *utils.Logger
}

// NewImmobilienScout24 wires the processor with its collaborators. The
// generator and captcha resolver are injected, never shared globals.
func NewImmobilienScout24(cfg *config.Config, gen *application.Generator, resolver *captcha.Resolver, log *utils.Logger) *ImmobilienScout24 {
	return &ImmobilienScout24{
		email:         cfg.SourceEmail,
		password:      cfg.SourcePassword,
		applicant:     cfg.Applicant,
		generator:     gen,
		captcha:       resolver,
		localAttempts: cfg.LocalAttempts,
		pageTimeout:   cfg.PageLoadTimeout,
		log:           log,
	}
}

func (p *ImmobilienScout24) Source() string { return is24Source }
func (p *ImmobilienScout24) Name() string   { return is24Name }
func (p *ImmobilienScout24) Domain() string { return is24Domain }

// ExtractIDs pulls the unique expose ids out of a notification email. The
// same id frequently appears several times in one message, so the result is
// a set.
func (p *ImmobilienScout24) ExtractIDs(subject, body string) []string {
	subjectLower := strings.ToLower(subject)
	match := false
	for _, kw := range is24SubjectKeywords {
		if strings.Contains(subjectLower, kw) {
			match = true
			break
		}
	}
	if !match {
		return nil
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, m := range is24ExposeLinkRe.FindAllStringSubmatch(body, -1) {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, m[1])
	}
	return ids
}

// ListingURL builds the canonical expose page URL from the listing id.
func (p *ImmobilienScout24) ListingURL(l *models.Listing) string {
	return "https://push.search.is24.de/email/expose/" + l.ID
}

// Process runs up to localAttempts iterations of navigate → wait → classify.
// It exits early on the first terminal result; exhausting all local attempts
// without one reports a single non-terminal failure to the driver.
func (p *ImmobilienScout24) Process(ctx context.Context, s *browser.Session, l *models.Listing) (bool, error) {
	url := p.ListingURL(l)
	p.log.Info("[is24] Processing listing %s: %s", l.ID, url)

	for attempt := 1; attempt <= p.localAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		p.log.Info("[is24] Attempt %d/%d for listing %s", attempt, p.localAttempts, l.ID)
		if err := s.Navigate(url); err != nil {
			p.log.Warn("[is24] Navigation failed: %v", err)
			continue
		}
		if attempt == 1 {
			// session cookies from a previous run; applied on reload
			if err := s.LoadCookies(p.Source()); err != nil {
				p.log.Warn("[is24] Cookie restore failed: %v", err)
			} else if err := s.Refresh(); err != nil {
				p.log.Warn("[is24] Reload after cookie restore failed: %v", err)
			}
		}
		s.Pause(2*time.Second, 5*time.Second)
		s.RandomScroll()

		if err := s.WaitTitle(p.pageTimeout); err != nil {
			p.log.Warn("[is24] %v", err)
			continue
		}

		terminal := p.handlePage(s, l)
		if terminal {
			p.log.Info("[is24] Attempt %d reached a terminal result", attempt)
			return true, nil
		}
		p.log.Info("[is24] Attempt %d did not finish the listing", attempt)
		if attempt < p.localAttempts {
			s.Pause(3*time.Second, 6*time.Second)
		}
	}

	p.log.Info("[is24] All local attempts exhausted for listing %s", l.ID)
	return false, nil
}

// handlePage classifies the currently loaded page by title and performs
// exactly one action for it. Clearing a challenge wall re-classifies once,
// since the page under the challenge is unknown until it is gone.
func (p *ImmobilienScout24) handlePage(s *browser.Session, l *models.Listing) bool {
	for pass := 0; pass < 2; pass++ {
		title := s.Title()
		p.log.Info("[is24] Page title: %s", title)

		switch {
		case strings.Contains(title, is24PageTitles["captcha_wall"]):
			if p.captcha == nil {
				p.log.Warn("[is24] Challenge wall but no resolver configured")
				s.WaitForUser("Captcha wall needs manual help")
				return false
			}
			if err := p.captcha.Resolve(s); err != nil {
				p.log.Warn("[is24] Challenge not cleared: %v", err)
				s.WaitForUser("Captcha wall needs manual help")
				return false
			}
			continue // challenge gone, classify what is underneath

		case strings.Contains(title, is24PageTitles["offer_expired"]),
			strings.Contains(title, is24PageTitles["offer_deactivated"]):
			p.log.Info("[is24] Offer expired or deactivated, marking processed")
			l.Processed = true
			return true

		case strings.Contains(title, is24PageTitles["login_page"]):
			p.log.Warn("[is24] Login page detected, attempting login")
			p.login(s)
			// login consumed this attempt; re-navigate on the next one
			return false

		case strings.Contains(title, is24PageTitles["error_page"]),
			strings.Contains(title, is24PageTitles["home_page"]):
			p.log.Warn("[is24] Error page or home-page redirect, retrying")
			return false
		}
		break
	}

	s.RandomAction()
	p.acceptCookieConsent(s)

	if !p.scrape(s, l) {
		return false
	}

	if !p.isLoggedIn(s) {
		p.login(s)
		return false
	}

	p.acceptCookieConsent(s)
	return p.apply(s, l)
}

// scrape best-effort extracts every attribute into the listing. A missing
// field becomes "Unknown" and never aborts the scrape; only a page without
// the offer-title marker counts as a failed attempt.
func (p *ImmobilienScout24) scrape(s *browser.Session, l *models.Listing) bool {
	title := s.SafeText("#expose-title")
	if title == "Unknown" {
		p.log.Warn("[is24] No offer title found, bad attempt")
		return false
	}

	l.Title = normalizeText(title)
	l.Location = normalizeText(s.SafeText(".zip-region-and-country"))
	l.AgentName = normalizeText(s.SafeText(".truncateChild_5TDve"))
	l.Agency = normalizeText(s.SafeText("p[data-qa='company-name']"))
	l.PriceCold = normalizeText(s.SafeText(".is24-preis-value"))
	l.SquareMeters = normalizeText(s.SafeText(".is24qa-wohnflaeche-main"))
	l.Rooms = normalizeText(s.SafeText(".is24qa-zi-main"))
	l.AncillaryCosts = normalizeText(s.SafeText(".is24qa-nebenkosten"))
	l.PriceWarm = normalizeText(s.SafeText("dd.is24qa-gesamtmiete"))
	l.ConstructionYear = normalizeText(s.SafeText(".is24qa-baujahr"))
	l.EnergyRating = normalizeText(s.SafeText(".is24qa-energieeffizienzklasse"))
	l.Description = normalizeText(s.SafeText(".is24qa-objektbeschreibung"))
	l.Neighborhood = normalizeText(s.SafeText(".is24qa-lage"))

	p.log.Info("[is24] Scraped listing %s: %s", l.ID, l.Title)
	s.RandomAction()
	return true
}

// isLoggedIn checks the top-navigation login header.
func (p *ImmobilienScout24) isLoggedIn(s *browser.Session) bool {
	header := s.SafeText(".topnavigation__sso-login__header")
	if header != "Unknown" && strings.Contains(header, "angemeldet als") {
		p.log.Info("[is24] User already logged in")
		return true
	}
	p.log.Info("[is24] User does not seem to be logged in")
	return false
}

// login walks the two-step sign-in flow (email, then password) with
// human-like typing, saving cookies on success.
func (p *ImmobilienScout24) login(s *browser.Session) bool {
	s.DismissOverlays()

	loginLink := s.SafeText(".topnavigation__sso-login__middle")
	if loginLink != "Unknown" && strings.Contains(loginLink, "Anmelden") {
		if err := s.Click(".topnavigation__sso-login__middle"); err != nil {
			p.log.Warn("[is24] Could not open login form: %v", err)
			return false
		}
	}

	if !s.Exists("#username", 10*time.Second) {
		p.log.Warn("[is24] Login form did not appear")
		s.WaitForUser("Login needs manual help")
		return false
	}
	if err := s.TypeHuman("#username", p.email); err != nil {
		p.log.Warn("[is24] Could not enter email: %v", err)
		return false
	}
	s.RandomAction()
	s.DismissOverlays()
	if err := s.Click("#submit"); err != nil {
		p.log.Warn("[is24] Email submission failed: %v", err)
		return false
	}

	if !s.Exists("#password", 10*time.Second) {
		p.log.Warn("[is24] Password field did not appear")
		return false
	}
	if err := s.TypeHuman("#password", p.password); err != nil {
		p.log.Warn("[is24] Could not enter password: %v", err)
		return false
	}
	s.RandomAction()
	s.DismissOverlays()
	if err := s.Click("#loginOrRegistration"); err != nil {
		p.log.Warn("[is24] Login submission failed: %v", err)
		return false
	}
	s.Pause(5*time.Second, 10*time.Second)

	if err := s.SaveCookies(p.Source()); err != nil {
		p.log.Warn("[is24] Could not save cookies: %v", err)
	}
	p.log.Info("[is24] Login submitted")
	return true
}

// apply opens the contact dialog, fills the application form, and submits.
// Returns true only on a terminal outcome (confirmation seen, or a paywall
// that makes the listing unreachable for good).
func (p *ImmobilienScout24) apply(s *browser.Session, l *models.Listing) bool {
	p.log.Info("[is24] Trying application for listing %s", l.ID)

	s.DismissOverlays()
	if err := s.Click(".Button_button-primary__6QTnx"); err != nil {
		p.log.Info("[is24] Message button not found: %v", err)
		return false
	}
	s.RandomAction()

	title := s.Title()
	if strings.Contains(title, is24PageTitles["login_page"]) {
		p.log.Info("[is24] Not logged in after all, bad attempt")
		return false
	}
	if strings.Contains(title, "MieterPlus freischalten | ImmoScout24") {
		p.log.Info("[is24] MieterPlus paywall, marking listing %s processed", l.ID)
		l.Processed = true
		return true
	}

	if !s.Exists("#message", 10*time.Second) {
		p.log.Warn("[is24] Message box did not open, bad attempt")
		return false
	}

	filled, err := FillForm(s, p.formValues(l), p.log)
	if err != nil {
		p.log.Warn("[is24] Form filling failed: %v", err)
		return false
	}
	if filled == 0 {
		p.log.Warn("[is24] No form fields filled, bad attempt")
		return false
	}

	s.RandomAction()
	s.DismissOverlays()
	if err := s.Click("button[type='submit'].Button_button-primary__6QTnx"); err != nil {
		p.log.Info("[is24] Submit button not found: %v", err)
		return false
	}

	if !s.ExistsXPath("//h2[text()='Nachricht gesendet']", 10*time.Second) {
		p.log.Warn("[is24] No confirmation after submit, bad attempt")
		return false
	}

	p.log.Info("[is24] Listing %s applied successfully", l.ID)
	l.Processed = true
	return true
}

// formValues is the (name, type) → value table for the application form.
// Several logical fields appear under multiple input types depending on the
// form variant the site serves.
func (p *ImmobilienScout24) formValues(l *models.Listing) []FormValue {
	a := p.applicant
	message := p.generator.Generate(l)

	return []FormValue{
		{"vonplz", "text", a.PostCode},
		{"nachplz", "text", ""},
		{"message", "textarea", message},
		{"salutation", "text", a.Salutation},
		{"salutation", "select", a.Salutation},
		{"firstName", "text", a.FirstName},
		{"lastName", "text", a.LastName},
		{"phoneNumber", "tel", a.Phone},
		{"phoneNumber", "text", a.Phone},
		{"phoneNumber", "number", a.Phone},
		{"emailAddress", "email", a.Email},
		{"emailAddress", "text", a.Email},
		{"street", "text", a.Street},
		{"houseNumber", "text", a.HouseNumber},
		{"postcode", "text", a.PostCode},
		{"city", "text", a.City},
		{"moveInDateType", "text", a.MoveInDateType},
		{"moveInDateType", "select", a.MoveInDateType},
		{"numberOfPersons", "text", a.NumberOfPersons},
		{"numberOfPersons", "select", a.NumberOfPersons},
		{"employmentRelationship", "text", a.EmploymentRelationship},
		{"employmentRelationship", "select", a.EmploymentRelationship},
		{"employmentStatus", "select", a.EmploymentStatus},
		{"employmentStatus", "text", a.EmploymentStatus},
		{"income", "select", a.IncomeRange},
		{"incomeAmount", "tel", a.IncomeAmount},
		{"incomeAmount", "text", a.IncomeAmount},
		{"incomeAmount", "number", a.IncomeAmount},
		{"applicationPackageCompleted", "text", a.DocumentsAvailable},
		{"applicationPackageCompleted", "select", a.DocumentsAvailable},
		{"hasPets", "text", a.HasPets},
		{"hasPets", "select", a.HasPets},
		{"sendUser", "checkbox", a.SendProfile},
		{"sendUserProfile", "checkbox", a.SendProfile},
		{"numberOfAdults", "number", a.NumberOfAdults},
		{"numberOfAdults", "tel", a.NumberOfAdults},
		{"numberOfKids", "number", a.NumberOfKids},
		{"numberOfKids", "tel", a.NumberOfKids},
		{"isRelocationOfferChecked", "checkbox", "false"},
		{"rentArrears", "select", a.RentArrears},
		{"insolvencyProcess", "select", a.InsolvencyProcess},
	}
}

// acceptCookieConsent clicks the consent banner's accept button inside its
// shadow root. The banner is optional; failure is fine.
func (p *ImmobilienScout24) acceptCookieConsent(s *browser.Session) {
	err := s.RunScript(`
		(function() {
			var host = document.querySelector('#usercentrics-root');
			if (!host || !host.shadowRoot) return;
			var btn = host.shadowRoot.querySelector("button[data-testid='uc-accept-all-button']");
			if (btn) btn.click();
		})()
	`)
	if err != nil {
		p.log.Debug("[is24] Consent banner not dismissed: %v", err)
	}
}

// normalizeText collapses internal whitespace and trims the edges of a
// scraped value.
func normalizeText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}
