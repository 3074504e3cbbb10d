package application

import (
	"bytes"
	"os"
	"text/template"
	"time"

	"flatbot/config"
	"flatbot/models"
	"flatbot/utils"
)

// templateData is what an application template can reference.
type templateData struct {
	LandlordName string
	FlatAddress  string

	FirstName string
	Surname   string
	City      string
	Job       string
	JobStatus string
	Company   string
	NetIncome string
	Age       int
}

// Generator renders the application cover letter for a listing. It never
// fails: any template problem falls back to the configured static text.
type Generator struct {
	templatePath string
	fallback     string
	applicant    config.Applicant
	log          *utils.Logger
}

// NewGenerator creates a Generator for the given applicant profile.
func NewGenerator(templatePath, fallback string, applicant config.Applicant, log *utils.Logger) *Generator {
	return &Generator{
		templatePath: templatePath,
		fallback:     fallback,
		applicant:    applicant,
		log:          log,
	}
}

// Generate returns the application text for the listing.
func (g *Generator) Generate(l *models.Listing) string {
	if g.templatePath == "" {
		return g.fallback
	}

	raw, err := os.ReadFile(g.templatePath)
	if err != nil {
		g.log.Warn("[application] Template %s unreadable, using fallback: %v", g.templatePath, err)
		return g.fallback
	}

	tmpl, err := template.New("application").Parse(string(raw))
	if err != nil {
		g.log.Warn("[application] Template parse failed, using fallback: %v", err)
		return g.fallback
	}

	data := templateData{
		FirstName: g.applicant.FirstName,
		Surname:   g.applicant.LastName,
		City:      g.applicant.City,
		Job:       g.applicant.JobTitle,
		JobStatus: g.applicant.JobStatus,
		Company:   g.applicant.Company,
		NetIncome: g.applicant.NetIncome,
		Age:       ageFromBirthdate(g.applicant.Birthdate, time.Now()),
	}
	if l != nil {
		data.LandlordName = l.AgentName
		data.FlatAddress = l.Location
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		g.log.Warn("[application] Template render failed, using fallback: %v", err)
		return g.fallback
	}
	return buf.String()
}

// ageFromBirthdate computes full years from a DD.MM.YYYY birthdate, or 0
// when the date is missing or malformed.
func ageFromBirthdate(birthdate string, now time.Time) int {
	bd, err := time.Parse("02.01.2006", birthdate)
	if err != nil {
		return 0
	}
	age := now.Year() - bd.Year()
	if now.Month() < bd.Month() || (now.Month() == bd.Month() && now.Day() < bd.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}
