package application

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flatbot/config"
	"flatbot/models"
	"flatbot/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger() }

func testApplicant() config.Applicant {
	return config.Applicant{
		FirstName: "Mia",
		LastName:  "Schmidt",
		City:      "Berlin",
		JobTitle:  "Softwareentwicklerin",
		Company:   "Beispiel GmbH",
		NetIncome: "3200",
		Birthdate: "15.06.1990",
	}
}

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "application.tmpl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

func TestGenerateRendersTemplate(t *testing.T) {
	path := writeTemplate(t,
		"Sehr geehrte/r {{.LandlordName}},\n"+
			"ich interessiere mich für die Wohnung in {{.FlatAddress}}.\n"+
			"{{.FirstName}} {{.Surname}}, {{.Job}} bei {{.Company}}")
	g := NewGenerator(path, "fallback", testApplicant(), newTestLogger())

	l := models.NewListing("1", "immobilienscout24")
	l.AgentName = "Herr Meyer"
	l.Location = "10115 Berlin, Mitte"

	got := g.Generate(l)
	for _, want := range []string{"Herr Meyer", "10115 Berlin, Mitte", "Mia Schmidt", "Beispiel GmbH"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered text missing %q:\n%s", want, got)
		}
	}
}

func TestGenerateFallsBackWithoutTemplate(t *testing.T) {
	g := NewGenerator("", "Sehr geehrte Damen und Herren", testApplicant(), newTestLogger())
	if got := g.Generate(models.NewListing("1", "x")); got != "Sehr geehrte Damen und Herren" {
		t.Errorf("got %q, want fallback text", got)
	}
}

func TestGenerateFallsBackOnMissingFile(t *testing.T) {
	g := NewGenerator("/nonexistent/application.tmpl", "fallback", testApplicant(), newTestLogger())
	if got := g.Generate(models.NewListing("1", "x")); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestGenerateFallsBackOnBrokenTemplate(t *testing.T) {
	path := writeTemplate(t, "Hallo {{.Unclosed")
	g := NewGenerator(path, "fallback", testApplicant(), newTestLogger())
	if got := g.Generate(models.NewListing("1", "x")); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestGenerateNilListing(t *testing.T) {
	path := writeTemplate(t, "An {{.LandlordName}}: hallo von {{.FirstName}}")
	g := NewGenerator(path, "fallback", testApplicant(), newTestLogger())

	got := g.Generate(nil)
	if !strings.Contains(got, "hallo von Mia") {
		t.Errorf("got %q", got)
	}
}

func TestAgeFromBirthdate(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		birthdate string
		want      int
	}{
		{"15.06.1990", 36},
		{"28.08.1990", 36},
		{"29.08.1990", 35},
		{"01.01.2000", 26},
		{"31.12.2000", 25},
		{"", 0},
		{"not-a-date", 0},
		{"1990-06-15", 0},
	}

	for _, tt := range tests {
		if got := ageFromBirthdate(tt.birthdate, now); got != tt.want {
			t.Errorf("ageFromBirthdate(%q) = %d; want %d", tt.birthdate, got, tt.want)
		}
	}
}
