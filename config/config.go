package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Applicant holds the profile data used for application templates and for
// matching application-form fields.
type Applicant struct {
	Salutation  string
	FirstName   string
	LastName    string
	Birthdate   string
	Email       string
	Phone       string
	Street      string
	HouseNumber string
	PostCode    string
	City        string

	MoveInDateType         string
	NumberOfPersons        string
	NumberOfAdults         string
	NumberOfKids           string
	EmploymentRelationship string
	EmploymentStatus       string
	IncomeRange            string
	IncomeAmount           string
	DocumentsAvailable     string
	HasPets                string
	SendProfile            string
	RentArrears            string
	InsolvencyProcess      string

	JobStatus     string
	JobTitle      string
	Company       string
	NetIncome     string
	HouseholdSize string
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MailHost           string
	MailPort           int
	MailUser           string
	MailPassword       string
	SubjectFilter      []string
	DeleteAfterExtract bool

	MaxAttempts      int
	LocalAttempts    int
	PollIdleInterval time.Duration
	PageLoadTimeout  time.Duration

	CaptchaAPIKey   string
	CaptchaAttempts int

	SourceEmail    string
	SourcePassword string

	TemplatePath string
	FallbackText string
	Applicant    Applicant

	CookiesDir  string
	LogDir      string
	Debug       bool
	Headless    bool
	Interactive bool
	ChromeBin   string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "flatbot"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "flatbot123"),
		PostgresDB:       getEnv("POSTGRES_DB", "flatbot_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MailHost:           getEnv("MAIL_HOST", ""),
		MailPort:           getEnvInt("MAIL_PORT", 995),
		MailUser:           getEnv("MAIL_USER", ""),
		MailPassword:       getEnv("MAIL_PASSWORD", ""),
		SubjectFilter:      getEnvList("SUBJECT_FILTER", "angebot,offer"),
		DeleteAfterExtract: getEnvBool("DELETE_EMAILS_AFTER_EXTRACT", false),

		MaxAttempts:      getEnvInt("MAX_ATTEMPTS", 3),
		LocalAttempts:    getEnvInt("LOCAL_ATTEMPTS", 3),
		PollIdleInterval: getEnvDuration("POLL_IDLE_INTERVAL", 5*time.Minute),
		PageLoadTimeout:  getEnvDuration("PAGE_LOAD_TIMEOUT", 30*time.Second),

		CaptchaAPIKey:   getEnv("CAPTCHA_API_KEY", ""),
		CaptchaAttempts: getEnvInt("CAPTCHA_ATTEMPTS", 3),

		SourceEmail:    getEnv("SOURCE_EMAIL", ""),
		SourcePassword: getEnv("SOURCE_PASSWORD", ""),

		TemplatePath: getEnv("TEMPLATE_FILENAME", ""),
		FallbackText: getEnv("FALLBACK_TEXT",
			"Sehr geehrte Damen und Herren,\n\nich interessiere mich für die von Ihnen angebotene Wohnung "+
				"und freue mich über eine Rückmeldung.\n\nMit freundlichen Grüßen"),

		Applicant: Applicant{
			Salutation:  getEnv("APPLICANT_SALUTATION", ""),
			FirstName:   getEnv("APPLICANT_NAME", ""),
			LastName:    getEnv("APPLICANT_SURNAME", ""),
			Birthdate:   getEnv("APPLICANT_BIRTHDATE", ""),
			Email:       getEnv("APPLICANT_EMAIL", ""),
			Phone:       getEnv("APPLICANT_PHONE", ""),
			Street:      getEnv("APPLICANT_STREET", ""),
			HouseNumber: getEnv("APPLICANT_HOUSE_NUM", ""),
			PostCode:    getEnv("APPLICANT_POST_CODE", ""),
			City:        getEnv("APPLICANT_CITY", ""),

			MoveInDateType:         getEnv("APPLICANT_MOVEIN_DATE_TYPE", ""),
			NumberOfPersons:        getEnv("APPLICANT_NUM_PERSONS", ""),
			NumberOfAdults:         getEnv("APPLICANT_NUM_ADULTS", ""),
			NumberOfKids:           getEnv("APPLICANT_NUM_KIDS", ""),
			EmploymentRelationship: getEnv("APPLICANT_EMPLOYMENT_RELATIONSHIP", ""),
			EmploymentStatus:       getEnv("APPLICANT_EMPLOYMENT_STATUS", ""),
			IncomeRange:            getEnv("APPLICANT_INCOME_RANGE", ""),
			IncomeAmount:           getEnv("APPLICANT_INCOME_AMOUNT", ""),
			DocumentsAvailable:     getEnv("APPLICANT_DOCUMENTS_AVAILABLE", ""),
			HasPets:                getEnv("APPLICANT_HAS_PETS", ""),
			SendProfile:            getEnv("APPLICANT_SEND_PROFILE", "true"),
			RentArrears:            getEnv("APPLICANT_RENT_ARREARS", ""),
			InsolvencyProcess:      getEnv("APPLICANT_INSOLVENCY_PROCESS", ""),

			JobStatus:     getEnv("APPLICANT_JOB_STATUS", ""),
			JobTitle:      getEnv("APPLICANT_JOB", ""),
			Company:       getEnv("APPLICANT_COMPANY", ""),
			NetIncome:     getEnv("APPLICANT_NET_INCOME_M", ""),
			HouseholdSize: getEnv("APPLICANT_HOUSEHOLD_SIZE", ""),
		},

		CookiesDir:  getEnv("COOKIES_DIR", "cookies"),
		LogDir:      getEnv("LOG_DIR", ""),
		Debug:       getEnvBool("DEBUG", false),
		Headless:    getEnvBool("HEADLESS", true),
		Interactive: getEnvBool("INTERACTIVE", false),
		ChromeBin:   getEnv("CHROME_BIN", ""),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "true", "yes", "1":
			return true
		case "false", "no", "0":
			return false
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
