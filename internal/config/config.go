// Package config loads the portal configuration from defaults, an optional
// YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Values copied from the example file count as unconfigured.
const (
	placeholderDomain   = "YOUR_ORG.my.salesforce.com"
	placeholderClientID = "YOUR_CONSUMER_KEY"
)

type Salesforce struct {
	Domain       string `yaml:"domain"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	APIVersion   string `yaml:"api_version"`
}

type Currencies struct {
	Qualifying    string `yaml:"qualifying" json:"qualifying"`
	NonQualifying string `yaml:"non_qualifying" json:"non_qualifying"`
}

type Loyalty struct {
	ProgramName               string     `yaml:"program_name"`
	ProgramID                 string     `yaml:"program_id"`
	Currencies                Currencies `yaml:"currencies"`
	EligiblePromotionsProcess string     `yaml:"eligible_promotions_process"`
	// EligibilityStrategy is "catalog" or "process".
	EligibilityStrategy string `yaml:"eligibility_strategy"`
	// ProgressCurrency is "qualifying" or "non_qualifying".
	ProgressCurrency string `yaml:"progress_currency"`
}

type Branding struct {
	CompanyName    string `yaml:"company_name" json:"company_name"`
	ProgramTitle   string `yaml:"program_title" json:"program_title"`
	PrimaryColor   string `yaml:"primary_color" json:"primary_color"`
	SecondaryColor string `yaml:"secondary_color" json:"secondary_color"`
	Logo           string `yaml:"logo" json:"logo,omitempty"`
}

type Demo struct {
	Enabled                 bool   `yaml:"enabled"`
	AutoUnenrollMemberID    string `yaml:"auto_unenroll_member_id"`
	AutoUnenrollPromotionID string `yaml:"auto_unenroll_promotion_id"`
	// AdminPasswordHash is a bcrypt hash guarding the demo reset endpoint.
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

type Server struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	StaticDir string `yaml:"static_dir"`
	LogLevel  string `yaml:"log_level"`
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool `yaml:"secure_cookies"`
}

type Proxy struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Salesforce Salesforce `yaml:"salesforce"`
	Loyalty    Loyalty    `yaml:"loyalty"`
	Branding   Branding   `yaml:"branding"`
	Language   string     `yaml:"language"`
	Demo       Demo       `yaml:"demo"`
	Server     Server     `yaml:"server"`
	Proxy      Proxy      `yaml:"proxy"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Salesforce: Salesforce{APIVersion: "v65.0"},
		Loyalty: Loyalty{
			EligiblePromotionsProcess: "GetEligiblePromotions",
			EligibilityStrategy:       "catalog",
			ProgressCurrency:          "qualifying",
		},
		Branding: Branding{
			CompanyName:    "My Company",
			ProgramTitle:   "Loyalty Program",
			PrimaryColor:   "#0066CC",
			SecondaryColor: "#004499",
		},
		Language: "de",
		Server: Server{
			Port:      "8000",
			DBPath:    "portal.db",
			StaticDir: "public",
			LogLevel:  "info",
		},
	}
}

// Load builds the configuration. An empty path skips the file; a path that
// does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(dst *string, names ...string) {
		for _, n := range names {
			if v, ok := lookup(n); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	flag := func(dst *bool, name string) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
		return nil
	}

	str(&c.Server.Port, "PORT", "PORTAL_PORT")
	str(&c.Server.DBPath, "PORTAL_DB_PATH")
	str(&c.Server.StaticDir, "PORTAL_STATIC_DIR")
	str(&c.Server.LogLevel, "PORTAL_LOG_LEVEL")

	str(&c.Salesforce.Domain, "SF_DOMAIN")
	str(&c.Salesforce.ClientID, "SF_CLIENT_ID")
	str(&c.Salesforce.ClientSecret, "SF_CLIENT_SECRET")
	str(&c.Salesforce.APIVersion, "SF_API_VERSION")

	str(&c.Branding.CompanyName, "COMPANY_NAME")
	str(&c.Branding.ProgramTitle, "PROGRAM_TITLE")
	str(&c.Branding.PrimaryColor, "PRIMARY_COLOR")
	str(&c.Branding.SecondaryColor, "SECONDARY_COLOR")
	str(&c.Language, "LANGUAGE")

	str(&c.Loyalty.ProgramName, "PROGRAM_NAME")
	str(&c.Loyalty.ProgramID, "PROGRAM_ID")
	str(&c.Loyalty.Currencies.Qualifying, "QUALIFYING_CURRENCY")
	str(&c.Loyalty.Currencies.NonQualifying, "NON_QUALIFYING_CURRENCY")
	str(&c.Loyalty.EligiblePromotionsProcess, "ELIGIBLE_PROMOTIONS_PROCESS")
	str(&c.Loyalty.EligibilityStrategy, "PORTAL_ELIGIBILITY_STRATEGY")
	str(&c.Loyalty.ProgressCurrency, "PORTAL_PROGRESS_CURRENCY")

	str(&c.Demo.AutoUnenrollMemberID, "DEMO_MEMBER_ID")
	str(&c.Demo.AutoUnenrollPromotionID, "DEMO_PROMOTION_ID")
	str(&c.Demo.AdminPasswordHash, "PORTAL_DEMO_ADMIN_HASH")

	if err := flag(&c.Demo.Enabled, "DEMO_ENABLED"); err != nil {
		return err
	}
	if err := flag(&c.Proxy.Enabled, "PORTAL_PROXY_ENABLED"); err != nil {
		return err
	}
	return flag(&c.Server.SecureCookies, "PORTAL_SECURE_COOKIES")
}

var (
	ErrDomainMissing   = errors.New("salesforce domain not configured")
	ErrClientIDMissing = errors.New("salesforce client id not configured")
)

// Validate reports the first setting that keeps the portal from starting.
func (c Config) Validate() error {
	if d := strings.TrimSpace(c.Salesforce.Domain); d == "" || d == placeholderDomain {
		return ErrDomainMissing
	}
	if id := strings.TrimSpace(c.Salesforce.ClientID); id == "" || id == placeholderClientID {
		return ErrClientIDMissing
	}
	switch c.Loyalty.EligibilityStrategy {
	case "catalog", "process":
	default:
		return fmt.Errorf("eligibility_strategy %q: want catalog or process", c.Loyalty.EligibilityStrategy)
	}
	switch c.Loyalty.ProgressCurrency {
	case "qualifying", "non_qualifying":
	default:
		return fmt.Errorf("progress_currency %q: want qualifying or non_qualifying", c.Loyalty.ProgressCurrency)
	}
	return nil
}

// DemoActive reports whether the household-dialog unenroll should run.
func (c Config) DemoActive() bool {
	return c.Demo.Enabled && c.Demo.AutoUnenrollMemberID != "" && c.Demo.AutoUnenrollPromotionID != ""
}

// ClientLoyalty is the loyalty subset a browser may see.
type ClientLoyalty struct {
	ProgramName               string     `json:"program_name"`
	ProgramID                 string     `json:"program_id"`
	Currencies                Currencies `json:"currencies"`
	EligiblePromotionsProcess string     `json:"eligible_promotions_process"`
	ProgressCurrency          string     `json:"progress_currency"`
}

type ClientDemo struct {
	Enabled                 bool   `json:"enabled"`
	AutoUnenrollMemberID    string `json:"auto_unenroll_member_id,omitempty"`
	AutoUnenrollPromotionID string `json:"auto_unenroll_promotion_id,omitempty"`
}

// ClientConfig is served by GET /api/config. It never carries credentials.
type ClientConfig struct {
	Branding Branding      `json:"branding"`
	Language string        `json:"language"`
	Loyalty  ClientLoyalty `json:"loyalty"`
	Demo     ClientDemo    `json:"demo"`
}

func (c Config) Client() ClientConfig {
	return ClientConfig{
		Branding: c.Branding,
		Language: c.Language,
		Loyalty: ClientLoyalty{
			ProgramName:               c.Loyalty.ProgramName,
			ProgramID:                 c.Loyalty.ProgramID,
			Currencies:                c.Loyalty.Currencies,
			EligiblePromotionsProcess: c.Loyalty.EligiblePromotionsProcess,
			ProgressCurrency:          c.Loyalty.ProgressCurrency,
		},
		Demo: ClientDemo{
			Enabled:                 c.Demo.Enabled,
			AutoUnenrollMemberID:    c.Demo.AutoUnenrollMemberID,
			AutoUnenrollPromotionID: c.Demo.AutoUnenrollPromotionID,
		},
	}
}
