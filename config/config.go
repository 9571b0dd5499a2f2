// Package config loads server settings from flags with environment
// defaults. Flags win over MEALTOKEN_* variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config captures the settings of the meal token server.
type Config struct {
	Port        int
	DBPath      string
	JWTSecret   string
	TokenTTL    time.Duration
	Tenant      string
	Location    *time.Location
	CatalogPath string
	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	// PrintToken, when set, is the role of a bearer token main prints
	// before exiting.
	PrintToken string
}

// Load parses args (without the program name). getenv supplies defaults;
// pass os.Getenv in production. Every missing or invalid value is reported
// in one error.
func Load(args []string, getenv func(string) string) (Config, error) {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	fs := flag.NewFlagSet("mealtoken", flag.ContinueOnError)
	port := fs.String("port", env("MEALTOKEN_PORT", "8080"), "HTTP server port")
	dbPath := fs.String("db", env("MEALTOKEN_DB", "mealtoken.db"), `SQLite database path (":memory:" allowed)`)
	secret := fs.String("jwt-secret", env("MEALTOKEN_JWT_SECRET", ""), "HMAC secret for bearer tokens (required)")
	ttl := fs.String("token-ttl", env("MEALTOKEN_TOKEN_TTL", "12h"), "Lifetime of tokens minted by -print-token")
	tenant := fs.String("tenant", env("MEALTOKEN_TENANT", "default"), "Tenant served by this process")
	timezone := fs.String("timezone", env("MEALTOKEN_TIMEZONE", "UTC"), "IANA time zone of the kiosks")
	catalog := fs.String("catalog", env("MEALTOKEN_CATALOG", ""), "Optional JSON catalog loaded at start")
	origins := fs.String("cors-origins", env("MEALTOKEN_CORS_ORIGINS", ""), "Comma separated allowed CORS origins")
	logLevel := fs.String("log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	logFormat := fs.String("log-format", env("MEALTOKEN_LOG_FORMAT", "text"), "text or json")
	printToken := fs.String("print-token", "", "Print a bearer token for this role (admin or kiosk) and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:      strings.TrimSpace(*dbPath),
		JWTSecret:   strings.TrimSpace(*secret),
		Tenant:      strings.TrimSpace(*tenant),
		CatalogPath: strings.TrimSpace(*catalog),
		CORSOrigins: splitList(*origins),
		LogLevel:    strings.ToLower(strings.TrimSpace(*logLevel)),
		LogFormat:   strings.ToLower(strings.TrimSpace(*logFormat)),
		PrintToken:  strings.TrimSpace(*printToken),
	}

	var missing, invalid []string

	if p, err := strconv.Atoi(strings.TrimSpace(*port)); err != nil || p <= 0 || p > 65535 {
		invalid = append(invalid, "port")
	} else {
		cfg.Port = p
	}
	if d, err := time.ParseDuration(strings.TrimSpace(*ttl)); err != nil || d <= 0 {
		invalid = append(invalid, "token-ttl")
	} else {
		cfg.TokenTTL = d
	}
	if loc, err := time.LoadLocation(strings.TrimSpace(*timezone)); err != nil {
		invalid = append(invalid, "timezone")
	} else {
		cfg.Location = loc
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		invalid = append(invalid, "log-level")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		invalid = append(invalid, "log-format")
	}

	switch cfg.PrintToken {
	case "", "admin", "kiosk":
	default:
		invalid = append(invalid, "print-token")
	}

	if cfg.JWTSecret == "" {
		missing = append(missing, "jwt-secret (MEALTOKEN_JWT_SECRET)")
	}
	if cfg.DBPath == "" {
		missing = append(missing, "db (MEALTOKEN_DB)")
	}
	if cfg.Tenant == "" {
		missing = append(missing, "tenant (MEALTOKEN_TENANT)")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required settings: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("invalid settings: %s", strings.Join(invalid, ", ")))
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
