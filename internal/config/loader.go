package config

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStruct walks the struct tree and fills every field carrying an env tag.
//
// Tags:
//   - env: primary variable name
//   - envAlt: fallback variable name
//   - default: value used when neither variable is set
//   - required: "true" makes a missing value an error
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := range t.NumField() {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct {
			if err := loadStruct(fv); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookupEnv(name, sf.Tag.Get("envAlt"))
		if !ok {
			if sf.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", name)
			}
			raw = sf.Tag.Get("default")
		}
		if raw == "" {
			continue
		}

		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, raw, err)
		}
	}
	return nil
}

// lookupEnv returns the first non-empty value among the named variables.
func lookupEnv(names ...string) (string, bool) {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v := os.Getenv(n); v != "" {
			return v, true
		}
	}
	return "", false
}

// setField parses raw into the field according to its type.
func setField(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", fv.Type().Elem())
		}
		fv.Set(reflect.ValueOf(splitList(raw)))
	default:
		return fmt.Errorf("unsupported field type: %s", fv.Kind())
	}
	return nil
}

// splitList splits a comma-separated list, dropping blank entries.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// problems collects validation failures so they can be reported together.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) positive(name string, n int64) {
	if n <= 0 {
		p.addf("%s must be positive", name)
	}
}

func (p *problems) fraction(name string, f float64) {
	if f <= 0 || f > 1 {
		p.addf("%s (%g) must be in (0, 1]", name, f)
	}
}

func (p *problems) oneOf(name, value string, allowed ...string) {
	if !slices.Contains(allowed, strings.ToLower(value)) {
		p.addf("%s (%q) must be one of: %s", name, value, strings.Join(allowed, ", "))
	}
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs problems

	switch {
	case c.Database.URL == "":
		errs.addf("DATABASE_URL is required")
	case c.Database.Driver() == "":
		errs.addf("DATABASE_URL must start with postgres://, sqlite:, file: or memory:")
	}
	if c.Database.Driver() == DriverPostgres {
		errs.positive("DB_MAX_CONNS", int64(c.Database.MaxConns))
		if c.Database.MinConns < 0 {
			errs.addf("DB_MIN_CONNS must be non-negative")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs.addf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs.addf("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		errs.addf("SERVER_READ_TIMEOUT must be non-negative")
	}
	errs.positive("SERVER_SHUTDOWN_TIMEOUT", int64(c.Server.ShutdownTimeout))

	errs.positive("IMPORT_MAX_FILE_SIZE", c.Import.MaxFileSize)
	errs.fraction("IMPORT_MAPPING_THRESHOLD", c.Import.MappingThreshold)
	errs.fraction("IMPORT_SIMILARITY_THRESHOLD", c.Import.SimilarityThreshold)
	errs.positive("IMPORT_MAX_MATCHES", int64(c.Import.MaxMatches))
	errs.positive("IMPORT_CONCURRENCY", int64(c.Import.Concurrency))
	errs.positive("IMPORT_SESSION_TTL", int64(c.Import.SessionTTL))
	errs.positive("IMPORT_SWEEP_INTERVAL", int64(c.Import.SweepInterval))
	errs.positive("IMPORT_MAX_CONCURRENT_COMMITS", int64(c.Import.MaxConcurrentCommits))
	errs.positive("IMPORT_COMMIT_WAIT", int64(c.Import.CommitWait))

	if c.Cache.Enabled {
		errs.positive("RULE_CACHE_SIZE", int64(c.Cache.Size))
		errs.positive("RULE_CACHE_TTL", int64(c.Cache.TTL))
	}
	if c.Rate.Enabled {
		errs.positive("RATE_LIMIT_REQUESTS_PER_MINUTE", int64(c.Rate.RequestsPerMinute))
		errs.positive("RATE_LIMIT_UPLOAD", int64(c.Rate.UploadLimit))
	}
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs.addf("REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	errs.oneOf("LOG_LEVEL", c.Logging.Level, "debug", "info", "warn", "error")
	errs.oneOf("LOG_FORMAT", c.Logging.Format, "text", "json")

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Database URLs and API keys are masked.
func (c *Config) String() string {
	parts := []string{
		fmt.Sprintf("Server: {Addr: %s}", c.Server.Addr()),
		fmt.Sprintf("Database: {Driver: %s, URL: [MASKED], MaxConns: %d}", c.Database.Driver(), c.Database.MaxConns),
		fmt.Sprintf("Import: {MaxFileSize: %d, Concurrency: %d, MaxConcurrentCommits: %d, SessionTTL: %s}",
			c.Import.MaxFileSize, c.Import.Concurrency, c.Import.MaxConcurrentCommits, c.Import.SessionTTL),
		fmt.Sprintf("Cache: {Enabled: %t, Size: %d, TTL: %s}", c.Cache.Enabled, c.Cache.Size, c.Cache.TTL),
		fmt.Sprintf("Rate: {Enabled: %t, RequestsPerMinute: %d, UploadLimit: %d}",
			c.Rate.Enabled, c.Rate.RequestsPerMinute, c.Rate.UploadLimit),
		fmt.Sprintf("Security: {RequireAPIKey: %t, APIKeys: %d}", c.Security.RequireAPIKey, len(c.Security.APIKeys)),
		fmt.Sprintf("Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format),
	}
	return "Config{" + strings.Join(parts, ", ") + "}"
}
