// Package config resolves gmailpurge settings from the environment, optional
// .env files and built-in defaults. Command-line flags override the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/joshsymonds/gmailpurge/internal/gmail"
)

// Credential providers.
const (
	ProviderToken    = "token"
	ProviderGmailctl = "gmailctl"
)

// ErrMissingCredentials means neither a credentials file nor a client id and
// secret are available.
var ErrMissingCredentials = errors.New("no OAuth client credentials found")

// Config holds every tunable of a run.
type Config struct {
	Dir             string
	CredentialsFile string
	TokenFile       string
	LogFile         string // CSV audit log, empty disables
	LogDB           string // SQLite audit log, empty disables
	ClientID        string
	ClientSecret    string
	Provider        string
	GmailctlDir     string
	PageSize        int
	BatchSize       int
	PreviewLimit    int
	PreviewWorkers  int
	RPS             int
	Duplicates      string
	LogLevel        string
}

// LoadDotenv loads each existing file into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotenv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// DefaultDir is where credentials, token and logs live unless overridden.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "gmailpurge")
	}
	return ".gmailpurge"
}

// Load reads the environment.
func Load() Config {
	dir := getEnvString("GMAILPURGE_DIR", DefaultDir())
	cfg := Config{
		Dir:             dir,
		CredentialsFile: getEnvString("GMAILPURGE_CREDENTIALS", filepath.Join(dir, "credentials.json")),
		TokenFile:       getEnvString("GMAILPURGE_TOKEN", filepath.Join(dir, "token.json")),
		LogFile:         getEnvString("GMAILPURGE_LOG_FILE", filepath.Join(dir, "deletion_log.csv")),
		LogDB:           getEnvString("GMAILPURGE_LOG_DB", ""),
		ClientID:        getEnvString("GMAIL_CLIENT_ID", ""),
		ClientSecret:    getEnvString("GMAIL_CLIENT_SECRET", ""),
		Provider:        getEnvString("GMAILPURGE_PROVIDER", ProviderToken),
		GmailctlDir:     getEnvString("GMAILPURGE_GMAILCTL_DIR", os.ExpandEnv("$HOME/.gmailctl")),
		PageSize:        getEnvInt("GMAILPURGE_PAGE_SIZE", gmail.MaxPageSize),
		BatchSize:       getEnvInt("GMAILPURGE_BATCH_SIZE", gmail.MaxBatchSize),
		PreviewLimit:    getEnvInt("GMAILPURGE_PREVIEW", 10),
		PreviewWorkers:  getEnvInt("GMAILPURGE_PREVIEW_WORKERS", 1),
		RPS:             getEnvInt("GMAILPURGE_RPS", 4),
		Duplicates:      getEnvString("GMAILPURGE_DUPLICATES", "dedupe"),
		LogLevel:        getEnvString("GMAILPURGE_LOG_LEVEL", "info"),
	}
	return cfg
}

// InDir returns c with Dir set to dir. File paths that still live directly
// in the old directory move along with it.
func (c Config) InDir(dir string) Config {
	if dir == "" || dir == c.Dir {
		return c
	}
	move := func(p string) string {
		if p != "" && filepath.Dir(p) == filepath.Clean(c.Dir) {
			return filepath.Join(dir, filepath.Base(p))
		}
		return p
	}
	c.CredentialsFile = move(c.CredentialsFile)
	c.TokenFile = move(c.TokenFile)
	c.LogFile = move(c.LogFile)
	c.LogDB = move(c.LogDB)
	c.Dir = dir
	return c
}

// Validate checks the numeric bounds imposed by Gmail and the provider name.
func (c Config) Validate() error {
	var errs []error
	if c.PageSize < 1 || c.PageSize > gmail.MaxPageSize {
		errs = append(errs, fmt.Errorf("page size %d outside 1..%d", c.PageSize, gmail.MaxPageSize))
	}
	if c.BatchSize < 1 || c.BatchSize > gmail.MaxBatchSize {
		errs = append(errs, fmt.Errorf("batch size %d outside 1..%d", c.BatchSize, gmail.MaxBatchSize))
	}
	if c.PreviewLimit < 1 {
		errs = append(errs, fmt.Errorf("preview limit %d must be at least 1", c.PreviewLimit))
	}
	if c.PreviewWorkers < 1 {
		errs = append(errs, fmt.Errorf("preview workers %d must be at least 1", c.PreviewWorkers))
	}
	if c.RPS < 0 {
		errs = append(errs, fmt.Errorf("rps %d must not be negative", c.RPS))
	}
	switch c.Provider {
	case ProviderToken, ProviderGmailctl:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	return errors.Join(errs...)
}

// HasClientEnv reports whether a client id and secret came from the environment.
func (c Config) HasClientEnv() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// RequireCredentials fails when the token provider has nothing to build an
// OAuth client from.
func (c Config) RequireCredentials() error {
	if c.Provider == ProviderGmailctl {
		if _, err := os.Stat(c.GmailctlDir); err != nil {
			return fmt.Errorf("%w: gmailctl directory %s: %w", ErrMissingCredentials, c.GmailctlDir, err)
		}
		return nil
	}
	if c.HasClientEnv() {
		return nil
	}
	if _, err := os.Stat(c.CredentialsFile); err != nil {
		return fmt.Errorf(
			"%w: %s is missing and GMAIL_CLIENT_ID/GMAIL_CLIENT_SECRET are unset",
			ErrMissingCredentials,
			c.CredentialsFile,
		)
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
