// internal/runtime/auth.go
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/joshsymonds/gmailpurge/internal/config"
	"github.com/joshsymonds/gmailpurge/internal/gmail"
)

type Scope int

const (
	ScopeModify Scope = iota
	ScopeReadonly
)

func (s Scope) URL() string {
	switch s {
	case ScopeReadonly:
		return gmailv1.GmailReadonlyScope
	case ScopeModify:
		return gmailv1.GmailModifyScope
	default:
		panic("unknown scope")
	}
}

// CredentialsPath is the OAuth client file for the configured provider. The
// gmailctl provider reuses the client registered for gmailctl.
func CredentialsPath(cfg config.Config) string {
	if cfg.Provider == config.ProviderGmailctl {
		return filepath.Join(cfg.GmailctlDir, "credentials.json")
	}
	return cfg.CredentialsFile
}

// LoadOAuthConfig builds the OAuth client from the credentials file, falling
// back to GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET.
func LoadOAuthConfig(cfg config.Config, scope Scope) (*oauth2.Config, error) {
	path := CredentialsPath(cfg)
	b, err := os.ReadFile(path) // #nosec G304 - path from config
	switch {
	case err == nil:
		oc, err := google.ConfigFromJSON(b, scope.URL())
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return oc, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", path, err)
	case cfg.HasClientEnv():
		return &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{scope.URL()},
			RedirectURL:  "http://localhost",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s is missing and GMAIL_CLIENT_ID/GMAIL_CLIENT_SECRET are unset",
			config.ErrMissingCredentials, path)
	}
}

// ReadToken loads a token saved by SaveToken.
func ReadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path) // #nosec G304 - path from config
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &tok, nil
}

// SaveToken writes tok atomically with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// TokenFileSource serves tokens from token.json, refreshing through the OAuth
// client and writing every new access token back to disk.
type TokenFileSource struct {
	path   string
	base   oauth2.TokenSource
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

// NewTokenFileSource reads path. A missing file is an authentication error
// that points the user at the login command.
func NewTokenFileSource(ctx context.Context, oc *oauth2.Config, path string, logger *slog.Logger) (*TokenFileSource, error) {
	tok, err := ReadToken(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no token at %s, run gmailpurge-auth first", gmail.ErrAuth, path)
		}
		return nil, fmt.Errorf("%w: %w", gmail.ErrAuth, err)
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &TokenFileSource{
		path:   path,
		base:   oauth2.ReuseTokenSource(tok, oc.TokenSource(ctx, tok)),
		logger: logger,
		last:   tok.AccessToken,
	}, nil
}

func (s *TokenFileSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn("persist refreshed token", slog.String("path", s.path), slog.String("error", err.Error()))
		} else {
			s.logger.Debug("token refreshed", slog.String("path", s.path))
		}
	}
	return tok, nil
}

// Authenticate makes sure a valid access token is available, refreshing it
// if it has expired.
func (s *TokenFileSource) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, err := s.Token()
	if err != nil {
		return fmt.Errorf("%w: refresh token: %w", gmail.ErrAuth, err)
	}
	if !tok.Valid() {
		return fmt.Errorf("%w: token in %s is not valid", gmail.ErrAuth, s.path)
	}
	return nil
}

// Session is an authenticated Gmail client plus the credentials behind it.
type Session struct {
	Client      *GoogleClient
	Credentials *TokenFileSource
}

// NewSession loads the OAuth client and token for cfg and builds the API client.
func NewSession(ctx context.Context, cfg config.Config, scope Scope, logger *slog.Logger) (*Session, error) {
	oc, err := LoadOAuthConfig(cfg, scope)
	if err != nil {
		return nil, err
	}
	ts, err := NewTokenFileSource(ctx, oc, cfg.TokenFile, logger)
	if err != nil {
		return nil, err
	}
	svc, err := gmailv1.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Session{Client: NewGoogleAPIClient(svc), Credentials: ts}, nil
}

// CheckGmailctl opens the session gmailctl itself uses and returns the
// account address. Its token carries gmailctl's scopes, not ours, so this
// only proves the gmailctl directory is usable.
func CheckGmailctl(ctx context.Context, dir string) (string, error) {
	svc, err := (localcred.Provider{}).Service(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("open gmailctl credentials in %s: %w", dir, err)
	}
	return NewGoogleAPIClient(svc).Profile(ctx)
}

// DefaultLogger writes text logs to stderr at info level.
func DefaultLogger() *slog.Logger {
	return NewLogger("info")
}

// NewLogger writes text logs to stderr at the named level. Unknown names
// mean info.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
