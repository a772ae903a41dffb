package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joshsymonds/gmailpurge/internal/config"
)

func TestCheckReportsFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Dir:             dir,
		Provider:        config.ProviderToken,
		CredentialsFile: filepath.Join(dir, "credentials.json"),
		TokenFile:       filepath.Join(dir, "token.json"),
	}

	var out strings.Builder
	err := check(context.Background(), cfg, &out)
	if !errors.Is(err, config.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if !strings.Contains(out.String(), "credentials.json: missing") ||
		!strings.Contains(out.String(), "will be created by login") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}

	if err := os.WriteFile(cfg.CredentialsFile, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out.Reset()
	if err := check(context.Background(), cfg, &out); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out.String(), "credentials.json: found") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}

func TestRunWritesEnv(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	body := `{"web":{"client_id":"web-id","client_secret":"web-secret"}}`
	if err := os.WriteFile(creds, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	cfg := authConfig{
		Config:   config.Config{Provider: config.ProviderToken, CredentialsFile: creds},
		writeEnv: envPath,
	}

	var out strings.Builder
	if err := run(cfg, strings.NewReader(""), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := os.ReadFile(envPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `GMAIL_CLIENT_ID="web-id"`) {
		t.Fatalf("unexpected env:\n%s", b)
	}
	if !strings.Contains(out.String(), "generated") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
