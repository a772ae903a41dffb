package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joshsymonds/gmailpurge/internal/config"
	"github.com/joshsymonds/gmailpurge/internal/runtime"
)

type authConfig struct {
	config.Config
	writeEnv string
	check    bool
	readonly bool
}

func main() {
	cfg := parseAuthFlags()
	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		runtime.DefaultLogger().Error("gmailpurge-auth failed", "error", err)
		os.Exit(1)
	}
}

func parseAuthFlags() authConfig {
	if err := config.LoadDotenv(".env"); err != nil {
		runtime.DefaultLogger().Warn("ignoring .env", "error", err)
	}
	base := config.Load()
	cfg := authConfig{Config: base}
	dir := flag.String("config-dir", base.Dir, "directory holding credentials.json and token.json")
	flag.StringVar(&cfg.CredentialsFile, "credentials", base.CredentialsFile, "OAuth client credentials file")
	flag.StringVar(&cfg.TokenFile, "token", base.TokenFile, "where to save the token")
	flag.StringVar(&cfg.Provider, "provider", base.Provider, "credential provider: token or gmailctl")
	flag.StringVar(&cfg.GmailctlDir, "gmailctl-config", base.GmailctlDir, "gmailctl directory")
	flag.StringVar(&cfg.writeEnv, "write-env", "", "write GMAIL_CLIENT_ID/GMAIL_CLIENT_SECRET from the credentials file to this .env and exit")
	flag.BoolVar(&cfg.check, "check", false, "report which credential and log files exist and exit")
	flag.BoolVar(&cfg.readonly, "readonly", false, "request read-only access (enough for -dry-run)")
	flag.Parse()
	cfg.Config = cfg.InDir(*dir)
	return cfg
}

func run(cfg authConfig, stdin io.Reader, stdout io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case cfg.writeEnv != "":
		if err := config.WriteEnvFile(runtime.CredentialsPath(cfg.Config), cfg.writeEnv); err != nil {
			return fmt.Errorf("generate env file: %w", err)
		}
		_, _ = fmt.Fprintf(stdout, ".env file generated at %s\n", cfg.writeEnv)
		return nil
	case cfg.check:
		return check(ctx, cfg.Config, stdout)
	}

	scope := runtime.ScopeModify
	if cfg.readonly {
		scope = runtime.ScopeReadonly
	}
	oc, err := runtime.LoadOAuthConfig(cfg.Config, scope)
	if err != nil {
		return err
	}
	if _, err := runtime.Login(ctx, oc, cfg.TokenFile, stdin, stdout); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func check(ctx context.Context, cfg config.Config, out io.Writer) error {
	_, _ = fmt.Fprintf(out, "Config directory: %s\n", cfg.Dir)
	files := cfg.CheckFiles()
	if cfg.Provider == config.ProviderGmailctl {
		files[0].Path = runtime.CredentialsPath(cfg)
		_, statErr := os.Stat(files[0].Path)
		files[0].Exists = statErr == nil
	}
	for _, f := range files {
		status := "found"
		switch {
		case f.Err != nil:
			status = "error: " + f.Err.Error()
		case !f.Exists && f.Name == "token":
			status = "missing, will be created by login"
		case !f.Exists:
			status = "missing"
		}
		_, _ = fmt.Fprintf(out, "%-12s %s: %s\n", f.Name, filepath.Clean(f.Path), status)
	}
	if cfg.HasClientEnv() {
		_, _ = fmt.Fprintln(out, "GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET are set")
	}
	if cfg.Provider == config.ProviderGmailctl {
		email, err := runtime.CheckGmailctl(ctx, cfg.GmailctlDir)
		if err != nil {
			return fmt.Errorf("gmailctl session: %w", err)
		}
		_, _ = fmt.Fprintf(out, "gmailctl session authorized for %s\n", email)
	}
	return cfg.RequireCredentials()
}
