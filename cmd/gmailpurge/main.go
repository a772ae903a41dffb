package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joshsymonds/gmailpurge/internal/auditlog"
	"github.com/joshsymonds/gmailpurge/internal/config"
	"github.com/joshsymonds/gmailpurge/internal/enumerate"
	"github.com/joshsymonds/gmailpurge/internal/gmail"
	"github.com/joshsymonds/gmailpurge/internal/pipeline"
	"github.com/joshsymonds/gmailpurge/internal/query"
	"github.com/joshsymonds/gmailpurge/internal/rate"
	"github.com/joshsymonds/gmailpurge/internal/runtime"
)

type purgeConfig struct {
	config.Config
	preset         string
	rawQuery       string
	category       string
	from           string
	olderThan      string
	label          string
	exclude        string
	protectStarred bool
	yes            bool
	dryRun         bool
}

func main() {
	cfg := parsePurgeFlags(loadEnv())
	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		runtime.DefaultLogger().Error("gmailpurge failed", "error", err)
		if errors.Is(err, gmail.ErrAuth) {
			fmt.Fprintln(os.Stderr, "Authorization failed. Run gmailpurge-auth to sign in again.")
		}
		os.Exit(1)
	}
}

// loadEnv reads ./.env and then the .env in the config directory.
func loadEnv() config.Config {
	if err := config.LoadDotenv(".env"); err != nil {
		runtime.DefaultLogger().Warn("ignoring .env", "error", err)
	}
	base := config.Load()
	if err := config.LoadDotenv(filepath.Join(base.Dir, ".env")); err != nil {
		runtime.DefaultLogger().Warn("ignoring .env", "error", err)
	}
	return config.Load()
}

func parsePurgeFlags(base config.Config) purgeConfig {
	cfg := purgeConfig{Config: base}
	dir := flag.String("config-dir", base.Dir, "directory holding credentials.json, token.json and logs")
	flag.StringVar(&cfg.CredentialsFile, "credentials", base.CredentialsFile, "OAuth client credentials file")
	flag.StringVar(&cfg.TokenFile, "token", base.TokenFile, "OAuth token file written by gmailpurge-auth")
	flag.StringVar(&cfg.preset, "preset", "", "preset query: 1 promotions, 2 social, 3 noreply (all older than 1y)")
	flag.StringVar(&cfg.rawQuery, "query", "", "raw Gmail search query")
	flag.StringVar(&cfg.category, "category", "", "Gmail category, e.g. promotions")
	flag.StringVar(&cfg.from, "from", "", "sender expression, e.g. noreply@*")
	flag.StringVar(&cfg.olderThan, "older-than", "", "relative age such as 30d, 6m or 1y")
	flag.StringVar(&cfg.label, "label", "", "limit to this label")
	flag.StringVar(&cfg.exclude, "exclude-labels", "", "comma separated labels to protect")
	flag.BoolVar(&cfg.protectStarred, "protect-starred", true, "never match starred or important mail")
	flag.BoolVar(&cfg.yes, "yes", false, "skip the confirmation prompt")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "enumerate and preview only")
	flag.IntVar(&cfg.PageSize, "page-size", base.PageSize, "Gmail list page size (<=500)")
	flag.IntVar(&cfg.BatchSize, "batch-size", base.BatchSize, "ids per batchModify (<=1000)")
	flag.IntVar(&cfg.PreviewLimit, "preview", base.PreviewLimit, "messages to preview before confirming")
	flag.IntVar(&cfg.PreviewWorkers, "preview-workers", base.PreviewWorkers, "parallel preview lookups")
	flag.IntVar(&cfg.RPS, "rps", base.RPS, "max requests per second, 0 disables")
	flag.StringVar(&cfg.Duplicates, "duplicates", base.Duplicates, "duplicate id policy: dedupe, trust or reject")
	flag.StringVar(&cfg.LogFile, "log-file", base.LogFile, "CSV audit log, empty disables")
	flag.StringVar(&cfg.LogDB, "log-db", base.LogDB, "SQLite audit log, empty disables")
	flag.StringVar(&cfg.Provider, "provider", base.Provider, "credential provider: token or gmailctl")
	flag.StringVar(&cfg.GmailctlDir, "gmailctl-config", base.GmailctlDir, "gmailctl directory for the gmailctl provider")
	flag.StringVar(&cfg.LogLevel, "log-level", base.LogLevel, "debug, info, warn or error")
	flag.Parse()
	cfg.Config = cfg.InDir(*dir)
	return cfg
}

func run(cfg purgeConfig, stdin io.Reader, stdout io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	dup, err := enumerate.ParseDuplicatePolicy(cfg.Duplicates)
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(cfg.LogLevel)
	term := newTerminal(stdin, stdout)

	q, err := resolveQuery(cfg, term)
	if err != nil {
		return fmt.Errorf("select query: %w", err)
	}

	if err := cfg.RequireCredentials(); err != nil {
		return err
	}
	session, err := runtime.NewSession(ctx, cfg.Config, runtime.ScopeModify, logger)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	var limiter rate.Limiter
	if cfg.RPS > 0 {
		bucket := rate.NewTokenBucket(cfg.RPS)
		limiter = bucket
		defer bucket.Stop()
	}

	var sink auditlog.Sink
	if !cfg.dryRun {
		s, closeSinks, err := openSinks(ctx, cfg.Config, logger)
		if err != nil {
			return err
		}
		defer closeSinks()
		sink = s
	}

	opts := pipeline.DefaultOptions()
	opts.PageSize = cfg.PageSize
	opts.BatchCap = cfg.BatchSize
	opts.PreviewLimit = cfg.PreviewLimit
	opts.PreviewWorkers = cfg.PreviewWorkers
	opts.Duplicates = dup
	opts.DryRun = cfg.dryRun

	orch, err := pipeline.New(pipeline.Deps{
		Client:      session.Client,
		Credentials: session.Credentials,
		Sink:        sink,
		Limiter:     limiter,
		Logger:      logger,
		Progress:    progressPrinter(stdout),
	}, opts)
	if err != nil {
		return err
	}

	var confirm pipeline.Confirmer = term
	if cfg.yes {
		confirm = autoConfirm(stdout)
	}
	res, runErr := orch.Run(ctx, q, confirm)
	if cfg.dryRun {
		printPreview(stdout, res.Preview)
	}
	printSummary(stdout, res)
	return runErr
}

// resolveQuery picks, in order, -query, -preset, the filter flags, and
// finally the interactive menu.
func resolveQuery(cfg purgeConfig, term *terminal) (gmail.Query, error) {
	switch {
	case cfg.rawQuery != "":
		return gmail.Query{Raw: cfg.rawQuery}, nil
	case cfg.preset != "":
		p, err := query.LookupPreset(cfg.preset)
		if err != nil {
			return gmail.Query{}, err
		}
		return p.Query, nil
	}
	spec := query.Spec{
		Category:       cfg.category,
		From:           cfg.from,
		OlderThan:      cfg.olderThan,
		Label:          cfg.label,
		ExcludeLabels:  query.SplitList(cfg.exclude),
		ProtectStarred: cfg.protectStarred,
	}
	q, err := query.Build(spec)
	if errors.Is(err, query.ErrEmptyQuery) {
		return term.chooseQuery()
	}
	return q, err
}

// openSinks opens the configured audit logs. At least one is required.
func openSinks(ctx context.Context, cfg config.Config, logger *slog.Logger) (auditlog.Sink, func(), error) {
	var (
		sinks   auditlog.Multi
		closers []func() error
	)
	if cfg.LogFile != "" {
		csvLog, err := auditlog.NewCSVLog(cfg.LogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open csv log: %w", err)
		}
		sinks = append(sinks, csvLog)
	}
	if cfg.LogDB != "" {
		db, err := auditlog.OpenSQLite(ctx, cfg.LogDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite log: %w", err)
		}
		sinks = append(sinks, db)
		closers = append(closers, db.Close)
	}
	if len(sinks) == 0 {
		return nil, nil, errors.New("no audit log configured: set -log-file or -log-db")
	}
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close audit log", "error", err)
			}
		}
	}
	if len(sinks) == 1 {
		return sinks[0], closeAll, nil
	}
	return sinks, closeAll, nil
}
