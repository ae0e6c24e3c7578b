// Mailtask ingests mail from IMAP and Gmail accounts into a local
// SQLite database and sends outbound mail with SMTP failover.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	mailtask fetch [flags]        Fetch recent messages into the database
//	mailtask send [flags]         Send a message via the configured SMTP chain
//	mailtask cleanup-codes        Purge expired verification codes
//	mailtask version              Print version and build information
//	mailtask -o json version      Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/mailtask/mailtask/internal/buildinfo"
	"github.com/mailtask/mailtask/internal/config"
	"github.com/mailtask/mailtask/internal/deliver"
	"github.com/mailtask/mailtask/internal/ingest"
	"github.com/mailtask/mailtask/internal/store"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the mailtask command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it aborts
//     in-flight network operations.
//   - stdout and stderr receive all program output. Structured logs go
//     to stderr; results go to stdout.
//   - args is os.Args[1:], parsed manually at the top level so run()
//     can be called concurrently from tests without flag package
//     global state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
			// Everything after the command belongs to the subcommand.
			cmdArgs = append(cmdArgs, args[i+1:]...)
			i = len(args)
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "fetch":
		return runFetch(ctx, stdout, stderr, configPath, cmdArgs)
	case "send":
		return runSend(ctx, stdout, stderr, configPath, cmdArgs)
	case "cleanup-codes":
		return runCleanupCodes(ctx, stdout, stderr, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "mailtask - Mail ingestion and delivery")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: mailtask [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  fetch           Fetch recent messages into the database")
	fmt.Fprintln(w, "  send            Send a message via the configured SMTP chain")
	fmt.Fprintln(w, "  cleanup-codes   Purge expired verification codes")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/mailtask/config.yaml, /etc/mailtask/config.yaml")
	return nil
}

// runFetch handles the "mailtask fetch" subcommand. One invocation
// fetches from a single account (IMAP or Gmail), normalizes the
// messages, and upserts them into the database. Refetching the same
// window is idempotent.
func runFetch(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	account := fs.String("account", "", "account name from config (or 'gmail' for the Gmail account)")
	limit := fs.Int("limit", 0, "max messages to fetch (default from config)")
	days := fs.Int("days", -1, "days back from today, 0 = today only (default from config)")
	folder := fs.String("folder", "", "IMAP mailbox to fetch from (default from config)")
	owner := fs.String("owner", "", "owner recorded on fetched messages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	logger.Info("config loaded", "path", cfgPath)

	opts := ingest.FetchOptions{
		Limit:    cfg.Fetch.Limit,
		DaysBack: cfg.Fetch.DaysBack,
		Folder:   cfg.Fetch.Folder,
		Owner:    *owner,
	}
	if *limit > 0 {
		opts.Limit = *limit
	}
	if *days >= 0 {
		opts.DaysBack = *days
	}
	if *folder != "" {
		opts.Folder = *folder
	}
	if opts.Owner == "" {
		opts.Owner = *account
	}

	db, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	defer db.Close()

	var provider string
	var records []ingest.EmailRecord

	if *account == ingest.GmailProvider {
		provider = ingest.GmailProvider
		fetcher := ingest.NewGmailFetcher(cfg.Gmail.OAuthConfig(), db, logger)
		records, err = fetcher.Fetch(ctx, opts)
		if errors.Is(err, ingest.ErrNeedsAuth) {
			return fmt.Errorf("gmail: no valid stored token, re-authorization required: %w", err)
		}
	} else {
		acct, acctErr := cfg.Account(*account)
		if acctErr != nil {
			return acctErr
		}
		provider = acct.Name
		if opts.Owner == "" {
			opts.Owner = acct.Name
		}
		fetcher := ingest.NewIMAPFetcher(acct.IMAP, logger)
		records, err = fetcher.Fetch(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("fetch from %s: %w", provider, err)
	}

	stored, err := db.UpsertEmails(ctx, provider, records, opts.Owner)
	if err != nil {
		return fmt.Errorf("store messages: %w", err)
	}

	logger.Info("fetch complete", "provider", provider, "fetched", len(records), "stored", stored)
	fmt.Fprintf(stdout, "Fetched %d messages from %s (%d new or updated)\n", len(records), provider, stored)
	return nil
}

// runSend handles the "mailtask send" subcommand. The body is read
// from the -body flag, or from stdin-like file via -body-file.
func runSend(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	to := fs.String("to", "", "comma-separated recipient addresses")
	subject := fs.String("subject", "", "message subject")
	body := fs.String("body", "", "message body")
	bodyFile := fs.String("body-file", "", "read message body from file")
	html := fs.Bool("html", false, "send body as text/html")
	sender := fs.String("sender-name", "", "display name override for the From header")
	attach := fs.String("attach", "", "comma-separated files to attach")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" {
		return fmt.Errorf("usage: mailtask send -to <addr>[,<addr>...] -subject <s> [-body <b> | -body-file <f>]")
	}

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	text := *body
	if *bodyFile != "" {
		data, err := os.ReadFile(*bodyFile)
		if err != nil {
			return fmt.Errorf("read body file: %w", err)
		}
		text = string(data)
	}

	opts := deliver.Options{
		Subject:    *subject,
		Body:       text,
		HTML:       *html,
		SenderName: *sender,
	}
	for _, addr := range strings.Split(*to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			opts.Recipients = append(opts.Recipients, addr)
		}
	}
	if *attach != "" {
		for _, path := range strings.Split(*attach, ",") {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			att, err := deliver.FileAttachment(path)
			if err != nil {
				return fmt.Errorf("attach %s: %w", path, err)
			}
			opts.Attachments = append(opts.Attachments, att)
		}
	}

	engine := deliver.NewEngine(logger)
	result, err := engine.Send(ctx, cfg.SMTP, opts)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	fmt.Fprintf(stdout, "Sent via %s to %d recipient(s)\n", result.Provider, len(opts.Recipients))
	return nil
}

// runCleanupCodes handles the "mailtask cleanup-codes" subcommand,
// intended for cron.
func runCleanupCodes(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	db, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	defer db.Close()

	removed, err := db.CleanupExpiredCodes(ctx)
	if err != nil {
		return fmt.Errorf("cleanup verification codes: %w", err)
	}

	logger.Info("verification code cleanup complete", "removed", removed)
	fmt.Fprintf(stdout, "Removed %d expired verification codes\n", removed)
	return nil
}

// newLogger creates a structured text logger that writes to w at the
// configured level. All log output goes through slog.
func newLogger(w io.Writer, levelName string) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(levelName)
	if err != nil {
		return nil, err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})
	return slog.New(handler), nil
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
