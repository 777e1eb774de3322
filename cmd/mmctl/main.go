package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/term"

	"moneymarket/config"
	"moneymarket/observability/logging"
	"moneymarket/storage"
)

const (
	initCommand    = "init"
	replayCommand  = "replay"
	inspectCommand = "inspect"
	defaultConfig  = "./ledger.toml"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 1
	}

	var err error
	switch args[0] {
	case initCommand:
		err = runInit(args[1:], stdout, stderr)
	case replayCommand:
		err = runReplay(args[1:], stdout, stderr)
	case inspectCommand:
		err = runInspect(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		usage(stdout)
		return 0
	default:
		usage(stderr)
		return 1
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runInit(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(initCommand, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfig, "Path to the ledger config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*configPath); err == nil {
		return fmt.Errorf("config %s already exists", *configPath)
	}
	if _, err := config.Load(*configPath); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote default ledger config to %s\n", *configPath)
	return nil
}

func runReplay(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(replayCommand, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfig, "Path to the ledger config file")
	scriptPath := fs.String("script", "", "Path to the YAML replay script")
	dataDir := fs.String("data", "", "Directory to persist the ledger in (defaults to the config DataDir)")
	ephemeral := fs.Bool("ephemeral", false, "Do not persist the ledger")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*scriptPath) == "" {
		return fmt.Errorf("-script is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogging(cfg, stderr).With(slog.String("run", uuid.NewString()))
	script, err := config.LoadScript(*scriptPath)
	if err != nil {
		return err
	}

	l, err := bootstrapLedger(cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap ledger: %w", err)
	}
	if err := replay(l, script, stdout); err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	for _, name := range accountNames(cfg, script) {
		summary, err := l.summarize(name)
		if err != nil {
			return err
		}
		if err := enc.Encode(summary); err != nil {
			return err
		}
	}

	if *ephemeral {
		return nil
	}
	db, err := openDatabase(*dataDir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := l.save(db); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	logger.Info("ledger persisted",
		slog.String("snapshot", cfg.SnapshotName),
		slog.Uint64("height", l.graph.BlockHeight()),
		slog.Uint64("sequence", l.graph.Sequence()))
	return nil
}

func runInspect(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(inspectCommand, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfig, "Path to the ledger config file")
	dataDir := fs.String("data", "", "Directory holding the persisted ledger (defaults to the config DataDir)")
	account := fs.String("account", "", "Account alias or address to report on; markets are listed when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogging(cfg, stderr)
	db, err := openDatabase(*dataDir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	l, err := restoreLedger(cfg, db, logger)
	if err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	enc := json.NewEncoder(stdout)
	if isTerminal(stdout) {
		enc.SetIndent("", "  ")
	}
	if strings.TrimSpace(*account) == "" {
		for _, summary := range l.marketSummaries() {
			if err := enc.Encode(summary); err != nil {
				return err
			}
		}
		return nil
	}
	summary, err := l.summarize(strings.TrimSpace(*account))
	if err != nil {
		return err
	}
	return enc.Encode(summary)
}

func setupLogging(cfg *config.Ledger, stderr io.Writer) *slog.Logger {
	return logging.SetupWithOptions(logging.Options{
		Service:    "mmctl",
		Env:        cfg.Log.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Output:     stderr,
	})
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func openDatabase(dataDir string, cfg *config.Ledger) (*storage.LevelDB, error) {
	dir := strings.TrimSpace(dataDir)
	if dir == "" {
		dir = strings.TrimSpace(cfg.DataDir)
	}
	if dir == "" {
		dir = config.DefaultDataDir
	}
	db, err := storage.NewLevelDB(filepath.Join(dir, "ledger"))
	if err != nil {
		return nil, fmt.Errorf("open database in %s: %w", dir, err)
	}
	return db, nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "mmctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintf(w, "  %s       Write a default ledger config\n", initCommand)
	fmt.Fprintf(w, "  %s     Bootstrap a ledger from config, run a YAML script and print events\n", replayCommand)
	fmt.Fprintf(w, "  %s    Print market state or an account's values, liquidity and health\n", inspectCommand)
}
