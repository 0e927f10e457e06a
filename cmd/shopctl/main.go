package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pipacs/shop/config"
)

const usage = `usage: shopctl [flags] <command> [args]

commands:
  count <product>...          print entitlement counts
  has <product>...            exit 0 only if every product is owned
  consume <product>           use up one consumable
  grant-all                   grant one of every configured product locally
  revoke-all                  drop every configured entitlement locally
  verify-receipt <product>... check the local receipt backs each product
  dump-receipt                print the verified receipt as JSON
  forge-receipt               write a signed development receipt and root
  sandbox                     run purchases against the in-memory store front
`

type env struct {
	cfg    config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

func run(args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet("shopctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML config file")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before SHOP_* overrides")
	dataDir := fs.String("datadir", "", "data directory (bolt backend)")
	backend := fs.String("backend", "", "entitlement backend: bolt|redis|memory")
	logLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	logFormat := fs.String("log-format", "", "log format: text|json")
	receiptPath := fs.String("receipt", "", "receipt file")
	rootPath := fs.String("root-cert", "", "trusted root certificate (DER or PEM)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		_, _ = fmt.Fprintf(stderr, "env file: %v\n", err)
		return 2
	}
	cfg, err := config.Load(*configPath, getenv)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.DataDir, *dataDir)
	override(&cfg.Backend, strings.ToLower(*backend))
	override(&cfg.LogLevel, strings.ToLower(*logLevel))
	override(&cfg.LogFormat, strings.ToLower(*logFormat))
	override(&cfg.ReceiptPath, *receiptPath)
	override(&cfg.RootCertPath, *rootPath)
	if err := config.ValidateConfig(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	logger, err := config.NewLogger(cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logger: %v\n", err)
		return 2
	}

	e := &env{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "count":
		return e.count(rest)
	case "has":
		return e.has(rest)
	case "consume":
		return e.consume(rest)
	case "grant-all":
		return e.grantAll(rest)
	case "revoke-all":
		return e.revokeAll(rest)
	case "verify-receipt":
		return e.verifyReceipt(rest)
	case "dump-receipt":
		return e.dumpReceipt(rest)
	case "forge-receipt":
		return e.forgeReceipt(rest)
	case "sandbox":
		return e.sandbox(rest)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
}

func (e *env) fail(code int, format string, args ...any) int {
	_, _ = fmt.Fprintf(e.stderr, format+"\n", args...)
	return code
}
