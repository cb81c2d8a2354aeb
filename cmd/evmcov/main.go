// Package main provides the evmcov command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/stable-net/evmcov/pkg/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	ConfigFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML or JSON configuration file",
	}
	RPCFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "node JSON-RPC endpoint",
	}
	CoverageDBFlag = &cli.StringFlag{
		Name:  "db",
		Usage: "coverage cache directory (in-memory when empty)",
	}
	WorkersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "concurrent trace fetches",
	}
	PaddingFlag = &cli.IntFlag{
		Name:  "padding",
		Usage: "source lines shown around highlighted code",
	}
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "disable colored output",
	}
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level (trace, debug, info, warn, error, crit)",
	}
)

var app = &cli.App{
	Name:    "evmcov",
	Usage:   "coverage, call traces and revert reasons for EVM transactions",
	Version: Version,
	Flags: []cli.Flag{
		ConfigFlag,
		RPCFlag,
		CoverageDBFlag,
		WorkersFlag,
		PaddingFlag,
		NoColorFlag,
		VerbosityFlag,
	},
	Commands: []*cli.Command{
		reportCommand,
		callTraceCommand,
		revertCommand,
		execCommand,
	},
	Before: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		setupLogging(cfg)
		ctx.App.Metadata = map[string]interface{}{"config": cfg}
		return nil
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides on top of it.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := ctx.String(ConfigFlag.Name); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if ctx.IsSet(RPCFlag.Name) {
		cfg.RPCURL = ctx.String(RPCFlag.Name)
	}
	if ctx.IsSet(CoverageDBFlag.Name) {
		cfg.CoverageDB = ctx.String(CoverageDBFlag.Name)
	}
	if ctx.IsSet(WorkersFlag.Name) {
		cfg.Workers = ctx.Int(WorkersFlag.Name)
	}
	if ctx.IsSet(PaddingFlag.Name) {
		cfg.SourcePadding = ctx.Int(PaddingFlag.Name)
	}
	if ctx.IsSet(NoColorFlag.Name) {
		cfg.NoColor = ctx.Bool(NoColorFlag.Name)
	}
	if ctx.IsSet(VerbosityFlag.Name) {
		cfg.LogLevel = ctx.String(VerbosityFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	if cfg.NoColor {
		color.NoColor = true
	}
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(cfg.Verbosity()), !color.NoColor)
	log.SetDefault(log.NewLogger(handler))
}

func configFrom(ctx *cli.Context) *config.Config {
	if cfg, ok := ctx.App.Metadata["config"].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
