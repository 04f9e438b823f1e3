// Command bundler is the operator shell around the ERC-4337 executor
// manager: it loads configuration and dials an EVM RPC endpoint, then exits
// with an error, because it constructs no executor.Deps and never calls
// executor.New. It does not implement JSON-RPC ingress, compression,
// mempool storage, or any other collaborator the executor manager depends
// on only through its Go interfaces.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	_ "go.uber.org/automaxprocs"

	"github.com/10Planet-L1/alto-bundler/executor"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML configuration file",
	}
	rpcURLFlag = &cli.StringFlag{
		Name:  "rpc-url",
		Usage: "EVM JSON-RPC endpoint to dial",
		Value: "http://127.0.0.1:8545",
	}
	entryPointsFlag = &cli.StringSliceFlag{
		Name:  "entry-points",
		Usage: "entry point contract addresses to bundle for (overrides config)",
	}
	bundleModeFlag = &cli.StringFlag{
		Name:  "bundle-mode",
		Usage: "auto or manual",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "rotate structured logs into this file instead of stderr",
	}
)

// fileConfig is the TOML-decodable shape; executor.Config itself uses
// common.Address/time.Duration types naoina/toml cannot decode directly,
// so fields are staged here the way cmd/geth stages its config.toml
// before translating into the internal node config.
type fileConfig struct {
	EntryPoints            []string
	PollingIntervalMS      int64
	BundleMode             string
	BundlerFrequencyMS     int64
	MaxGasLimitPerBundle   uint64
	AA95ResubmitMultiplier uint64
	RPCMaxBlockRange       *uint64
	StuckTimeoutSeconds    int64
	MaxPotentiallyIncluded int
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	f, err := os.Open(path)
	if err != nil {
		return fc, err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return fc, fmt.Errorf("decode config: %w", err)
	}
	return fc, nil
}

func buildConfig(c *cli.Context) (executor.Config, error) {
	cfg := executor.DefaultConfig

	if path := c.String(configFlag.Name); path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return cfg, err
		}
		for _, ep := range fc.EntryPoints {
			cfg.EntryPoints = append(cfg.EntryPoints, common.HexToAddress(ep))
		}
		if fc.PollingIntervalMS > 0 {
			cfg.PollingInterval = time.Duration(fc.PollingIntervalMS) * time.Millisecond
		}
		if fc.BundleMode == "manual" {
			cfg.BundleMode = executor.ModeManual
		}
		if fc.BundlerFrequencyMS > 0 {
			cfg.BundlerFrequency = time.Duration(fc.BundlerFrequencyMS) * time.Millisecond
		}
		if fc.MaxGasLimitPerBundle > 0 {
			cfg.MaxGasLimitPerBundle = fc.MaxGasLimitPerBundle
		}
		if fc.AA95ResubmitMultiplier > 0 {
			cfg.AA95ResubmitMultiplier = fc.AA95ResubmitMultiplier
		}
		cfg.RPCMaxBlockRange = fc.RPCMaxBlockRange
		if fc.StuckTimeoutSeconds > 0 {
			cfg.StuckTimeout = time.Duration(fc.StuckTimeoutSeconds) * time.Second
		}
		if fc.MaxPotentiallyIncluded > 0 {
			cfg.MaxPotentiallyIncluded = fc.MaxPotentiallyIncluded
		}
	}

	if eps := c.StringSlice(entryPointsFlag.Name); len(eps) > 0 {
		cfg.EntryPoints = nil
		for _, ep := range eps {
			cfg.EntryPoints = append(cfg.EntryPoints, common.HexToAddress(ep))
		}
	}
	if mode := c.String(bundleModeFlag.Name); mode == "manual" {
		cfg.BundleMode = executor.ModeManual
	} else if mode == "auto" {
		cfg.BundleMode = executor.ModeAuto
	}

	if len(cfg.EntryPoints) == 0 {
		return cfg, fmt.Errorf("no entry points configured")
	}
	return cfg, nil
}

func setupLogger(c *cli.Context) log.Logger {
	logger := log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true))
	if path := c.String(logFileFlag.Name); path != "" {
		sink := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		logger = log.NewLogger(log.JSONHandler(sink))
	}
	log.SetDefault(logger)
	return logger
}

func run(c *cli.Context) error {
	logger := setupLogger(c)

	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	logger.Info("starting bundler executor", "config", cfg.String())

	client, err := ethclient.DialContext(c.Context, c.String(rpcURLFlag.Name))
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	// The mempool, executor, gas oracle, reputation manager, monitor,
	// event manager, and EVM client adapter are all supplied by the
	// embedder through executor.Deps; none of them are constructed by
	// this binary. A real deployment links its own package here that
	// builds concrete Deps from client and calls executor.New.
	_ = client
	return fmt.Errorf("no collaborators wired: link an embedder package that builds executor.Deps and calls executor.New")
}

func main() {
	app := &cli.App{
		Name:  "bundler",
		Usage: "ERC-4337 bundler executor manager",
		Flags: []cli.Flag{configFlag, rpcURLFlag, entryPointsFlag, bundleModeFlag, logFileFlag},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			c.Context = ctx
			return run(c)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("bundler exited with error", "err", err)
		os.Exit(1)
	}
}
