// Conduit - game protocol proxy
//
// Conduit accepts player connections, gates them by address, speaks the
// handshake, status and login phases of the protocol itself, and hands
// logged-in players to a backend server. An admin REST API, MQTT telemetry
// and an interactive console steer the running proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/proxy"
	"github.com/energizer-project/conduit/internal/util"
)

const (
	AppName    = "Conduit"
	AppVersion = "1.0.0"
	Banner     = `
   ____                _       _ _
  / ___|___  _ __   __| |_   _(_) |_
 | |   / _ \| '_ \ / _' | | | | | __|
 | |__| (_) | | | | (_| | |_| | | |_
  \____\___/|_| |_|\__,_|\__,_|_|\__|  v%s
 Game Protocol Proxy
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	noConsole := flag.Bool("no-console", false, "do not read commands from stdin")
	setup := flag.Bool("setup", false, "run the setup wizard before starting")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults until the config file says otherwise.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting " + AppName)

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if *setup || cfg.Created() {
		log.Info().Msg("launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	srv, err := proxy.New(cfg, proxy.Options{Version: AppVersion, Console: !*noConsole})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create proxy")
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Listen(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bind player listener")
	}

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-done:
		// Shutdown command or a listener failure.
		if err != nil {
			log.Error().Err(err).Msg("critical error, proxy stopped")
		}
		log.Info().Msg(AppName + " stopped")
		return
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("proxy stopped with error")
		} else {
			log.Info().Msg("all tasks stopped gracefully")
		}
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	log.Info().Msg(AppName + " stopped")
}
