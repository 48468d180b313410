package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tecctl/internal/config"
	"tecctl/internal/logging"
	"tecctl/internal/shutdown"
	"tecctl/internal/web"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("tecctl", flag.ContinueOnError)
	configPath := fs.String("config", "./tecctl.yaml", "Path to YAML or TOML config")
	logLevel := fs.String("log-level", "", "Log level (overrides config; TECCTL_LOG_LEVEL overrides both)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return 2
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logs := web.NewLogBuffer(2000)
	logger, err := logging.Init("tecctl", cfg.Log.Level, logs)
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to info level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root, cancel := context.WithCancel(ctx)
	defer cancel()

	latch := shutdown.New(cancel, logger.With().Str("component", "shutdown").Logger())
	rt, err := newRuntime(cfg, logger, latch)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return 1
	}
	defer rt.close()

	// Outputs go off as soon as any controller faults, before the loops unwind.
	latch.OnShutdown(rt.stopActuators)
	latch.OnShutdown(func() {
		reason, _ := latch.Reason()
		rt.status.MarkShutdown(reason)
	})

	rt.start(root)

	webDone := make(chan struct{})
	if cfg.Web.Enable {
		go func() {
			defer close(webDone)
			err := web.Serve(root, cfg.Web.Listen, web.Options{
				Status:  rt.status,
				Logs:    logs,
				Stream:  rt.stream,
				Metrics: rt.metrics.Handler(),
				Log:     logger.With().Str("component", "web").Logger(),
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("listen", cfg.Web.Listen).Msg("web server stopped")
			}
		}()
		logger.Info().Str("listen", cfg.Web.Listen).Msg("web server starting")
	} else {
		close(webDone)
	}

	logger.Info().Int("tecs", len(rt.instances)).Str("config", *configPath).Msg("tecctl starting")
	fault := rt.run(root)
	cancel()
	rt.close()
	<-webDone

	if reason, fired := latch.Reason(); fired {
		logger.Error().Str("reason", reason).Msg("tecctl stopped after shutdown")
		return 1
	}
	if fault != nil {
		logger.Error().Err(fault).Msg("tecctl stopped")
		return 1
	}
	logger.Info().Msg("tecctl stopping")
	return 0
}
