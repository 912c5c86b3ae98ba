package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ALEYI17/InfraSight_infer/internal/bench"
	"github.com/ALEYI17/InfraSight_infer/internal/config"
	"github.com/ALEYI17/InfraSight_infer/pkg/logutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	logutil.InitLogger(logutil.Options{Level: logLevel(cfg), Format: logFormat(cfg)})
	logger := logutil.GetLogger()
	defer logger.Sync()
	if err != nil {
		logger.Fatal("Error loading configuration", zap.Error(err))
	}

	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("Configuration loaded", zap.Stringer("config", cfg))
	groups, _ := cfg.ShapeGroups()
	logger.Info(groups.String())

	runner, err := bench.NewRunner(cfg, nil)
	if err != nil {
		logger.Fatal("Error creating the runner", zap.Error(err))
	}
	defer runner.Close()

	res, err := runner.Run(ctx)
	if err != nil {
		logger.Error("Error running benchmark", zap.Error(err))
		return
	}

	logger.Info("Generating report...")
	res.Report.Print(logger)

	if cfg.TracePath != "" {
		paths, err := bench.Dump(cfg.TracePath, res)
		if err != nil {
			logger.Error("Error writing trace", zap.Error(err))
			return
		}
		logger.Info("Trace written", zap.Strings("files", paths))
	}
	logger.Info("Benchmark finished", zap.String("run_id", res.RunID))
}

func logLevel(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.LogLevel
}

func logFormat(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.LogFormat
}
