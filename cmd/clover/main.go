package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

// exitError carries the process exit code out of a command. Configuration problems exit with 2.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

func serve(envFiles ...string) error {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return exitWith(2, fmt.Errorf("invalid configuration: %w", err))
	}

	logger, sync, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exporter, err := exporters.New(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.TraceExporter,
		Insecure: cfg.OTLPInsecure,
		Timeout:  cfg.OTLPTimeout,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to create trace exporter")
		return err
	}
	provider := tracing.NewProvider(cfg.AppName, exporter)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	// never start with a broken matcher
	matcher, err := loadMatcher(cfg.RuleSetPath, logger)
	if err != nil {
		logger.WithError(err).WithField("path", cfg.RuleSetPath).Error("Failed to load rule set")
		return exitWith(2, err)
	}

	a := newApp(cfg, logger, matcher)
	if err := a.start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		a.stop()
		return err
	}

	logger.WithFields(map[string]any{
		"port":       cfg.Port,
		"link_store": cfg.LinkStore,
		"locker":     cfg.Locker,
		"rule_set":   matcher.RuleSet().Name,
	}).Info("clover is running")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-a.serverErrors:
		logger.WithError(err).Error("HTTP server stopped unexpectedly")
	}

	if err := a.stop(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func loadMatcher(path string, logger ectologger.Logger) (*matching.Matcher, error) {
	rs, err := matching.LoadRuleSet(path)
	if err != nil {
		return nil, err
	}
	return matching.Compile(rs, nil, logger)
}

func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, err
	}
	zapLogger = zapLogger.With(zap.String("app", cfg.AppName), zap.String("version", cfg.Version))
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}
