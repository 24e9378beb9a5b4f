// Command server serves resolver records as a GraphQL schema and as a JSON
// dispatch API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"dynamic-graphql/internal/config"
	"dynamic-graphql/internal/serverapp"
)

// Set at build time via -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = "none"
)

var errInvalidConfig = errors.New("configuration validation failed")

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	config.DefineFlags(fs)
	checkOnly := fs.Bool("check-config", false, "Validate configuration and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Printf("dynamic-graphql %s (%s)\n", Version, Commit)
		return nil
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	if *checkOnly {
		fmt.Println("configuration OK")
		return nil
	}
	return serve(cfg)
}

// loadConfig reads flags, env and the config file, then reports every
// validation finding before deciding.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.LoadFlagSet(fs)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	result := cfg.Validate()
	for _, w := range result.Warnings {
		slog.Warn("configuration warning", slog.String("field", w.Field), slog.String("message", w.Message), slog.String("hint", w.Hint))
	}
	for _, e := range result.Errors {
		slog.Error("configuration error", slog.String("field", e.Field), slog.String("message", e.Message), slog.String("hint", e.Hint))
	}
	if result.HasErrors() {
		return nil, errInvalidConfig
	}
	return cfg, nil
}

func serve(cfg *config.Config) error {
	logger, loggerProvider, err := serverapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	app, err := serverapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)

	shutdown := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return app.Shutdown(ctx)
	}

	if err := app.Init(context.Background()); err != nil {
		return err
	}
	serverErrors, err := app.Start()
	if err != nil {
		return errors.Join(err, shutdown())
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	reason, waitErr := app.WaitForStop(stop, serverErrors)
	logger.Info("shutting down server", slog.String("reason", reason))
	if err := errors.Join(waitErr, shutdown()); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
