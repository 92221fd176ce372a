// Package app holds the long-lived services shared by every command: the
// loaded configuration and the root logger.
package app

import (
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/toscrape-books/internal/config"
	"github.com/JakeFAU/toscrape-books/internal/logging"
)

// App is built once per command invocation and closed by a cobra hook.
type App struct {
	config config.Config
	logger *zap.Logger
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the validated configuration.
func (a *App) GetConfig() config.Config {
	return a.config
}

// New builds the App from an already loaded configuration.
func New(cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Debug("application services initialized",
		zap.Int("first_page", cfg.Scrape.FirstPage),
		zap.Int("last_page", cfg.Scrape.LastPage),
		zap.Int("concurrency", cfg.Scrape.Concurrency),
		zap.String("export_path", cfg.Export.Path),
	)
	return &App{config: cfg, logger: logger}, nil
}

// NewWithLogger wraps an existing logger, mainly for tests.
func NewWithLogger(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{config: cfg, logger: logger}
}

// Close flushes the logger.
func (a *App) Close() {
	if err := a.logger.Sync(); err != nil && !isStdSyncErr(err) {
		a.logger.Warn("error syncing logger on shutdown", zap.Error(err))
	}
}

// Syncing a terminal or pipe fails with EINVAL/ENOTTY on most platforms.
func isStdSyncErr(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
