package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/hubflow/internal/config"
	"github.com/vk/hubflow/internal/ctxlog"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	model  *config.Model
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and the loaded
// workflow model.
func NewApp(outW io.Writer, appConfig *Config) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := config.Load(ctx, appConfig.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Workflow definition loaded and translated into unified model.")

	return &App{
		outW:   outW,
		logger: logger,
		model:  model,
	}, nil
}

// Model returns the loaded workflow model. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}
