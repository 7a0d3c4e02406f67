package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

// logConfig is filled from root flags and applied by every command
type logConfig struct {
	level  string
	format string
}

func (lc *logConfig) context(ctx context.Context) context.Context {
	logger := logging.New(lc.level, logging.Format(lc.format), os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

func Run(ctx context.Context, argv []string) *Error {
	// variables from .env do not override the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Default().Warn("failed to load .env", "error", err)
	}

	var lc logConfig
	cmd := &cli.Command{
		Name:  "bizartvisor",
		Usage: "Chat assistant answering from your own documents and web pages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("BIZARTVISOR_LOG_LEVEL"),
				Destination: &lc.level,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("BIZARTVISOR_LOG_FORMAT"),
				Destination: &lc.format,
			},
		},
		Commands: []*cli.Command{
			serveCommand(&lc),
			chatCommand(&lc),
			ingestCommand(&lc),
			crawlCommand(&lc),
			sessionsCommand(&lc),
			modelsCommand(&lc),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
