package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/bizartvisor/pkg/server"
	"github.com/m-mizutani/bizartvisor/pkg/tool"
	"github.com/urfave/cli/v3"
)

func serveCommand(lc *logConfig) *cli.Command {
	var (
		cfg           config
		addr          string
		allowedOrigin string
	)
	tools := newTools()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       "127.0.0.1:5000",
			Sources:     cli.EnvVars("BIZARTVISOR_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "allowed-origin",
			Usage:       "CORS allowed origin for the web frontend (empty disables CORS)",
			Value:       "*",
			Sources:     cli.EnvVars("BIZARTVISOR_ALLOWED_ORIGIN"),
			Destination: &allowedOrigin,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, historyFlags(&cfg)...)
	flags = append(flags, firestoreFlags(&cfg)...)
	flags = append(flags, uploadFlags(&cfg)...)
	flags = append(flags, mcpFlags(&cfg)...)
	flags = append(flags, tool.New(tools...).Flags()...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API for the web frontend",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = lc.context(ctx)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var res resources
			defer res.Close()

			deps, err := cfg.newChatDeps(ctx, &res, tools)
			if err != nil {
				return err
			}

			srv := server.New(deps.service,
				server.WithIngester(deps.knowledge),
				server.WithCrawler(deps.crawler),
				server.WithAllowedOrigin(allowedOrigin),
			)
			return srv.Serve(ctx, addr)
		},
	}
}
