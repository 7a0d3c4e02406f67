package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func sessionsCommand(lc *logConfig) *cli.Command {
	var cfg config

	flags := append(historyFlags(&cfg), firestoreFlags(&cfg)...)

	open := func(ctx context.Context, res *resources) (repository.HistoryStore, error) {
		return cfg.newHistory(ctx, res)
	}

	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect stored conversations",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List session IDs, most recent first",
				Flags: flags,
				Action: func(ctx context.Context, c *cli.Command) error {
					ctx = lc.context(ctx)
					var res resources
					defer res.Close()

					store, err := open(ctx, &res)
					if err != nil {
						return err
					}
					ids, err := store.ListSessions(ctx)
					if err != nil {
						return goerr.Wrap(err, "failed to list sessions")
					}
					for _, id := range ids {
						fmt.Fprintln(c.Root().Writer, id)
					}
					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "Print the turns of a session",
				ArgsUsage: "<session-id>",
				Flags:     flags,
				Action: func(ctx context.Context, c *cli.Command) error {
					ctx = lc.context(ctx)
					if c.NArg() != 1 {
						return goerr.Wrap(model.ErrConfiguration, "session ID is required")
					}

					var res resources
					defer res.Close()

					store, err := open(ctx, &res)
					if err != nil {
						return err
					}
					turns, err := store.List(ctx, model.SessionID(c.Args().First()))
					if err != nil {
						return goerr.Wrap(err, "failed to get session")
					}
					if len(turns) == 0 {
						fmt.Fprintf(c.Root().Writer, "No turns found for session %s\n", c.Args().First())
						return nil
					}
					for _, t := range turns {
						fmt.Fprintf(c.Root().Writer, "[%s] %s\n%s\n\n",
							t.CreatedAt.Format("2006-01-02 15:04:05"), t.Role, t.Content)
					}
					return nil
				},
			},
		},
	}
}

func modelsCommand(lc *logConfig) *cli.Command {
	var modelsFile string

	return &cli.Command{
		Name:  "models",
		Usage: "List selectable chat models and text splitters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models",
				Usage:       "YAML file listing selectable chat models",
				Sources:     cli.EnvVars("BIZARTVISOR_MODELS"),
				Destination: &modelsFile,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			entries, defaultName := adapter.DefaultModelEntries(), ""
			if modelsFile != "" {
				var err error
				if entries, defaultName, err = adapter.LoadModelEntries(modelsFile); err != nil {
					return err
				}
			}
			if defaultName == "" && len(entries) > 0 {
				defaultName = entries[0].Name
			}

			w := c.Root().Writer
			fmt.Fprintln(w, "Models:")
			for _, e := range entries {
				mark := " "
				if e.Name == defaultName {
					mark = "*"
				}
				fmt.Fprintf(w, " %s %s\t%s\ttools=%v\n", mark, e.Name, e.Model, e.Tools)
			}
			fmt.Fprintln(w, "Text splitters:")
			for _, k := range model.SplitterKinds() {
				fmt.Fprintf(w, "   %s\n", k)
			}
			return nil
		},
	}
}
