package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/m-mizutani/bizartvisor/pkg/crawler"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/knowledge"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// splitterFlags returns flags choosing the chunking strategy
func splitterFlags(name, args *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "splitter",
			Usage:       "Chunking strategy (recursive_character, semantic_chunker, none)",
			Sources:     cli.EnvVars("BIZARTVISOR_SPLITTER"),
			Destination: name,
		},
		&cli.StringFlag{
			Name:        "splitter-args",
			Usage:       `Splitter arguments as JSON, e.g. {"chunk_size": 1000, "chunk_overlap": 100}`,
			Sources:     cli.EnvVars("BIZARTVISOR_SPLITTER_ARGS"),
			Destination: args,
		},
	}
}

func parseSplitterFlags(name, rawArgs string) (model.SplitterConfig, error) {
	var args map[string]any
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return model.SplitterConfig{}, goerr.Wrap(model.ErrConfiguration, "splitter-args must be a JSON object", goerr.V("args", rawArgs))
		}
	}
	return model.ParseSplitter(name, args)
}

func ingestCommand(lc *logConfig) *cli.Command {
	var (
		cfg           config
		contextPrefix string
		splitterName  string
		splitterArgs  string
		fromArchive   bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "context",
			Aliases:     []string{"c"},
			Usage:       "Text prepended to every chunk, e.g. what the document is about",
			Destination: &contextPrefix,
		},
		&cli.BoolFlag{
			Name:        "from-archive",
			Usage:       "Treat arguments as names of files archived in the upload bucket and ingest them again",
			Destination: &fromArchive,
		},
	}
	flags = append(flags, splitterFlags(&splitterName, &splitterArgs)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, firestoreFlags(&cfg)...)
	flags = append(flags, uploadFlags(&cfg)...)

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Add files to the knowledge collection, replacing earlier versions",
		ArgsUsage: "<file> [file...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = lc.context(ctx)
			if c.NArg() == 0 {
				return goerr.Wrap(model.ErrConfiguration, "at least one file is required")
			}

			splitter, err := parseSplitterFlags(splitterName, splitterArgs)
			if err != nil {
				return err
			}

			var res resources
			defer res.Close()

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			uc, err := cfg.newKnowledge(ctx, &res, gemini)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			for _, path := range c.Args().Slice() {
				if fromArchive {
					result, err := uc.ReingestArchived(ctx, knowledge.FileInput{
						Name:          path,
						ContextPrefix: contextPrefix,
						Splitter:      splitter,
					})
					if err != nil {
						return goerr.Wrap(err, "failed to reingest archived file", goerr.V("name", path))
					}
					fmt.Fprintf(w, "%s\t%d chunks stored\t%d replaced\n", result.SourceID, result.Chunks, result.Deleted)
					continue
				}

				data, err := os.ReadFile(path)
				if err != nil {
					return goerr.Wrap(err, "failed to read file", goerr.V("path", path))
				}

				result, err := uc.IngestFile(ctx, knowledge.FileInput{
					Name:          filepath.Base(path),
					Data:          data,
					ContextPrefix: contextPrefix,
					Splitter:      splitter,
				})
				if err != nil {
					return goerr.Wrap(err, "failed to ingest file", goerr.V("path", path))
				}
				fmt.Fprintf(w, "%s\t%d chunks stored\t%d replaced\n", result.SourceID, result.Chunks, result.Deleted)
			}
			return nil
		},
	}
}

func crawlCommand(lc *logConfig) *cli.Command {
	var (
		cfg          config
		depth        int64
		maxLinks     int64
		splitterName string
		splitterArgs string
		dryRun       bool
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "depth",
			Usage:       "Maximum link hops from the start page",
			Value:       2,
			Destination: &depth,
		},
		&cli.IntFlag{
			Name:        "max-links",
			Usage:       "Maximum number of pages to fetch",
			Value:       20,
			Destination: &maxLinks,
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Print crawled pages without storing them",
			Destination: &dryRun,
		},
	}
	flags = append(flags, splitterFlags(&splitterName, &splitterArgs)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, firestoreFlags(&cfg)...)

	return &cli.Command{
		Name:      "crawl",
		Usage:     "Crawl a site and add its pages to the knowledge collection",
		ArgsUsage: "<url>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = lc.context(ctx)
			if c.NArg() != 1 {
				return goerr.Wrap(model.ErrConfiguration, "exactly one start URL is required")
			}

			splitter, err := parseSplitterFlags(splitterName, splitterArgs)
			if err != nil {
				return err
			}

			pages, err := crawler.New().Crawl(ctx, c.Args().First(), int(depth), int(maxLinks))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if dryRun {
				for _, url := range slices.Sorted(maps.Keys(pages)) {
					fmt.Fprintf(w, "%s\t%d bytes\n", url, len(pages[url]))
				}
				return nil
			}

			var res resources
			defer res.Close()

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			uc, err := cfg.newKnowledge(ctx, &res, gemini)
			if err != nil {
				return err
			}

			results, ingestErr := uc.IngestPages(ctx, pages, splitter)
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d chunks stored\t%d replaced\n", r.SourceID, r.Chunks, r.Deleted)
			}
			fmt.Fprintf(w, "%d of %d pages stored\n", len(results), len(pages))
			return ingestErr
		},
	}
}
