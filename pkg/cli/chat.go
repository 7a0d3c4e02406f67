package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/tool"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const chatHelp = `Commands:
  /rag             toggle answering from the knowledge collection
  /tools           toggle agent mode with tools
  /model [name]    show or switch the model
  /session [id]    show the session, switch to id, or "new" for a fresh one
  /help            show this help
  /exit            quit`

func chatCommand(lc *logConfig) *cli.Command {
	var (
		cfg       config
		modelName string
		sessionID string
		useRAG    bool
		useTools  bool
	)
	tools := newTools()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "Model to chat with",
			Destination: &modelName,
		},
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session ID to continue",
			Destination: &sessionID,
		},
		&cli.BoolFlag{
			Name:        "rag",
			Usage:       "Answer from the knowledge collection",
			Destination: &useRAG,
		},
		&cli.BoolFlag{
			Name:        "tools",
			Usage:       "Let the model call tools",
			Destination: &useTools,
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
		Name:  "chat",
		Usage: "Interactive chat in the terminal",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = lc.context(ctx)

			var res resources
			defer res.Close()

			deps, err := cfg.newChatDeps(ctx, &res, tools)
			if err != nil {
				return err
			}

			assistant, err := deps.service.NewAssistant(modelName, model.SessionID(sessionID))
			if err != nil {
				return err
			}

			r := &repl{
				w:         c.Root().Writer,
				assistant: assistant,
				opts:      chat.RespondOptions{UseRAG: useRAG, UseTools: useTools},
			}
			return r.run(ctx)
		},
	}
}

type repl struct {
	w         io.Writer
	assistant *chat.Assistant
	opts      chat.RespondOptions
}

func (r *repl) run(ctx context.Context) error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".bizartvisor_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return goerr.Wrap(err, "failed to initialize readline")
	}
	defer rl.Close()

	fmt.Fprintf(r.w, "Chat session %s with %s. Type /help for commands.\n", r.assistant.SessionID(), r.assistant.ModelName())
	r.printModes()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(line)
			if err != nil {
				fmt.Fprintf(r.w, "error: %v\n", err)
			}
			if quit {
				break
			}
			continue
		}

		if err := r.respond(ctx, line); err != nil {
			fmt.Fprintf(r.w, "\nerror: %v\n", err)
		}
	}

	fmt.Fprintf(r.w, "\nChat session %s closed\n", r.assistant.SessionID())
	return nil
}

func (r *repl) command(line string) (bool, error) {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.w, chatHelp)
	case "/rag":
		r.opts.UseRAG = !r.opts.UseRAG
		r.printModes()
	case "/tools":
		r.opts.UseTools = !r.opts.UseTools
		r.printModes()
	case "/model":
		if arg != "" {
			if err := r.assistant.SelectModel(arg); err != nil {
				return false, err
			}
		}
		fmt.Fprintf(r.w, "model: %s\n", r.assistant.ModelName())
	case "/session":
		if arg == "new" {
			arg = string(model.NewSessionSentinel)
		}
		if arg != "" {
			r.assistant.AssignSession(model.SessionID(arg))
		}
		fmt.Fprintf(r.w, "session: %s\n", r.assistant.SessionID())
	default:
		return false, goerr.New("unknown command, type /help", goerr.V("command", fields[0]))
	}
	return false, nil
}

func (r *repl) printModes() {
	fmt.Fprintf(r.w, "rag: %v, tools: %v\n", r.opts.UseRAG, r.opts.UseTools)
}

// respond streams one answer. Ctrl-C cancels it without saving the turn.
func (r *repl) respond(ctx context.Context, input string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " thinking..."
	spin.Start()
	defer spin.Stop()

	stream, err := r.assistant.Respond(ctx, input, r.opts)
	if err != nil {
		return err
	}
	defer stream.Close()

	started := false
	for ev := range stream.Events() {
		switch ev.Type {
		case chat.EventProgress:
			spin.Lock()
			spin.Suffix = " " + ev.Text
			spin.Unlock()
			if !spin.Active() {
				spin.Start()
			}
		case chat.EventToken:
			if !started {
				spin.Stop()
				started = true
			}
			fmt.Fprint(r.w, ev.Text)
		}
	}
	spin.Stop()
	fmt.Fprintln(r.w)

	if err := stream.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(r.w, "(cancelled)")
			return nil
		}
		return err
	}
	return nil
}
