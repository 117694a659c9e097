package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"threadsync/internal/api"
	"threadsync/internal/config"
	chatmodel "threadsync/internal/model/chat"
	"threadsync/internal/push"
	chatservice "threadsync/internal/service/chat"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat client",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			client := api.NewClient(cfg.Client.BaseURL, cfg.Client.Timeout, logger)
			manager := push.NewManager(cfg.Client.PushURL, cfg.Client.Timeout, logger)
			store := chatservice.NewStore()
			registry := chatservice.NewGenerationRegistry()
			controller := chatservice.NewController(store, registry, client, manager, chatservice.Options{
				NotebookID: cfg.Client.NotebookID,
				Mode:       cfg.Client.Mode,
				SubMode:    cfg.Client.SubMode,
			}, logger)
			defer controller.Shutdown()

			if err := controller.Bootstrap(ctx); err != nil {
				return err
			}
			if _, ok := controller.Current(); !ok {
				controller.NewTemporarySession("", cfg.Client.WebSearch)
			}

			repl := &chatREPL{
				controller: controller,
				webSearch:  cfg.Client.WebSearch,
				out:        os.Stdout,
				rendered:   make(map[string]int),
			}
			controller.Subscribe(repl.refresh)
			return repl.run(ctx)
		},
	}
}

// chatREPL is a line-oriented front end over the controller. It only
// consumes the exposed surface: session list, current session, the typing
// predicate and the five operations. refresh runs on whichever goroutine
// mutated the store, including the push read loop, so the render state is
// mutex-guarded.
type chatREPL struct {
	controller *chatservice.Controller
	webSearch  bool
	out        io.Writer

	mu       sync.Mutex
	rendered map[string]int // message count already printed, per session
}

func (r *chatREPL) run(ctx context.Context) error {
	fmt.Fprintln(r.out, "commands: /new /list /switch N /delete N /delmsg ID /quit")
	r.printSessions()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			r.controller.NewTemporarySession("", r.webSearch)
		case line == "/list":
			r.printSessions()
		case strings.HasPrefix(line, "/switch "):
			r.bySessionIndex(ctx, strings.TrimPrefix(line, "/switch "), r.controller.SwitchTo)
		case strings.HasPrefix(line, "/delete "):
			r.bySessionIndex(ctx, strings.TrimPrefix(line, "/delete "), r.controller.DeleteSession)
		case strings.HasPrefix(line, "/delmsg "):
			r.deleteMessage(ctx, strings.TrimPrefix(line, "/delmsg "))
		default:
			if err := r.controller.Send(ctx, chatservice.SendInput{Text: line}); err != nil {
				fmt.Fprintln(r.out, "send failed:", err)
			}
		}
	}
}

// refresh runs on every store mutation and prints messages not yet shown
// for the current session.
func (r *chatREPL) refresh() {
	current, ok := r.controller.Current()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	shown := r.rendered[current.ID]
	if shown > len(current.Messages) {
		shown = 0 // transcript was replaced with something shorter
	}
	for _, message := range current.Messages[shown:] {
		r.printMessage(message)
	}
	r.rendered[current.ID] = len(current.Messages)

	if r.controller.IsTyping(current.ThreadID) {
		fmt.Fprintln(r.out, "  [assistant is typing]")
	}
}

func (r *chatREPL) printMessage(message chatmodel.Message) {
	marker := ""
	if message.Pending() {
		marker = " (sending)"
	}
	body := message.Content
	if body == "" && message.AudioURL != "" {
		body = "[audio] " + message.AudioURL
	}
	fmt.Fprintf(r.out, "  %s%s: %s\n", message.Role, marker, body)
}

func (r *chatREPL) printSessions() {
	sessions := r.controller.Sessions()
	current, _ := r.controller.Current()
	for i, session := range sessions {
		cursor := " "
		if session.ID == current.ID {
			cursor = "*"
		}
		title := session.Title
		if title == "" {
			title = "(unsaved)"
		}
		typing := ""
		if r.controller.IsTyping(session.ThreadID) {
			typing = " [typing]"
		}
		fmt.Fprintf(r.out, "%s %d. %s%s\n", cursor, i+1, title, typing)
	}
}

func (r *chatREPL) bySessionIndex(ctx context.Context, raw string, op func(context.Context, string) error) {
	index, err := strconv.Atoi(strings.TrimSpace(raw))
	sessions := r.controller.Sessions()
	if err != nil || index < 1 || index > len(sessions) {
		fmt.Fprintln(r.out, "no such session")
		return
	}
	if err := op(ctx, sessions[index-1].ID); err != nil {
		fmt.Fprintln(r.out, "failed:", err)
	}
}

func (r *chatREPL) deleteMessage(ctx context.Context, raw string) {
	current, ok := r.controller.Current()
	if !ok || current.Temporary() {
		fmt.Fprintln(r.out, "no persisted session selected")
		return
	}
	if err := r.controller.DeleteMessage(ctx, current.ThreadID, strings.TrimSpace(raw)); err != nil {
		fmt.Fprintln(r.out, "failed:", err)
	}
	r.mu.Lock()
	r.rendered[current.ID] = 0
	r.mu.Unlock()
}
