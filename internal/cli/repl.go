// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

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

	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/config"
	"github.com/jeranaias/luna-tui/internal/export"
	"github.com/jeranaias/luna-tui/internal/session"
	"github.com/jeranaias/luna-tui/internal/ui/chat"
	"github.com/jeranaias/luna-tui/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one edited line. *liner.State implements it.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// lineEditor wraps liner with a persisted history file.
type lineEditor struct {
	*liner.State
	historyFile string
}

func newLineEditor() *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &lineEditor{State: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(e.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return e
}

// Close saves history (owner read/write only) and restores the terminal.
func (e *lineEditor) Close() {
	_ = util.AtomicWriteFunc(e.historyFile, 0o600, func(w io.Writer) error {
		_, err := e.WriteHistory(w)
		return err
	})
	e.State.Close()
}

// =============================================================================
// REPL
// =============================================================================

// repl is the line-mode chat loop.
type repl struct {
	in    lineReader
	out   io.Writer
	turns chat.Turns
	rooms chat.Rooms
	lib   chat.Library
	log   logrus.FieldLogger

	// wait blocks until a submitted turn is finished.
	wait func(ctx context.Context, s *session.MessageSession) error

	// interrupts delivers Ctrl+C while a turn is streaming.
	interrupts <-chan os.Signal

	// exportDir is where /export writes files.
	exportDir string

	last string
}

// replHelp lists the commands the REPL understands.
var replHelp = []chat.Command{
	{Name: "/help", Summary: "show commands"},
	{Name: "/join", Args: "<channel>", Summary: "switch channel"},
	{Name: "/channels", Summary: "list channels"},
	{Name: "/history", Summary: "print the current conversation"},
	{Name: "/new", Summary: "start a new conversation"},
	{Name: "/upload", Args: "<file>...", Summary: "upload documents"},
	{Name: "/save", Summary: "save the last response"},
	{Name: "/export", Args: "[format]", Summary: "write the conversation to md, html or json"},
	{Name: "/search", Args: "[on|off]", Summary: "toggle internet search"},
	{Name: "/quit", Summary: "exit"},
}

// run reads lines until EOF, Ctrl+C at the prompt, or /quit.
func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "%s %s\n",
		assistantStyle.Render("luna"),
		DimStyle.Render(fmt.Sprintf("#%s as %s. /help for commands, Ctrl+D to exit.", r.turns.Room(), r.turns.Sender())))

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := r.in.Prompt(promptStyle.Render("#"+r.turns.Room()+"> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.in.AppendHistory(line)

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				DisplayError(r.out, err)
			}
			if quit {
				return nil
			}
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		if err := r.ask(ctx, line); err != nil && !errors.Is(err, session.ErrCancelled) {
			r.log.WithField("event", "REPL_TURN_FAILED").WithError(err).Debug("turn failed")
		}
	}
}

// ask submits one turn and waits for it, cancelling on Ctrl+C.
func (r *repl) ask(ctx context.Context, text string) error {
	s, err := r.turns.Submit(ctx, text)
	if err != nil {
		if s == nil {
			DisplayError(r.out, err)
		}
		return err
	}
	if s == nil {
		return nil
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.interrupts:
			if r.turns.Cancel() == nil {
				fmt.Fprintln(r.out, WarningStyle.Render("[stopped]"))
			}
		case <-waitCtx.Done():
		}
	}()

	err = r.wait(ctx, s)
	if err == nil {
		r.last = s.Buffer()
	}
	return err
}

// command runs a slash command. It reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		for _, c := range replHelp {
			fmt.Fprintf(r.out, "  %s %s\n", LabelStyle.Render(strings.TrimSpace(c.Name+" "+c.Args)), DimStyle.Render(c.Summary))
		}

	case "/join":
		if len(args) == 0 {
			return false, usageErrorf("usage: /join <channel>")
		}
		target := strings.TrimPrefix(args[0], "#")
		prev := r.turns.Room()
		if _, err := r.rooms.Join(ctx, target); err != nil {
			return false, err
		}
		if target != prev {
			r.turns.SetConversationID("")
		}
		r.turns.SetRoom(target)
		fmt.Fprintln(r.out, SuccessStyle.Render("joined #"+target))

	case "/channels":
		channels, err := r.rooms.Channels(ctx)
		if err != nil {
			return false, err
		}
		return false, writeChannels(r.out, OutputText, channels, r.turns.Room())

	case "/history":
		id := r.turns.ConversationID()
		if id == "" {
			latest, err := latestConversation(ctx, r.lib, r.turns.Sender(), r.turns.Room())
			if err != nil {
				return false, err
			}
			if latest == "" {
				fmt.Fprintln(r.out, DimStyle.Render("(no conversation yet)"))
				return false, nil
			}
			id = latest
			r.turns.SetConversationID(id)
		}
		msgs, err := r.lib.History(ctx, r.turns.Sender(), r.turns.Room(), id)
		if err != nil {
			return false, err
		}
		return false, writeHistory(r.out, OutputText, msgs, r.turns.Sender(), TerminalWidth(), false)

	case "/new":
		r.turns.SetConversationID("")
		fmt.Fprintln(r.out, DimStyle.Render("new conversation"))

	case "/upload":
		if len(args) == 0 {
			return false, usageErrorf("usage: /upload <file>...")
		}
		msg, err := r.lib.Upload(ctx, args...)
		if err != nil {
			return false, fmt.Errorf("upload failed: %w", err)
		}
		fmt.Fprintln(r.out, SuccessStyle.Render(msg))

	case "/save":
		if r.last == "" {
			return false, errors.New("nothing to save")
		}
		if err := r.lib.SaveResponse(ctx, r.turns.Sender(), r.turns.Room(), r.last); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("response saved"))

	case "/export":
		format := "md"
		if len(args) > 0 {
			format = args[0]
		}
		opts := export.DefaultOptions()
		opts.OutputDir = r.exportDir
		exporter, err := export.ForFormat(format, opts)
		if err != nil {
			return false, usageErrorf("%v", err)
		}
		path, err := exportConversation(ctx, r.lib, r.turns.Sender(), r.turns.Room(), r.turns.ConversationID(), exporter, opts)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("exported to "+path))

	case "/search":
		on := !r.turns.InternetSearch()
		if len(args) > 0 {
			switch strings.ToLower(args[0]) {
			case "on", "true", "yes":
				on = true
			case "off", "false", "no":
				on = false
			default:
				return false, usageErrorf("usage: /search [on|off]")
			}
		}
		r.turns.SetInternetSearch(on)
		state := "off"
		if on {
			state = "on"
		}
		fmt.Fprintln(r.out, DimStyle.Render("internet search "+state))

	default:
		return false, usageErrorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

// =============================================================================
// ENTRY POINT
// =============================================================================

// runREPL connects and runs the line chat on stdin/stdout.
func runREPL(ctx context.Context, a *app, out io.Writer) error {
	applyColorProfile()

	sink := newLineSink(out)
	c, err := a.connect(ctx, sink)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := a.joinRoom(ctx, c); err != nil {
		return err
	}
	c.rejoinOnReconnect(a.log, nil)

	sub := trackConversation(c.client, c.turns, a.log)
	defer c.client.Unsubscribe(sub)

	editor := newLineEditor()
	defer editor.Close()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	r := &repl{
		in:         editor,
		out:        out,
		turns:      c.turns,
		rooms:      c.rooms,
		lib:        c.api,
		log:        a.log,
		wait:       c.turns.Wait,
		interrupts: interrupts,
		exportDir:  a.cfg.UI.ExportDir,
	}
	return r.run(ctx)
}
