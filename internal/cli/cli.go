// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/luna-tui/internal/ui/chat"
)

// Version information (set at build time via -ldflags)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the luna command tree.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:   "luna",
		Short: "Terminal client for the Luna chat assistant",
		Long: `luna chats with a Luna server from the terminal.

Run without a subcommand to open the full-screen chat. When stdin or stdout
is not a terminal the line chat is used instead, so luna can be scripted:

  echo "what is in the handbook?" | luna`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if IsTTY() && IsStdoutTTY() {
				return runTUI(cmd.Context(), a)
			}
			return runREPL(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
	opts.register(root)

	root.AddCommand(
		newChatCommand(opts),
		newTUICommand(opts),
		newAskCommand(opts),
		newConversationsCommand(opts),
		newHistoryCommand(opts),
		newExportCommand(opts),
		newUploadCommand(opts),
		newSaveCommand(opts),
		newChannelsCommand(opts),
		newConfigCommand(opts),
		newMockServerCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		DisplayError(os.Stderr, err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// =============================================================================
// CHAT COMMANDS
// =============================================================================

func newChatCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Line-mode chat with history and line editing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return runREPL(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

func newTUICommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Full-screen chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return runTUI(cmd.Context(), a)
		},
	}
}

// runTUI connects and shows the full-screen chat. The chat joins the room
// itself on start.
func runTUI(ctx context.Context, a *app) error {
	sink := chat.NewSink()
	c, err := a.connect(ctx, sink)
	if err != nil {
		return err
	}
	defer c.Close()

	m := chat.New(chat.Deps{
		Turns:      c.turns,
		Rooms:      c.rooms,
		Library:    c.api,
		Config:     a.cfg,
		Connected:  c.client.Connected,
		SaveConfig: a.save,
		Logger:     a.log,
	})
	return chat.Run(ctx, m, chat.RunOptions{
		Sink:   sink,
		Events: c.client,
		OnReconnect: func(fn func()) {
			c.rejoinOnReconnect(a.log, fn)
		},
		ConfigPath: a.cfgPath,
	})
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "luna %s\n", Version)
			fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
			fmt.Fprintf(w, "  Build Date: %s\n", BuildDate)
			fmt.Fprintf(w, "  Go Version: %s\n", runtime.Version())
			fmt.Fprintf(w, "  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
