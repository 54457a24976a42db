// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/luna-tui/internal/session"
)

// requestTimeout bounds one-shot REST and room commands.
const requestTimeout = 30 * time.Second

// =============================================================================
// CONVERSATIONS / HISTORY
// =============================================================================

func newConversationsCommand(opts *Options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs"},
		Short:   "List your conversations per room",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			applyColorProfile()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			convs, err := a.apiClient().Conversations(ctx, a.cfg.User.Name)
			if err != nil {
				return err
			}
			return writeConversations(cmd.OutOrStdout(), output, convs)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputText, "output format: text, json or yaml")
	return cmd
}

func newHistoryCommand(opts *Options) *cobra.Command {
	var (
		output     string
		id         string
		noMarkdown bool
	)
	cmd := &cobra.Command{
		Use:   "history [room]",
		Short: "Print a conversation",
		Long: `Print a conversation. Without --id the newest conversation of the
room (default: the configured room) is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			applyColorProfile()

			room := a.cfg.User.Room
			if len(args) == 1 {
				room = strings.TrimPrefix(args[0], "#")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			lib := a.apiClient()
			if id == "" {
				id, err = latestConversation(ctx, lib, a.cfg.User.Name, room)
				if err != nil {
					return err
				}
				if id == "" {
					return fmt.Errorf("no conversations in #%s", room)
				}
			}
			msgs, err := lib.History(ctx, a.cfg.User.Name, room, id)
			if err != nil {
				return err
			}
			markdown := !noMarkdown && ColorsEnabled()
			return writeHistory(cmd.OutOrStdout(), output, msgs, a.cfg.User.Name, TerminalWidth(), markdown)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputText, "output format: text, json or yaml")
	cmd.Flags().StringVar(&id, "id", "", "conversation id (default: newest)")
	cmd.Flags().BoolVar(&noMarkdown, "no-markdown", false, "print replies without rendering Markdown")
	return cmd
}

// =============================================================================
// UPLOAD / SAVE
// =============================================================================

func newUploadCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload documents for the assistant to search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			applyColorProfile()

			msg, err := a.apiClient().Upload(cmd.Context(), args...)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("[OK]")+" "+msg)
			return nil
		},
	}
}

func newSaveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "save [text...]",
		Short: "Save a response to the current room",
		Long:  `Save a response to the current room. With no arguments, or "-", the text is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			applyColorProfile()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := a.apiClient().SaveResponse(ctx, a.cfg.User.Name, a.cfg.User.Room, text); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("[OK]")+" response saved to #"+a.cfg.User.Room)
			return nil
		},
	}
}

// readText joins args, or reads in when there are none or "-".
func readText(args []string, in io.Reader) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", err
		}
		args = []string{string(data)}
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", usageErrorf("no text given")
	}
	return text, nil
}

// =============================================================================
// CHANNELS
// =============================================================================

func newChannelsCommand(opts *Options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			return withRooms(cmd, opts, func(ctx context.Context, a *app, c *conn) error {
				channels, err := c.rooms.Channels(ctx)
				if err != nil {
					return err
				}
				return writeChannels(cmd.OutOrStdout(), output, channels, a.cfg.User.Room)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputText, "output format: text, json or yaml")

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRooms(cmd, opts, func(ctx context.Context, a *app, c *conn) error {
				name, channels, err := c.rooms.Create(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("[OK]")+" created #"+name)
				return writeChannels(cmd.OutOrStdout(), OutputText, channels, a.cfg.User.Room)
			})
		},
	})
	return cmd
}

// withRooms connects for a single room request.
func withRooms(cmd *cobra.Command, opts *Options, fn func(ctx context.Context, a *app, c *conn) error) error {
	a, err := loadApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	applyColorProfile()

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	c, err := a.connect(ctx, session.NopSink{})
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, a, c)
}
