// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/luna-tui/internal/export"
)

// =============================================================================
// EXPORT
// =============================================================================

func newExportCommand(opts *Options) *cobra.Command {
	var (
		id         string
		format     string
		dir        string
		open       bool
		noMeta     bool
		withSystem bool
	)
	cmd := &cobra.Command{
		Use:   "export [room]",
		Short: "Write a conversation to a Markdown, HTML or JSON file",
		Long: `Write a conversation to a file in the output directory. Without --id
the newest conversation of the room (default: the configured room) is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			room := a.cfg.User.Room
			if len(args) == 1 {
				room = strings.TrimPrefix(args[0], "#")
			}

			if dir == "" {
				dir = a.cfg.UI.ExportDir
			}
			exOpts := &export.Options{
				OutputDir:         dir,
				OpenAfterExport:   open,
				IncludeMetadata:   !noMeta,
				IncludeTimestamps: true,
				IncludeSystem:     withSystem,
				Theme:             a.cfg.UI.Theme,
			}
			exporter, err := export.ForFormat(format, exOpts)
			if err != nil {
				return &UsageError{Msg: err.Error()}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			path, err := exportConversation(ctx, a.apiClient(), a.cfg.User.Name, room, id, exporter, exOpts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s exported to %s\n", SuccessStyle.Render("[OK]"), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "conversation id (default: newest)")
	cmd.Flags().StringVarP(&format, "format", "f", "md", "file format: "+strings.Join(export.Formats, ", "))
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "output directory (default: ui.export_dir, then the current directory)")
	cmd.Flags().BoolVar(&open, "open", false, "open the file when done")
	cmd.Flags().BoolVar(&noMeta, "no-metadata", false, "leave out the header block")
	cmd.Flags().BoolVar(&withSystem, "system", false, "keep join and leave notices")
	return cmd
}

// exportConversation loads a conversation and writes it with exporter.
func exportConversation(ctx context.Context, src export.Source, user, room, id string, exporter export.Exporter, opts *export.Options) (string, error) {
	conv, err := export.Load(ctx, src, user, room, id)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(conv, exporter, opts)
}
