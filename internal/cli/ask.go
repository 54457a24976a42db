// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/session"
)

// askResult is the structured output of luna ask.
type askResult struct {
	Question       string           `json:"question" yaml:"question"`
	Room           string           `json:"room" yaml:"room"`
	Reply          string           `json:"reply" yaml:"reply"`
	Sources        protocol.Sources `json:"sources,omitempty" yaml:"sources,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
}

func newAskCommand(opts *Options) *cobra.Command {
	var (
		output       string
		conversation string
	)
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask one question and print the reply",
		Long: `Ask one question and print the reply as it streams.

With no arguments, or "-", the question is read from stdin.`,
		Example: `  luna ask "summarize the onboarding handbook"
  luna ask -r research -o json "latest results" | jq .reply`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			question, err := readText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runAsk(ctx, a, cmd.OutOrStdout(), question, conversation, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputText, "output format: text, json or yaml")
	cmd.Flags().StringVar(&conversation, "conversation", "", "continue this conversation id")
	return cmd
}

// runAsk sends one turn. Text output streams through a lineSink; structured
// output waits for the reply.
func runAsk(ctx context.Context, a *app, out io.Writer, question, conversation, output string) error {
	var sink session.Sink = session.NopSink{}
	if output == OutputText {
		applyColorProfile()
		sink = newLineSink(out)
	}

	c, err := a.connect(ctx, sink)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := a.joinRoom(ctx, c); err != nil {
		return err
	}
	sub := trackConversation(c.client, c.turns, a.log)
	defer c.client.Unsubscribe(sub)
	if conversation != "" {
		c.turns.SetConversationID(conversation)
	}

	s, err := c.turns.Submit(ctx, question)
	if err != nil {
		return err
	}
	if err := c.turns.Wait(ctx, s); err != nil {
		return err
	}

	if output == OutputText {
		return nil
	}
	return writeData(out, output, askResult{
		Question:       question,
		Room:           c.turns.Room(),
		Reply:          s.Buffer(),
		Sources:        s.Metadata(),
		ConversationID: c.turns.ConversationID(),
	})
}

