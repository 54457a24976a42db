// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/config"
	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/stream"
	"github.com/jeranaias/luna-tui/internal/ui/components"
)

// Events is the part of the transport the screen listens to directly.
type Events interface {
	Subscribe(event string, h stream.Handler) (stream.Subscription, error)
	Unsubscribe(sub stream.Subscription)
}

// RunOptions wires a model to its program.
type RunOptions struct {
	// Sink must be the sink the coordinator was built with.
	Sink *Sink

	// Events delivers room broadcasts and conversation ids (optional).
	Events Events

	// OnReconnect registers a hook run after every reconnect (optional).
	OnReconnect func(func())

	// ConfigPath is watched for changes (optional).
	ConfigPath string

	// ProgramOptions are passed to tea.NewProgram.
	ProgramOptions []tea.ProgramOption
}

// Run shows the chat screen until the user quits or ctx is done.
func Run(ctx context.Context, m *Model, opts RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	popts := append([]tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	}, opts.ProgramOptions...)
	p := tea.NewProgram(m, popts...)

	if opts.Sink != nil {
		opts.Sink.Attach(p)
		defer opts.Sink.Attach(nil)
	}

	if opts.Events != nil {
		subs := subscribe(opts.Events, p, m.log)
		defer func() {
			for _, sub := range subs {
				opts.Events.Unsubscribe(sub)
			}
		}()
	}

	if opts.OnReconnect != nil {
		opts.OnReconnect(func() {
			p.Send(ConnectionMsg{State: components.Connected})
			p.Send(noticeMsg{Text: "reconnected"})
		})
	}

	if opts.ConfigPath != "" {
		err := config.Watch(ctx, opts.ConfigPath, m.log, func(cfg *config.Config) {
			p.Send(ConfigChangedMsg{Config: cfg})
		})
		if err != nil {
			m.log.WithField("event", "CONFIG_WATCH_FAILED").WithError(err).Warn("config changes will not be applied live")
		}
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// subscribe forwards room broadcasts and new conversation ids.
func subscribe(events Events, p Sender, log logrus.FieldLogger) []stream.Subscription {
	var subs []stream.Subscription

	sub, err := events.Subscribe(protocol.EventMessage, func(payload json.RawMessage) {
		var rm protocol.RoomMessage
		if err := json.Unmarshal(payload, &rm); err != nil {
			log.WithField("event", "BAD_ROOM_MESSAGE").WithError(err).Debug("dropping room message")
			return
		}
		p.Send(RoomMessageMsg{Message: rm})
	})
	if err == nil {
		subs = append(subs, sub)
	}

	sub, err = events.Subscribe(protocol.EventNewConversationID, func(payload json.RawMessage) {
		var id string
		if err := json.Unmarshal(payload, &id); err != nil || id == "" {
			return
		}
		p.Send(ConversationMsg{ID: id})
	})
	if err == nil {
		subs = append(subs, sub)
	}
	return subs
}
