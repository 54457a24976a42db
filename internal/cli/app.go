// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/luna-tui/internal/api"
	"github.com/jeranaias/luna-tui/internal/config"
	"github.com/jeranaias/luna-tui/internal/format"
	"github.com/jeranaias/luna-tui/internal/logging"
	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/room"
	"github.com/jeranaias/luna-tui/internal/session"
	"github.com/jeranaias/luna-tui/internal/socketio"
	"github.com/jeranaias/luna-tui/internal/stream"
	"github.com/jeranaias/luna-tui/internal/ui/chat"
)

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

// Options holds the persistent flags shared by every command.
type Options struct {
	ConfigFile string
	Server     string
	User       string
	Room       string
	LogLevel   string
	Search     bool
	Verbose    bool
}

// register binds the options to cmd's persistent flags.
func (o *Options) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.ConfigFile, "config", "", "config file (default: ~/.luna/config.toml)")
	f.StringVarP(&o.Server, "server", "s", "", "Luna server URL")
	f.StringVarP(&o.User, "user", "u", "", "user name sent with every message")
	f.StringVarP(&o.Room, "room", "r", "", "room to join")
	f.StringVar(&o.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.BoolVar(&o.Search, "search", false, "ask the server to search the internet")
	f.BoolVarP(&o.Verbose, "verbose", "v", false, "also write logs to stderr")
}

// =============================================================================
// APPLICATION CONTEXT
// =============================================================================

// app is the per-invocation state: resolved config and logger.
type app struct {
	cfg     *config.Config
	cfgPath string
	log     *logrus.Logger
	closer  io.Closer
	stderr  io.Writer
}

// loadApp resolves configuration (file, environment, then flags) and sets
// up logging. A broken config file is reported and defaults are used.
func loadApp(cmd *cobra.Command, opts *Options) (*app, error) {
	a := &app{stderr: cmd.ErrOrStderr()}

	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigFile != "" {
		a.cfgPath = opts.ConfigFile
		cfg, err = config.LoadFromPath(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
	} else {
		if p, perr := config.ConfigPathTOML(); perr == nil {
			a.cfgPath = p
		}
		cfg, err = config.Load()
		if cfg == nil {
			return nil, err
		}
		if err != nil {
			fmt.Fprintf(a.stderr, "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
		}
	}

	flags := cmd.Flags()
	if opts.Server != "" {
		cfg.Server.URL = opts.Server
	}
	if opts.User != "" {
		cfg.User.Name = opts.User
	}
	if opts.Room != "" {
		cfg.User.Room = opts.Room
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if flags.Changed("search") {
		cfg.Chat.InternetSearch = opts.Search
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a.cfg = cfg

	lopts := logging.FromConfig(cfg)
	lopts.Stderr = opts.Verbose
	log, closer, err := logging.Setup(lopts)
	if err != nil {
		return nil, err
	}
	a.log = log
	a.closer = closer
	return a, nil
}

// Close flushes the log file.
func (a *app) Close() {
	if a.closer != nil {
		a.closer.Close()
	}
}

// save writes cfg back to the file it came from.
func (a *app) save(cfg *config.Config) error {
	if a.cfgPath == "" {
		return config.Save(cfg)
	}
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	return config.SaveTOML(cfg, a.cfgPath)
}

func (a *app) formatter() *format.Formatter {
	return format.New(format.Options{
		Allowed:       a.cfg.Format.Allowed,
		Disallowed:    a.cfg.Format.Disallowed,
		CommentMarker: a.cfg.Format.CommentMarker,
		Sanitize:      a.cfg.Format.Sanitize,
	})
}

func (a *app) apiClient() *api.Client {
	return api.NewClient(&api.ClientConfig{
		BaseURL: a.cfg.Server.URL,
		Logger:  a.log,
	})
}

// =============================================================================
// CONNECTION
// =============================================================================

// conn bundles a live socket with the services built on it.
type conn struct {
	client *socketio.Client
	rooms  *room.Manager
	turns  *session.Coordinator
	api    *api.Client
}

// Close cancels any live turn and closes the socket.
func (c *conn) Close() {
	c.turns.Close()
	c.client.Close()
}

// connect dials the server and builds a coordinator that renders to sink.
func (a *app) connect(ctx context.Context, sink session.Sink) (*conn, error) {
	client := socketio.New(socketio.Config{
		URL:               a.cfg.Server.URL,
		Path:              a.cfg.Server.SocketPath,
		DialTimeout:       a.cfg.DialTimeout(),
		Reconnect:         a.cfg.Server.Reconnect,
		ReconnectInterval: a.cfg.ReconnectInterval(),
		Logger:            a.log,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, &NetworkError{URL: a.cfg.Server.URL, Err: err}
	}

	turns := session.NewCoordinator(client, sink, session.Config{
		Room:           a.cfg.User.Room,
		Sender:         a.cfg.User.Name,
		InternetSearch: a.cfg.Chat.InternetSearch,
		IdleTimeout:    a.cfg.IdleTimeout(),
		Formatter:      a.formatter(),
		Logger:         a.log,
	})
	return &conn{
		client: client,
		rooms:  room.NewManager(client, a.cfg.User.Name, a.log),
		turns:  turns,
		api:    a.apiClient(),
	}, nil
}

// rejoinOnReconnect rejoins the current room after every reconnect and then
// runs after, if set.
func (c *conn) rejoinOnReconnect(log logrus.FieldLogger, after func()) {
	c.client.OnConnect(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.rooms.Rejoin(ctx); err != nil {
			log.WithField("event", "REJOIN_FAILED").WithError(err).Warn("could not rejoin room")
		}
		if after != nil {
			after()
		}
	})
}

// joinRoom joins the configured room, bounded by the dial timeout.
func (a *app) joinRoom(ctx context.Context, c *conn) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout())
	defer cancel()
	if _, err := c.rooms.Join(ctx, a.cfg.User.Room); err != nil {
		return err
	}
	c.turns.SetRoom(a.cfg.User.Room)
	return nil
}

// trackConversation follows the conversation id the server assigns to a
// new conversation, so later turns continue it.
func trackConversation(events chat.Events, turns chat.Turns, log logrus.FieldLogger) stream.Subscription {
	sub, err := events.Subscribe(protocol.EventNewConversationID, func(payload json.RawMessage) {
		var id string
		if err := json.Unmarshal(payload, &id); err != nil || id == "" {
			return
		}
		turns.SetConversationID(id)
		log.WithFields(logrus.Fields{
			"event":           "CONVERSATION_STARTED",
			"conversation_id": id,
		}).Debug("server assigned conversation id")
	})
	if err != nil {
		log.WithField("event", "SUBSCRIBE_FAILED").WithError(err).Warn("conversation ids will not be tracked")
	}
	return sub
}
