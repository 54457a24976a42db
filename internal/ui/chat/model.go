// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/api"
	"github.com/jeranaias/luna-tui/internal/config"
	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/session"
	"github.com/jeranaias/luna-tui/internal/ui/components"
	"github.com/jeranaias/luna-tui/internal/ui/styles"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Turns is the coordinator surface the model drives.
type Turns interface {
	Submit(ctx context.Context, text string) (*session.MessageSession, error)
	Cancel() error
	Active() *session.MessageSession
	Locked() bool
	Room() string
	SetRoom(room string)
	InternetSearch() bool
	SetInternetSearch(on bool)
	ConversationID() string
	SetConversationID(id string)
	SetIdleTimeout(d time.Duration)
	Sender() string
}

// Rooms switches and lists channels.
type Rooms interface {
	Current() string
	Join(ctx context.Context, room string) (protocol.JoinedRoom, error)
	Channels(ctx context.Context) ([]string, error)
	Create(ctx context.Context, name string) (string, []string, error)
}

// Library is the REST surface: history, uploads and saved responses.
type Library interface {
	Conversations(ctx context.Context, user string) (map[string][]string, error)
	History(ctx context.Context, user, room, conversationID string) ([]api.HistoryMessage, error)
	Upload(ctx context.Context, paths ...string) (string, error)
	SaveResponse(ctx context.Context, user, room, content string) error
}

// Deps holds the model's collaborators. Turns and Config are required.
type Deps struct {
	Turns   Turns
	Rooms   Rooms
	Library Library
	Config  *config.Config

	// Connected reports the transport state (nil means always connected).
	Connected func() bool

	// SaveConfig persists toggles (nil disables saving).
	SaveConfig func(*config.Config) error

	// Clipboard writes text to the system clipboard (default: clipboard.WriteAll).
	Clipboard func(string) error

	Logger logrus.FieldLogger
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	deps Deps
	cfg  *config.Config
	log  logrus.FieldLogger

	// Styling
	theme  *styles.Theme
	view   *components.MessageView
	header *components.Header
	status *components.StatusBar
	typing components.Typing

	// Dimensions
	width  int
	height int
	ready  bool

	// UI Components
	viewport viewport.Model
	input    textinput.Model
	help     help.Model
	keys     KeyMap
	showHelp bool

	// Transcript
	messages []*components.Message
	replies  map[string]*components.Message
	own      map[string]bool
	lastID   string

	// channels is the last channel list seen, for /join completion.
	channels []string

	inputEnabled bool
	quitting     bool
}

// New creates the chat model.
func New(deps Deps) *Model {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Clipboard == nil {
		deps.Clipboard = clipboard.WriteAll
	}
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	mode, err := styles.ParseMode(cfg.UI.Theme)
	if err != nil {
		mode = styles.ModeAuto
	}
	theme := styles.NewTheme(mode)

	input := textinput.New()
	input.Placeholder = "Ask Luna... (/help for commands)"
	input.Prompt = "> "
	input.PromptStyle = theme.InputPrompt
	input.CharLimit = 8000
	input.Focus()

	header := components.NewHeader(theme)
	header.User = deps.Turns.Sender()
	header.Room = deps.Turns.Room()
	header.Server = cfg.Server.URL

	status := components.NewStatusBar(theme)
	status.Search = deps.Turns.InternetSearch()
	status.Connection = components.Connecting

	vp := viewport.New(80, 20)
	keys := DefaultKeyMap()
	// Only paging keys scroll; everything else goes to the input.
	vp.KeyMap = viewport.KeyMap{PageUp: keys.PageUp, PageDown: keys.PageDown}
	vp.MouseWheelEnabled = true

	return &Model{
		deps:   deps,
		cfg:    cfg,
		log:    log.WithField("component", "chat"),
		theme:  theme,
		header: header,
		status: status,
		typing: components.NewTyping(theme),
		view: &components.MessageView{
			Theme:          theme,
			Markup:         components.NewMarkupRenderer(theme, cfg.UI.CodeStyle),
			Markdown:       components.NewMarkdownRenderer(),
			ShowTimestamps: cfg.UI.ShowTimestamps,
		},
		viewport:     vp,
		input:        input,
		help:         help.New(),
		keys:         keys,
		replies:      map[string]*components.Message{},
		own:          map[string]bool{},
		inputEnabled: true,
	}
}

// Init joins the configured room and loads its latest conversation.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.joinCmd(m.deps.Turns.Room(), true),
		connTick(),
	)
}

// Messages returns the transcript.
func (m *Model) Messages() []*components.Message {
	return m.messages
}

// InputEnabled reports whether the input accepts text.
func (m *Model) InputEnabled() bool {
	return m.inputEnabled
}

// Theme returns the active theme.
func (m *Model) Theme() *styles.Theme {
	return m.theme
}

// Notice returns the status bar notice.
func (m *Model) Notice() string {
	return m.status.Notice
}

func connTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return connTickMsg{} })
}
