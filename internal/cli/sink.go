// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/session"
	"github.com/jeranaias/luna-tui/internal/ui/components"
)

// =============================================================================
// LINE SINK
// =============================================================================

// lineSink renders a turn to a plain stream of lines. Streamed updates are
// printed as the text that was added since the last update; when an update
// rewrites earlier text (a code block closing, say) the final reply is
// printed again in full once the turn ends.
type lineSink struct {
	mu  sync.Mutex
	out io.Writer

	// printed is the plain text already written for the live reply.
	printed  string
	latest   string
	diverged bool
	open     bool
}

func newLineSink(out io.Writer) *lineSink {
	return &lineSink{out: out}
}

var _ session.Sink = (*lineSink)(nil)

func (s *lineSink) AppendOutgoing(id, text string) {}

func (s *lineSink) ShowTyping(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printed, s.latest, s.diverged = "", "", false
	s.open = true
	fmt.Fprint(s.out, assistantStyle.Render(protocol.SenderAssistant+":")+" ")
}

func (s *lineSink) AttachResponse(id string) {}

func (s *lineSink) UpdateResponse(id, markup string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain := components.StripMarkup(markup)
	s.latest = plain
	if s.diverged {
		return
	}
	if !strings.HasPrefix(plain, s.printed) {
		s.diverged = true
		return
	}
	fmt.Fprint(s.out, plain[len(s.printed):])
	s.printed = plain
}

func (s *lineSink) AppendMetadata(id string, meta protocol.Sources, markup string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.diverged {
		fmt.Fprintf(s.out, "\n%s\n%s", DimStyle.Render("(final)"), s.latest)
	}
	s.endLine()
	writeSources(s.out, meta)
}

func (s *lineSink) ShowError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLine()
	fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[X]"), err)
}

func (s *lineSink) SetInputEnabled(enabled bool) {}

// endLine terminates the reply line, once.
func (s *lineSink) endLine() {
	if !s.open {
		return
	}
	s.open = false
	if !strings.HasSuffix(s.printed, "\n") || s.diverged {
		fmt.Fprintln(s.out)
	}
}
