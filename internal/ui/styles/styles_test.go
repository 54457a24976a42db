// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"Dark", ModeDark, false},
		{" light ", ModeLight, false},
		{"neon", ModeAuto, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestThemeToggle(t *testing.T) {
	theme := NewTheme(ModeDark)
	if !theme.IsDark {
		t.Fatal("ModeDark theme should be dark")
	}
	if got := theme.Toggle(); got != ModeLight || theme.IsDark {
		t.Errorf("Toggle() = %q, IsDark = %v; want light", got, theme.IsDark)
	}
	if got := theme.Toggle(); got != ModeDark || !theme.IsDark {
		t.Errorf("second Toggle() = %q, want dark", got)
	}
}

func TestThemeStylesRender(t *testing.T) {
	theme := NewTheme(ModeLight)
	for name, out := range map[string]string{
		"user":      theme.UserLabel.Render("You"),
		"assistant": theme.AssistantLabel.Render("Luna"),
		"link":      theme.Link.Render("doc.pdf"),
		"comment":   theme.Comment.Render("# note"),
	} {
		if out == "" {
			t.Errorf("%s style rendered empty output", name)
		}
	}
}

func TestLayoutMode(t *testing.T) {
	theme := NewTheme(ModeDark)
	for _, tt := range []struct {
		width int
		want  LayoutMode
	}{{40, LayoutNarrow}, {80, LayoutMedium}, {140, LayoutWide}} {
		theme.SetSize(tt.width, 24)
		if got := theme.GetLayoutMode(); got != tt.want {
			t.Errorf("width %d: layout = %v, want %v", tt.width, got, tt.want)
		}
	}
}

func TestRenderIndicators(t *testing.T) {
	if !strings.Contains(RenderError("down"), "[X]") {
		t.Error("RenderError missing indicator")
	}
	if !strings.Contains(RenderSuccess("up"), "[OK]") {
		t.Error("RenderSuccess missing indicator")
	}
	if !strings.Contains(RenderWarning("slow"), "[!]") {
		t.Error("RenderWarning missing indicator")
	}
	if !strings.Contains(RenderInfo("hint"), "[i]") {
		t.Error("RenderInfo missing indicator")
	}
}
