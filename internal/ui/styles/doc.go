// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the color palette and lipgloss styles for the luna
chat UI.

All colors are lipgloss AdaptiveColor values. Theme pins lipgloss' dark
background flag for its mode, so toggling between dark and light re-renders
every style with the other variant.

# Usage

	theme := styles.NewTheme(styles.ModeAuto)
	label := theme.AssistantLabel.Render("Luna")
	theme.Toggle()

Status text always carries an ASCII indicator ([OK], [X], [!], [i]) next to
its color.
*/
package styles
