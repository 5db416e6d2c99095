// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for the CLI. Colors are dropped
// automatically for non-TTY output.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/neurochat/internal/registry"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(18)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)
)

// =============================================================================
// COMPARE COLUMNS
// =============================================================================

// columnGap separates comparison columns.
const columnGap = 2

var (
	ColumnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	ColumnFailedStyle = ColumnStyle.
				BorderForeground(lipgloss.Color("196"))

	ColumnHeaderStyle = lipgloss.NewStyle().
				Bold(true)
)

// providerStyle colors a model name with its provider's registry color.
func providerStyle(provider string) lipgloss.Style {
	for _, p := range registry.Providers() {
		if p.ID == provider {
			return ColumnHeaderStyle.Foreground(lipgloss.Color(p.Color))
		}
	}
	return ColumnHeaderStyle
}

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule of width cells.
func RenderSeparator(width int) string {
	if width <= 0 {
		width = 70
	}
	return SeparatorStyle.Render(strings.Repeat("─", width))
}

// RenderStatus renders a short status tag.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success":
		return SuccessStyle.Render("[OK]")
	case "error", "fail", "failed":
		return ErrorStyle.Render("[FAIL]")
	case "warning", "degraded":
		return WarningStyle.Render("[WARN]")
	default:
		return DimStyle.Render("[" + strings.ToUpper(status) + "]")
	}
}

// RenderLabel renders a fixed-width field label.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}
