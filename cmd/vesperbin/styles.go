package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorRed    = lipgloss.Color("#FF0000")
	colorGreen  = lipgloss.Color("#00FF00")
	colorYellow = lipgloss.Color("#FFFF00")
	colorCyan   = lipgloss.Color("#00FFFF")
	colorGray   = lipgloss.Color("#666666")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	keyStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Width(14)

	okStyle = lipgloss.NewStyle().
		Foreground(colorGreen)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)
)

func printField(key string, value interface{}) {
	fmt.Printf("%s %v\n", keyStyle.Render(key), value)
}
