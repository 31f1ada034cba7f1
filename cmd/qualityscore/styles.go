package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#2E7D32")
	errorColor   = lipgloss.Color("#C62828")
	mutedColor   = lipgloss.Color("#888888")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	KeyStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	ValueStyle = lipgloss.NewStyle().
			Bold(true)
)

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
}
