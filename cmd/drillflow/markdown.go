package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// MarkdownRenderer renders reports for the terminal.
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
}

// NewMarkdownRenderer creates a renderer. plainText selects the colorless
// "notty" style used when stdout is not a terminal.
func NewMarkdownRenderer(plainText bool) (*MarkdownRenderer, error) {
	termWidth := 80
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		termWidth = width - 4
		if termWidth > 120 {
			termWidth = 120
		}
	}

	style := glamour.WithStandardStyle("dark")
	if plainText {
		style = glamour.WithStandardStyle("notty")
	}

	renderer, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(termWidth),
		glamour.WithEmoji(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &MarkdownRenderer{renderer: renderer}, nil
}

// Render renders markdown content to styled terminal output.
func (mr *MarkdownRenderer) Render(content string) (string, error) {
	if content == "" {
		return "", nil
	}
	rendered, err := mr.renderer.Render(content)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return rendered, nil
}

// renderOrRaw renders content when pretty is set and falls back to the raw
// text on any renderer error.
func renderOrRaw(content string, pretty bool) string {
	if !pretty {
		return content
	}
	mr, err := NewMarkdownRenderer(!isTTY())
	if err != nil {
		return content
	}
	rendered, err := mr.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
