package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
)

// Suggestions provides autocomplete for the command line
type Suggestions struct {
	items       []SuggestionItem
	filtered    []SuggestionItem
	operators   []string
	selectedIdx int
	visible     bool
	kind        string // "command" or "operator"
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "operator"
}

var commandSuggestions = []SuggestionItem{
	{Text: "claim", Description: "Claim the selected task", Type: "command"},
	{Text: "reached", Description: "Log a call that got through", Type: "command"},
	{Text: "unreached", Description: "Log a missed call and schedule a retry", Type: "command"},
	{Text: "done", Description: "Complete with an outcome summary", Type: "command"},
	{Text: "abandon", Description: "Cancel the task with a reason", Type: "command"},
	{Text: "transfer", Description: "Hand the task to another operator", Type: "command"},
	{Text: "unassign", Description: "Release the task to the shared queue", Type: "command"},
	{Text: "postpone", Description: "Move the due date (2h, 15:04, tomorrow)", Type: "command"},
	{Text: "boost", Description: "Make this the task you are calling now", Type: "command"},
	{Text: "urgent", Description: "Boost without starting the call", Type: "command"},
	{Text: "refresh", Description: "Reload the queue", Type: "command"},
	{Text: "whoami", Description: "Show the operator name", Type: "command"},
	{Text: "quit", Description: "Leave the console", Type: "command"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{items: commandSuggestions}
}

// SetOperators sets the names offered after "transfer ".
func (s *Suggestions) SetOperators(names []string) {
	s.operators = names
}

// Update updates suggestions based on current input
func (s *Suggestions) Update(input string) {
	input = strings.TrimLeft(input, " ")
	if input == "" {
		s.hide()
		return
	}

	name, rest, hasArgs := strings.Cut(input, " ")
	switch {
	case !hasArgs:
		s.kind = "command"
		s.items = commandSuggestions
		s.filter(strings.ToLower(name))
	case strings.EqualFold(name, "transfer") && !strings.Contains(strings.TrimLeft(rest, " "), " "):
		s.kind = "operator"
		s.items = make([]SuggestionItem, len(s.operators))
		for i, op := range s.operators {
			s.items[i] = SuggestionItem{Text: op, Description: "Transfer to this operator", Type: "operator"}
		}
		s.filter(strings.ToLower(strings.TrimSpace(rest)))
	default:
		s.hide()
		return
	}
	s.visible = true
}

func (s *Suggestions) hide() {
	s.visible = false
	s.filtered = nil
	s.kind = ""
	s.selectedIdx = 0
}

func (s *Suggestions) filter(query string) {
	s.selectedIdx = 0
	if query == "" {
		s.filtered = s.items
		return
	}

	texts := make([]string, len(s.items))
	for i, item := range s.items {
		texts[i] = strings.ToLower(item.Text)
	}
	s.filtered = s.filtered[:0:0]
	for _, m := range fuzzy.Find(query, texts) {
		s.filtered = append(s.filtered, s.items[m.Index])
	}
}

// Complete returns input with the selected suggestion filled in.
func (s *Suggestions) Complete(input string) string {
	sel := s.Selected()
	if sel == nil {
		return input
	}
	if sel.Type == "operator" {
		name, _, _ := strings.Cut(strings.TrimLeft(input, " "), " ")
		return name + " " + sel.Text + " "
	}
	return sel.Text + " "
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(max(width-4, 20))

	chosenStyle := lipgloss.NewStyle().
		Background(primaryColor).
		Foreground(fgColor).
		Bold(true)

	itemStyle := lipgloss.NewStyle().Foreground(fgColor)

	descStyle := lipgloss.NewStyle().
		Foreground(mutedColor).
		Italic(true)

	header := "Commands"
	if s.kind == "operator" {
		header = "Operators"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(header))
	b.WriteString("\n")

	// Show max 5 suggestions
	maxVisible := 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			more := len(s.filtered) - maxVisible
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", more)))
			break
		}

		var line string
		if i == s.selectedIdx {
			line = chosenStyle.Render("▶ " + item.Text)
			if item.Description != "" {
				line += " " + chosenStyle.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return boxStyle.Render(b.String())
}
