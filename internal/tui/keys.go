package tui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	Quit key.Binding
	Back key.Binding

	// Navigation
	Dashboard key.Binding
	Clients   key.Binding
	Invoices  key.Binding
	Reports   key.Binding
	Settings  key.Binding

	// Actions
	Select  key.Binding
	New     key.Binding
	Archive key.Binding
	Send    key.Binding
	Cancel  key.Binding
	View    key.Binding
	Overdue key.Binding
	Confirm key.Binding
	Deny    key.Binding

	// Movement
	Up   key.Binding
	Down key.Binding
}

var DefaultKeyMap = KeyMap{
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Back:      key.NewBinding(key.WithKeys("esc", "backspace"), key.WithHelp("esc", "back")),
	Dashboard: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "dashboard")),
	Clients:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clients")),
	Invoices:  key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "invoices")),
	Reports:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reports")),
	Settings:  key.NewBinding(key.WithKeys(","), key.WithHelp(",", "settings")),
	Select:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
	New:       key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new")),
	Archive:   key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "archive")),
	Send:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "mark sent")),
	Cancel:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cancel invoice")),
	View:      key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "record view")),
	Overdue:   key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "check overdue")),
	Confirm:   key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes")),
	Deny:      key.NewBinding(key.WithKeys("n", "esc"), key.WithHelp("n", "no")),
	Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
}
