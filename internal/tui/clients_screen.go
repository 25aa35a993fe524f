package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/andy/tallybook/internal/app"
	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/repository"
)

// clientMode represents the current screen mode
type clientMode int

const (
	clientModeList clientMode = iota
	clientModeNew
	clientModeEdit
)

// form field indices
const (
	fieldName = iota
	fieldEmail
	fieldTerms
	fieldCount
)

// ClientsModel displays a navigable list of clients with create/edit forms
type ClientsModel struct {
	app          *app.App
	clients      []*domain.Client
	balances     map[int64]decimal.Decimal
	cursor       int
	showArchived bool
	loading      bool
	err          error
	statusMsg    string

	// Form state
	mode          clientMode
	fields        []textinput.Model
	fieldFocus    int
	editingID     int64 // 0 for new client
	autoNewClient bool  // open new client form after data loads
}

type clientsDataMsg struct {
	clients  []*domain.Client
	balances map[int64]decimal.Decimal
	err      error
}

type clientSavedMsg struct {
	name string
	err  error
}

// NewClientsModel creates a new clients screen model
func NewClientsModel(a *app.App) tea.Model {
	return &ClientsModel{
		app:      a,
		balances: make(map[int64]decimal.Decimal),
		loading:  true,
	}
}

// IsCapturingInput returns true when the form is active
func (m *ClientsModel) IsCapturingInput() bool {
	return m.mode == clientModeNew || m.mode == clientModeEdit
}

func (m *ClientsModel) Init() tea.Cmd {
	return m.loadClients()
}

func (m *ClientsModel) loadClients() tea.Cmd {
	a := m.app
	showArchived := m.showArchived
	return func() tea.Msg {
		ctx := context.Background()

		clients, err := a.ClientRepo.List(ctx, showArchived)
		if err != nil {
			return clientsDataMsg{err: err}
		}

		// Open balance per client
		balances := make(map[int64]decimal.Decimal, len(clients))
		for _, client := range clients {
			cid := client.ID
			invoices, err := a.InvoiceService.List(ctx, repository.InvoiceFilter{ClientID: &cid})
			if err != nil {
				return clientsDataMsg{err: err}
			}
			total := decimal.Zero
			for _, inv := range invoices {
				if domain.AcceptsPayments(inv) && inv.Balance().IsPositive() {
					total = total.Add(inv.Balance())
				}
			}
			balances[cid] = total
		}

		return clientsDataMsg{clients: clients, balances: balances}
	}
}

func (m *ClientsModel) initForm(editing *domain.Client) {
	m.fields = make([]textinput.Model, fieldCount)

	m.fields[fieldName] = textinput.New()
	m.fields[fieldName].Placeholder = "Client name"
	m.fields[fieldName].CharLimit = 100
	m.fields[fieldName].Width = 40

	m.fields[fieldEmail] = textinput.New()
	m.fields[fieldEmail].Placeholder = "billing@example.com"
	m.fields[fieldEmail].CharLimit = 100
	m.fields[fieldEmail].Width = 40

	m.fields[fieldTerms] = textinput.New()
	m.fields[fieldTerms].Placeholder = "14"
	m.fields[fieldTerms].CharLimit = 4
	m.fields[fieldTerms].Width = 10

	if editing != nil {
		m.fields[fieldName].SetValue(editing.Name)
		m.fields[fieldEmail].SetValue(editing.Email)
		if editing.PaymentTermDays > 0 {
			m.fields[fieldTerms].SetValue(strconv.Itoa(editing.PaymentTermDays))
		}
		m.editingID = editing.ID
	} else {
		m.editingID = 0
	}

	m.fieldFocus = fieldName
	m.fields[fieldName].Focus()
}

// parseTerms reads the payment term field; empty means no term
func parseTerms(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(s)
	if err != nil || days < 0 {
		return 0, fmt.Errorf("payment terms must be a non-negative number of days")
	}
	return days, nil
}

func (m *ClientsModel) saveClient() tea.Cmd {
	a := m.app
	editingID := m.editingID
	name := strings.TrimSpace(m.fields[fieldName].Value())
	email := strings.TrimSpace(m.fields[fieldEmail].Value())
	termsStr := m.fields[fieldTerms].Value()

	return func() tea.Msg {
		ctx := context.Background()

		if name == "" {
			return clientSavedMsg{err: fmt.Errorf("name is required")}
		}
		terms, err := parseTerms(termsStr)
		if err != nil {
			return clientSavedMsg{err: err}
		}

		if editingID > 0 {
			client, err := a.ClientRepo.GetByID(ctx, editingID)
			if err != nil {
				return clientSavedMsg{err: err}
			}
			client.Name = name
			client.Email = email
			client.PaymentTermDays = terms
			client.UpdatedAt = time.Now()

			if err := a.ClientRepo.Update(ctx, client); err != nil {
				return clientSavedMsg{err: err}
			}
			return clientSavedMsg{name: name}
		}

		client := domain.NewClient(name, email, terms)
		if err := a.ClientRepo.Create(ctx, client); err != nil {
			return clientSavedMsg{err: err}
		}
		return clientSavedMsg{name: name}
	}
}

func (m *ClientsModel) archiveSelected() tea.Cmd {
	a := m.app
	client := m.clients[m.cursor]
	return func() tea.Msg {
		if err := a.ClientRepo.Archive(context.Background(), client.ID); err != nil {
			return clientSavedMsg{err: err}
		}
		return clientSavedMsg{name: client.Name + " (archived)"}
	}
}

func (m *ClientsModel) openForm(editing *domain.Client) tea.Cmd {
	if editing == nil {
		m.mode = clientModeNew
	} else {
		m.mode = clientModeEdit
	}
	m.initForm(editing)
	return m.fields[fieldName].Focus()
}

func (m *ClientsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Handle OpenNewClientFormMsg at the top so it works regardless of mode
	if _, ok := msg.(OpenNewClientFormMsg); ok {
		if m.loading {
			// Data hasn't loaded yet; set flag to auto-open form when it does
			m.autoNewClient = true
			return m, nil
		}
		return m, m.openForm(nil)
	}

	if m.IsCapturingInput() {
		return m.updateForm(msg)
	}

	switch msg := msg.(type) {
	case RefreshDataMsg:
		m.loading = true
		return m, m.loadClients()

	case clientsDataMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.clients = msg.clients
			m.balances = msg.balances
			if m.cursor >= len(m.clients) {
				m.cursor = max(0, len(m.clients)-1)
			}
		}
		if m.autoNewClient {
			m.autoNewClient = false
			return m, m.openForm(nil)
		}
		return m, nil

	case clientSavedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.statusMsg = fmt.Sprintf("Saved: %s", msg.name)
		m.loading = true
		return m, m.loadClients()

	case tea.KeyMsg:
		if m.loading {
			return m, nil
		}

		m.statusMsg = ""
		m.err = nil

		switch {
		case key.Matches(msg, DefaultKeyMap.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, DefaultKeyMap.Down):
			if m.cursor < len(m.clients)-1 {
				m.cursor++
			}
		case key.Matches(msg, DefaultKeyMap.New):
			return m, m.openForm(nil)
		case key.Matches(msg, DefaultKeyMap.Select):
			if m.cursor < len(m.clients) {
				return m, m.openForm(m.clients[m.cursor])
			}
		case key.Matches(msg, DefaultKeyMap.Archive):
			if m.cursor < len(m.clients) && !m.clients[m.cursor].IsArchived {
				return m, m.archiveSelected()
			}
		case msg.String() == "h":
			m.showArchived = !m.showArchived
			m.cursor = 0
			m.loading = true
			return m, m.loadClients()
		}
	}

	return m, nil
}

func (m *ClientsModel) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case clientSavedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.mode = clientModeList
		m.statusMsg = fmt.Sprintf("Saved: %s", msg.name)
		m.loading = true
		return m, m.loadClients()

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			m.mode = clientModeList
			m.err = nil
			return m, nil

		case "tab", "down":
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus = (m.fieldFocus + 1) % fieldCount
			return m, m.fields[m.fieldFocus].Focus()

		case "shift+tab", "up":
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus = (m.fieldFocus - 1 + fieldCount) % fieldCount
			return m, m.fields[m.fieldFocus].Focus()

		case "enter":
			if m.fieldFocus == fieldCount-1 {
				return m, m.saveClient()
			}
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus++
			return m, m.fields[m.fieldFocus].Focus()

		case "ctrl+s":
			return m, m.saveClient()
		}
	}

	// Update the focused text input
	var cmd tea.Cmd
	m.fields[m.fieldFocus], cmd = m.fields[m.fieldFocus].Update(msg)
	return m, cmd
}

func (m *ClientsModel) View() string {
	if m.IsCapturingInput() {
		return m.viewForm()
	}
	return m.viewList()
}

func (m *ClientsModel) viewForm() string {
	var s string

	switch {
	case m.mode == clientModeNew && len(m.clients) == 0:
		s += titleStyle.Render("Welcome to tallybook!") + "\n"
		s += subtitleStyle.Render("  Add the first client you invoice to get started.") + "\n\n"
	case m.mode == clientModeNew:
		s += titleStyle.Render("New Client") + "\n\n"
	default:
		s += titleStyle.Render("Edit Client") + "\n\n"
	}

	labels := []string{"Name:", "Email:", "Payment terms (days):"}
	for i, label := range labels {
		indicator := "  "
		labelStyle := subtitleStyle
		if i == m.fieldFocus {
			indicator = "> "
			labelStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
		}
		s += fmt.Sprintf("%s%s\n  %s\n\n", indicator, labelStyle.Render(label), m.fields[i].View())
	}

	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
	}

	s += helpStyle.Render("  tab/shift+tab: navigate fields  ctrl+s: save  enter: next/save  esc: cancel")

	return s
}

func (m *ClientsModel) viewList() string {
	if m.loading {
		return "Loading clients..."
	}

	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	var s string

	header := "Clients"
	if m.showArchived {
		header += subtitleStyle.Render("  (showing archived)")
	}
	s += titleStyle.Render(header) + "\n\n"

	if m.statusMsg != "" {
		s += statusStyle.Render("  "+m.statusMsg) + "\n\n"
	}

	if len(m.clients) == 0 {
		s += subtitleStyle.Render("  No clients yet. Press 'n' to add one.") + "\n"
		s += subtitleStyle.Render("  Press 'h' to toggle archived clients") + "\n"
		return s
	}

	for i, client := range m.clients {
		s += m.renderClient(i, client) + "\n"
	}

	s += "\n" + helpStyle.Render("  j/k: navigate  n: new  enter: edit  a: archive  h: toggle archived")

	return s
}

func (m *ClientsModel) renderClient(index int, client *domain.Client) string {
	selected := index == m.cursor

	name := client.Name
	if client.IsArchived {
		name += " (archived)"
	}

	terms := "no terms"
	if client.PaymentTermDays > 0 {
		terms = fmt.Sprintf("net %d", client.PaymentTermDays)
	}

	indicator := "  "
	if selected {
		indicator = "> "
	}

	line1 := indicator + name
	line2 := fmt.Sprintf("    %s  |  Open balance: %s", terms, formatMoney(m.balances[client.ID]))
	if client.Email != "" {
		line2 += "  |  " + truncateStr(client.Email, 40)
	}

	nameStyle := lipgloss.NewStyle()
	detailStyle := subtitleStyle
	if client.IsArchived {
		nameStyle = nameStyle.Foreground(mutedColor)
		detailStyle = lipgloss.NewStyle().Foreground(mutedColor)
	}
	if selected {
		nameStyle = nameStyle.Bold(true).Foreground(primaryColor)
	}

	return nameStyle.Render(line1) + "\n" + detailStyle.Render(line2)
}
