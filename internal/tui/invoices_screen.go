package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/andy/tallybook/internal/app"
	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/repository"
)

type invoiceViewMode int

const (
	invoiceViewList          invoiceViewMode = iota
	invoiceViewDetail                        // Viewing a single invoice
	invoiceViewRenumber                      // Entering a new number and reason
	invoiceViewRenumberConfirm               // Acknowledging the warning tier
)

// renumber form field indices
const (
	renumberFieldNumber = iota
	renumberFieldReason
	renumberFieldCount
)

// InvoicesModel displays invoices in list and detail views
type InvoicesModel struct {
	app       *app.App
	mode      invoiceViewMode
	invoices  []*domain.Invoice
	cursor    int
	loading   bool
	err       error
	statusMsg string

	// Detail state
	selected *domain.Invoice
	edit     domain.EditStatus
	history  []*domain.NumberChangeRecord
	payments []*domain.Payment

	// Renumber form state
	fields     []textinput.Model
	fieldFocus int
}

// IsCapturingInput returns true when the renumber form is active
func (m *InvoicesModel) IsCapturingInput() bool {
	return m.mode == invoiceViewRenumber || m.mode == invoiceViewRenumberConfirm
}

type invoicesDataMsg struct {
	invoices []*domain.Invoice
	err      error
}

type invoiceDetailMsg struct {
	invoice  *domain.Invoice
	edit     domain.EditStatus
	history  []*domain.NumberChangeRecord
	payments []*domain.Payment
	err      error
}

// invoiceActionMsg reports the outcome of an action on one invoice
type invoiceActionMsg struct {
	invoiceID int64
	status    string
	err       error
}

// overdueCheckedMsg reports the invoices moved to overdue
type overdueCheckedMsg struct {
	moved []*domain.Invoice
	err   error
}

// NewInvoicesModel creates a new invoices screen model
func NewInvoicesModel(a *app.App) tea.Model {
	return &InvoicesModel{
		app:     a,
		mode:    invoiceViewList,
		loading: true,
	}
}

func (m *InvoicesModel) Init() tea.Cmd {
	return m.loadInvoices()
}

func (m *InvoicesModel) loadInvoices() tea.Cmd {
	a := m.app
	return func() tea.Msg {
		invoices, err := a.InvoiceService.List(context.Background(), repository.InvoiceFilter{})
		return invoicesDataMsg{invoices: invoices, err: err}
	}
}

func (m *InvoicesModel) loadDetail(id int64) tea.Cmd {
	a := m.app
	return func() tea.Msg {
		ctx := context.Background()

		inv, err := a.InvoiceService.Get(ctx, id)
		if err != nil {
			return invoiceDetailMsg{err: err}
		}
		history, err := a.InvoiceService.History(ctx, id)
		if err != nil {
			return invoiceDetailMsg{err: fmt.Errorf("number history: %w", err)}
		}
		payments, err := a.PaymentService.List(ctx, id)
		if err != nil {
			return invoiceDetailMsg{err: fmt.Errorf("payments: %w", err)}
		}
		return invoiceDetailMsg{
			invoice:  inv,
			edit:     domain.ResolveEditTier(inv),
			history:  history,
			payments: payments,
		}
	}
}

func (m *InvoicesModel) transition(to domain.Status) tea.Cmd {
	a := m.app
	id := m.selected.ID
	return func() tea.Msg {
		inv, err := a.InvoiceService.Transition(context.Background(), id, to)
		if err != nil {
			return invoiceActionMsg{invoiceID: id, err: err}
		}
		return invoiceActionMsg{invoiceID: id, status: fmt.Sprintf("%s is now %s", inv.Number, inv.Status)}
	}
}

func (m *InvoicesModel) recordView() tea.Cmd {
	a := m.app
	id := m.selected.ID
	return func() tea.Msg {
		inv, changed, err := a.InvoiceService.RecordView(context.Background(), id)
		if err != nil {
			return invoiceActionMsg{invoiceID: id, err: err}
		}
		if !changed {
			return invoiceActionMsg{invoiceID: id, status: fmt.Sprintf("%s stays %s", inv.Number, inv.Status)}
		}
		return invoiceActionMsg{invoiceID: id, status: fmt.Sprintf("%s marked viewed", inv.Number)}
	}
}

func (m *InvoicesModel) checkOverdue() tea.Cmd {
	a := m.app
	return func() tea.Msg {
		moved, err := a.InvoiceService.CheckOverdue(context.Background(), time.Now())
		return overdueCheckedMsg{moved: moved, err: err}
	}
}

func (m *InvoicesModel) renumber() tea.Cmd {
	a := m.app
	req := domain.RenumberRequest{
		InvoiceID: m.selected.ID,
		NewNumber: strings.TrimSpace(m.fields[renumberFieldNumber].Value()),
		Reason:    strings.TrimSpace(m.fields[renumberFieldReason].Value()),
		Actor:     a.Config.Actor,
	}
	return func() tea.Msg {
		inv, change, err := a.InvoiceService.Renumber(context.Background(), req)
		if err != nil {
			return invoiceActionMsg{invoiceID: req.InvoiceID, err: err}
		}
		return invoiceActionMsg{
			invoiceID: inv.ID,
			status:    fmt.Sprintf("Renumbered %s -> %s", change.OldNumber, change.NewNumber),
		}
	}
}

func (m *InvoicesModel) initRenumberForm() tea.Cmd {
	m.fields = make([]textinput.Model, renumberFieldCount)

	m.fields[renumberFieldNumber] = textinput.New()
	m.fields[renumberFieldNumber].Placeholder = m.selected.Number
	m.fields[renumberFieldNumber].CharLimit = 40
	m.fields[renumberFieldNumber].Width = 30

	m.fields[renumberFieldReason] = textinput.New()
	m.fields[renumberFieldReason].Placeholder = "Why the number changes"
	m.fields[renumberFieldReason].CharLimit = 200
	m.fields[renumberFieldReason].Width = 60

	m.fieldFocus = renumberFieldNumber
	m.mode = invoiceViewRenumber
	return m.fields[renumberFieldNumber].Focus()
}

func (m *InvoicesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case RefreshDataMsg:
		m.loading = true
		if m.selected != nil && m.mode == invoiceViewDetail {
			return m, tea.Batch(m.loadInvoices(), m.loadDetail(m.selected.ID))
		}
		return m, m.loadInvoices()

	case invoicesDataMsg:
		m.loading = false
		m.err = msg.err
		m.invoices = msg.invoices
		if m.cursor >= len(m.invoices) {
			m.cursor = max(0, len(m.invoices)-1)
		}
		return m, nil

	case invoiceDetailMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.selected = msg.invoice
		m.edit = msg.edit
		m.history = msg.history
		m.payments = msg.payments
		if m.mode == invoiceViewList {
			m.mode = invoiceViewDetail
		}
		return m, nil

	case invoiceActionMsg:
		m.loading = false
		if m.mode == invoiceViewRenumber || m.mode == invoiceViewRenumberConfirm {
			if msg.err != nil {
				m.mode = invoiceViewRenumber
				m.err = msg.err
				return m, nil
			}
			m.mode = invoiceViewDetail
		}
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.statusMsg = msg.status
		m.loading = true
		return m, tea.Batch(m.loadInvoices(), m.loadDetail(msg.invoiceID))

	case overdueCheckedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.statusMsg = fmt.Sprintf("%d invoice(s) moved to overdue", len(msg.moved))
		m.loading = true
		return m, m.loadInvoices()

	case tea.KeyMsg:
		if m.loading {
			return m, nil
		}

		switch m.mode {
		case invoiceViewList:
			return m.updateList(msg)
		case invoiceViewDetail:
			return m.updateDetail(msg)
		case invoiceViewRenumber:
			return m.updateRenumber(msg)
		case invoiceViewRenumberConfirm:
			return m.updateRenumberConfirm(msg)
		}
	}

	// Forward non-key messages to the form (cursor blink)
	if m.mode == invoiceViewRenumber {
		var cmd tea.Cmd
		m.fields[m.fieldFocus], cmd = m.fields[m.fieldFocus].Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *InvoicesModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil

	switch {
	case key.Matches(msg, DefaultKeyMap.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, DefaultKeyMap.Down):
		if m.cursor < len(m.invoices)-1 {
			m.cursor++
		}
	case key.Matches(msg, DefaultKeyMap.Select):
		if len(m.invoices) > 0 {
			m.statusMsg = ""
			m.loading = true
			return m, m.loadDetail(m.invoices[m.cursor].ID)
		}
	case key.Matches(msg, DefaultKeyMap.Overdue):
		m.loading = true
		return m, m.checkOverdue()
	}

	return m, nil
}

func (m *InvoicesModel) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil

	switch {
	case key.Matches(msg, DefaultKeyMap.Back):
		m.mode = invoiceViewList
		m.selected = nil
		m.statusMsg = ""
	case key.Matches(msg, DefaultKeyMap.Send):
		m.loading = true
		return m, m.transition(domain.StatusSent)
	case key.Matches(msg, DefaultKeyMap.Cancel):
		m.loading = true
		return m, m.transition(domain.StatusCancelled)
	case key.Matches(msg, DefaultKeyMap.View):
		m.loading = true
		return m, m.recordView()
	case msg.String() == "e":
		if m.edit.Tier == domain.TierLocked {
			m.err = errors.New(m.edit.Message)
			return m, nil
		}
		m.statusMsg = ""
		return m, m.initRenumberForm()
	}
	return m, nil
}

func (m *InvoicesModel) updateRenumber(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = invoiceViewDetail
		m.err = nil
		return m, nil

	case "tab", "down", "shift+tab", "up":
		m.fields[m.fieldFocus].Blur()
		m.fieldFocus = (m.fieldFocus + 1) % renumberFieldCount
		return m, m.fields[m.fieldFocus].Focus()

	case "enter", "ctrl+s":
		if msg.String() == "enter" && m.fieldFocus < renumberFieldCount-1 {
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus++
			return m, m.fields[m.fieldFocus].Focus()
		}
		m.err = nil
		if m.edit.Tier == domain.TierWarning {
			m.mode = invoiceViewRenumberConfirm
			return m, nil
		}
		m.loading = true
		return m, m.renumber()
	}

	var cmd tea.Cmd
	m.fields[m.fieldFocus], cmd = m.fields[m.fieldFocus].Update(msg)
	return m, cmd
}

func (m *InvoicesModel) updateRenumberConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, DefaultKeyMap.Confirm):
		m.loading = true
		return m, m.renumber()
	case key.Matches(msg, DefaultKeyMap.Deny):
		m.mode = invoiceViewRenumber
	}
	return m, nil
}

func (m *InvoicesModel) View() string {
	if m.loading && m.mode == invoiceViewList && m.invoices == nil {
		return "Loading invoices..."
	}

	switch m.mode {
	case invoiceViewDetail:
		return m.viewDetail()
	case invoiceViewRenumber, invoiceViewRenumberConfirm:
		return m.viewRenumber()
	}
	return m.viewList()
}

func (m *InvoicesModel) messages() string {
	var s string
	if m.statusMsg != "" {
		s += statusStyle.Render("  "+m.statusMsg) + "\n\n"
	}
	if m.err != nil {
		var locked *domain.LockedError
		if errors.As(m.err, &locked) {
			s += tierLockedStyle.Render("  "+locked.Message) + "\n\n"
		} else {
			s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
		}
	}
	return s
}

func (m *InvoicesModel) viewList() string {
	s := titleStyle.Render("Invoices") + "\n\n"
	s += m.messages()

	if len(m.invoices) == 0 {
		s += subtitleStyle.Render("  No invoices yet. Create one with 'tallybook invoices create'.") + "\n"
		return s
	}

	s += subtitleStyle.Render(fmt.Sprintf("  %-14s %-20s %-12s %-15s %12s %12s",
		"Number", "Client", "Issued", "Status", "Total", "Balance")) + "\n"

	for i, inv := range m.invoices {
		clientName := fmt.Sprintf("#%d", inv.ClientID)
		if inv.Client != nil {
			clientName = inv.Client.Name
		}
		row := fmt.Sprintf("%-14s %-20s %-12s %-15s %12s %12s",
			inv.Number,
			truncateStr(clientName, 20),
			inv.IssueDate.Local().Format("2006-01-02"),
			inv.Status,
			formatMoney(inv.Total),
			formatMoney(inv.Balance()),
		)
		if i == m.cursor {
			s += "> " + selectedStyle.Render(row) + "\n"
		} else {
			s += "  " + row + "\n"
		}
	}

	s += "\n" + helpStyle.Render("  j/k: navigate  enter: details  o: check overdue")
	return s
}

func (m *InvoicesModel) viewDetail() string {
	inv := m.selected
	if inv == nil {
		return "Loading invoice..."
	}

	labelStyle := lipgloss.NewStyle().Bold(true).Width(16)

	s := titleStyle.Render("Invoice "+inv.Number) + "\n\n"
	s += m.messages()

	clientName := fmt.Sprintf("#%d", inv.ClientID)
	if inv.Client != nil {
		clientName = inv.Client.Name
	}
	due := "-"
	if inv.DueDate != nil {
		due = inv.DueDate.Local().Format("2006-01-02")
	}

	s += fmt.Sprintf("  %s %s\n", labelStyle.Render("Client:"), clientName)
	s += fmt.Sprintf("  %s %s\n", labelStyle.Render("Status:"), inv.Status)
	s += fmt.Sprintf("  %s %s\n", labelStyle.Render("Registration:"), inv.Registration)
	s += fmt.Sprintf("  %s %s   due %s\n", labelStyle.Render("Issued:"), inv.IssueDate.Local().Format("2006-01-02"), due)
	s += fmt.Sprintf("  %s %s\n", labelStyle.Render("Number edits:"), renderTier(m.edit.Tier))
	s += "  " + subtitleStyle.Render(m.edit.Message) + "\n\n"

	for _, li := range inv.LineItems {
		s += fmt.Sprintf("  %-30s %8s x %10s %12s\n",
			truncateStr(li.Description, 30), li.Quantity.String(), formatMoney(li.UnitPrice), formatMoney(li.Amount))
	}
	s += fmt.Sprintf("  %54s %12s\n", "Subtotal", formatMoney(inv.Subtotal))
	if inv.DiscountAmount.IsPositive() {
		s += fmt.Sprintf("  %54s %12s\n", "Discount", "-"+formatMoney(inv.DiscountAmount))
	}
	s += fmt.Sprintf("  %54s %12s\n", "Tax", formatMoney(inv.TaxAmount))
	s += fmt.Sprintf("  %54s %12s\n", "Total", amountStyle.Render(formatMoney(inv.Total)))
	s += fmt.Sprintf("  %54s %12s\n\n", "Balance", formatMoney(inv.Balance()))

	if len(m.payments) > 0 {
		s += subtitleStyle.Render("  Payments") + "\n"
		for _, p := range m.payments {
			s += fmt.Sprintf("  %s  %12s  %-14s %s\n",
				p.Date.Local().Format("2006-01-02"), formatMoney(p.Amount), p.Method, p.Reference)
		}
		s += "\n"
	}

	if len(m.history) > 0 {
		s += subtitleStyle.Render("  Number history") + "\n"
		for _, c := range m.history {
			s += fmt.Sprintf("  %s  %s -> %s  (%s, %s) %s\n",
				c.ChangedAt.Local().Format("2006-01-02 15:04"), c.OldNumber, c.NewNumber,
				c.StatusAtChange, c.Actor, truncateStr(c.Reason, 40))
		}
		s += "\n"
	}

	s += helpStyle.Render("  s: mark sent  v: record view  x: cancel  e: renumber  esc: back")
	return s
}

func (m *InvoicesModel) viewRenumber() string {
	s := titleStyle.Render("Renumber "+m.selected.Number) + "\n\n"
	s += fmt.Sprintf("  %s\n  %s\n\n", renderTier(m.edit.Tier), subtitleStyle.Render(m.edit.Message))

	labels := []string{"New number:", "Reason:"}
	for i, label := range labels {
		indicator := "  "
		labelStyle := subtitleStyle
		if i == m.fieldFocus {
			indicator = "> "
			labelStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
		}
		s += fmt.Sprintf("%s%s\n  %s\n\n", indicator, labelStyle.Render(label), m.fields[i].View())
	}

	s += m.messages()

	if m.mode == invoiceViewRenumberConfirm {
		s += tierWarningStyle.Render("  The change will be recorded in the audit trail. Continue? (y/n)")
		return s
	}
	s += helpStyle.Render("  tab: switch field  enter: next/save  ctrl+s: save  esc: cancel")
	return s
}
