package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/andy/tallybook/internal/app"
	"github.com/andy/tallybook/internal/domain"
)

type settingsMode int

const (
	settingsModeView settingsMode = iota
	settingsModeEdit
)

// settings form field indices
const (
	settingsFieldTaxRate = iota
	settingsFieldActor
	settingsFieldManualPaid
	settingsFieldOverpayment
	settingsFieldCount
)

type settingsSavedMsg struct {
	err error
}

// SettingsModel manages the settings screen
type SettingsModel struct {
	app        *app.App
	mode       settingsMode
	fields     []textinput.Model
	fieldFocus int
	err        error
	statusMsg  string
}

// NewSettingsModel creates a new settings screen
func NewSettingsModel(a *app.App) tea.Model {
	return &SettingsModel{
		app:  a,
		mode: settingsModeView,
	}
}

// IsCapturingInput returns true when the edit form is active
func (m *SettingsModel) IsCapturingInput() bool {
	return m.mode == settingsModeEdit
}

func (m *SettingsModel) Init() tea.Cmd {
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func parseYesNo(field, s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s must be yes or no", field)
	}
	return b, nil
}

func (m *SettingsModel) initForm() {
	m.fields = make([]textinput.Model, settingsFieldCount)
	cfg := m.app.Config

	rate, err := decimal.NewFromString(cfg.Invoice.DefaultTaxRate)
	if err != nil {
		rate = decimal.Zero
	}

	// Default tax rate (display as percentage)
	m.fields[settingsFieldTaxRate] = textinput.New()
	m.fields[settingsFieldTaxRate].Placeholder = "19"
	m.fields[settingsFieldTaxRate].CharLimit = 10
	m.fields[settingsFieldTaxRate].Width = 10
	m.fields[settingsFieldTaxRate].SetValue(rate.Shift(2).String())

	m.fields[settingsFieldActor] = textinput.New()
	m.fields[settingsFieldActor].Placeholder = "your name"
	m.fields[settingsFieldActor].CharLimit = 60
	m.fields[settingsFieldActor].Width = 30
	m.fields[settingsFieldActor].SetValue(cfg.Actor)

	m.fields[settingsFieldManualPaid] = textinput.New()
	m.fields[settingsFieldManualPaid].CharLimit = 3
	m.fields[settingsFieldManualPaid].Width = 5
	m.fields[settingsFieldManualPaid].SetValue(yesNo(cfg.Policy.AllowManualPaidWithoutBalance))

	m.fields[settingsFieldOverpayment] = textinput.New()
	m.fields[settingsFieldOverpayment].CharLimit = 3
	m.fields[settingsFieldOverpayment].Width = 5
	m.fields[settingsFieldOverpayment].SetValue(yesNo(cfg.Policy.AllowOverpayment))

	m.fieldFocus = settingsFieldTaxRate
	m.fields[settingsFieldTaxRate].Focus()
}

func (m *SettingsModel) saveSettings() tea.Cmd {
	a := m.app
	taxRateStr := strings.TrimSuffix(strings.TrimSpace(m.fields[settingsFieldTaxRate].Value()), "%")
	actor := strings.TrimSpace(m.fields[settingsFieldActor].Value())
	manualPaidStr := m.fields[settingsFieldManualPaid].Value()
	overpaymentStr := m.fields[settingsFieldOverpayment].Value()

	return func() tea.Msg {
		percent, err := decimal.NewFromString(strings.TrimSpace(taxRateStr))
		if err != nil || percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
			return settingsSavedMsg{err: fmt.Errorf("tax rate must be a percentage between 0 and 100")}
		}
		if actor == "" {
			return settingsSavedMsg{err: fmt.Errorf("actor is required")}
		}
		manualPaid, err := parseYesNo("manual paid", manualPaidStr)
		if err != nil {
			return settingsSavedMsg{err: err}
		}
		overpayment, err := parseYesNo("overpayment", overpaymentStr)
		if err != nil {
			return settingsSavedMsg{err: err}
		}

		// Update config (tax rate stored as decimal fraction)
		a.Config.Invoice.DefaultTaxRate = percent.Shift(-2).String()
		a.Config.Actor = actor
		a.Config.Policy.AllowManualPaidWithoutBalance = manualPaid
		a.Config.Policy.AllowOverpayment = overpayment

		if err := a.SaveConfig(); err != nil {
			return settingsSavedMsg{err: fmt.Errorf("failed to save config: %w", err)}
		}

		return settingsSavedMsg{}
	}
}

func (m *SettingsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.mode == settingsModeEdit {
		return m.updateForm(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.err = nil
		if msg.String() == "enter" {
			m.mode = settingsModeEdit
			m.statusMsg = ""
			m.initForm()
			return m, m.fields[m.fieldFocus].Focus()
		}
	}

	return m, nil
}

func (m *SettingsModel) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case settingsSavedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.mode = settingsModeView
		m.statusMsg = "Settings saved. Policy changes apply on the next start."
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			m.mode = settingsModeView
			m.err = nil
			return m, nil

		case "tab", "down":
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus = (m.fieldFocus + 1) % settingsFieldCount
			return m, m.fields[m.fieldFocus].Focus()

		case "shift+tab", "up":
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus = (m.fieldFocus - 1 + settingsFieldCount) % settingsFieldCount
			return m, m.fields[m.fieldFocus].Focus()

		case "enter":
			if m.fieldFocus == settingsFieldCount-1 {
				return m, m.saveSettings()
			}
			m.fields[m.fieldFocus].Blur()
			m.fieldFocus++
			return m, m.fields[m.fieldFocus].Focus()

		case "ctrl+s":
			return m, m.saveSettings()
		}
	}

	// Update the focused text input
	var cmd tea.Cmd
	m.fields[m.fieldFocus], cmd = m.fields[m.fieldFocus].Update(msg)
	return m, cmd
}

func (m *SettingsModel) View() string {
	if m.mode == settingsModeEdit {
		return m.viewForm()
	}
	return m.viewSettings()
}

func (m *SettingsModel) viewSettings() string {
	var s string
	s += titleStyle.Render("Settings") + "\n\n"

	if m.statusMsg != "" {
		s += statusStyle.Render("  "+m.statusMsg) + "\n\n"
	}

	cfg := m.app.Config

	labelStyle := lipgloss.NewStyle().Bold(true).Width(26)
	valueStyle := lipgloss.NewStyle().Foreground(primaryColor)
	row := func(label, value string) string {
		return fmt.Sprintf("  %s %s\n", labelStyle.Render(label), valueStyle.Render(value))
	}

	s += subtitleStyle.Render("  Numbering lines") + "\n\n"
	prefixes := cfg.Prefixes()
	for _, line := range domain.Lines {
		s += row(string(line)+":", prefixes[line])
	}
	s += row("Provision on start:", yesNo(cfg.Numbering.AutoProvision))

	s += "\n" + subtitleStyle.Render("  Invoices and policy") + "\n\n"
	s += row("Default tax rate:", cfg.Invoice.DefaultTaxRate)
	s += row("Actor:", cfg.Actor)
	s += row("Manual paid w/o balance:", yesNo(cfg.Policy.AllowManualPaidWithoutBalance))
	s += row("Allow overpayment:", yesNo(cfg.Policy.AllowOverpayment))

	s += "\n" + subtitleStyle.Render("  Storage") + "\n\n"
	s += row("Database:", cfg.Database.Path)
	redis := "local lock"
	if cfg.Redis.Addr != "" {
		redis = cfg.Redis.Addr
	}
	s += row("Resequence lock:", redis)

	s += "\n" + helpStyle.Render("  enter: edit settings  (prefixes are changed in config.yaml)")

	return s
}

func (m *SettingsModel) viewForm() string {
	var s string
	s += titleStyle.Render("Edit Settings") + "\n\n"

	labels := []string{"Default tax rate (%):", "Actor:", "Allow manual paid without balance (yes/no):", "Allow overpayment (yes/no):"}
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
