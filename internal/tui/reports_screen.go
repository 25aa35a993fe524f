package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"github.com/andy/tallybook/internal/app"
	"github.com/andy/tallybook/internal/service"
)

// missingShown bounds the missing numbers listed per line
const missingShown = 10

// ReportsModel shows the sequence audit of every numbering line and runs
// resequencing on the selected one
type ReportsModel struct {
	app         *app.App
	revenueYear int

	gaps       []*service.GapReport
	cursor     int
	monthly    map[time.Month]decimal.Decimal
	confirming bool
	lastRun    *service.ResequenceResult

	loading   bool
	err       error
	statusMsg string
}

type reportsDataMsg struct {
	gaps    []*service.GapReport
	monthly map[time.Month]decimal.Decimal
	err     error
}

type resequenceDoneMsg struct {
	result *service.ResequenceResult
	err    error
}

// NewReportsModel creates a new reports screen model
func NewReportsModel(a *app.App) tea.Model {
	return &ReportsModel{
		app:         a,
		revenueYear: time.Now().Year(),
		loading:     true,
	}
}

// IsCapturingInput holds global navigation while a resequence awaits
// confirmation
func (m *ReportsModel) IsCapturingInput() bool {
	return m.confirming
}

func (m *ReportsModel) Init() tea.Cmd {
	return m.loadData()
}

func (m *ReportsModel) loadData() tea.Cmd {
	a := m.app
	year := m.revenueYear
	return func() tea.Msg {
		ctx := context.Background()

		report, err := a.ReportService.ComplianceReport(ctx)
		if err != nil {
			return reportsDataMsg{err: err}
		}
		monthly, err := a.ReportService.GetRevenueByMonth(ctx, year)
		if err != nil {
			return reportsDataMsg{err: fmt.Errorf("revenue: %w", err)}
		}
		return reportsDataMsg{gaps: report.Lines, monthly: monthly}
	}
}

func (m *ReportsModel) resequence() tea.Cmd {
	a := m.app
	line := m.gaps[m.cursor].Line
	return func() tea.Msg {
		result, err := a.NumberingService.Resequence(context.Background(), line, 1, a.Config.Actor)
		return resequenceDoneMsg{result: result, err: err}
	}
}

func (m *ReportsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case RefreshDataMsg:
		m.loading = true
		return m, m.loadData()

	case reportsDataMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.gaps = msg.gaps
			m.monthly = msg.monthly
			if m.cursor >= len(m.gaps) {
				m.cursor = max(0, len(m.gaps)-1)
			}
		}
		return m, nil

	case resequenceDoneMsg:
		m.lastRun = msg.result
		m.err = msg.err
		if msg.result != nil {
			m.statusMsg = fmt.Sprintf("Resequenced %s: %d changed, %d skipped",
				msg.result.Line, len(msg.result.Changes), len(msg.result.Skipped))
		}
		m.loading = true
		return m, m.loadData()

	case tea.KeyMsg:
		if m.loading {
			return m, nil
		}

		if m.confirming {
			switch {
			case key.Matches(msg, DefaultKeyMap.Confirm):
				m.confirming = false
				m.loading = true
				return m, m.resequence()
			case key.Matches(msg, DefaultKeyMap.Deny):
				m.confirming = false
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, DefaultKeyMap.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, DefaultKeyMap.Down):
			if m.cursor < len(m.gaps)-1 {
				m.cursor++
			}
		case key.Matches(msg, DefaultKeyMap.Select):
			if len(m.gaps) > 0 {
				m.err = nil
				m.statusMsg = ""
				m.lastRun = nil
				m.confirming = true
			}
		case msg.String() == "[":
			m.revenueYear--
			m.loading = true
			return m, m.loadData()
		case msg.String() == "]":
			m.revenueYear++
			m.loading = true
			return m, m.loadData()
		}
	}

	return m, nil
}

func (m *ReportsModel) View() string {
	if m.loading && m.gaps == nil {
		return "Loading reports..."
	}

	s := titleStyle.Render("Sequence Audit") + "\n\n"

	if m.statusMsg != "" {
		s += statusStyle.Render("  "+m.statusMsg) + "\n"
	}
	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n"
	}
	if m.statusMsg != "" || m.err != nil {
		s += "\n"
	}

	for i, r := range m.gaps {
		indicator := "  "
		if i == m.cursor {
			indicator = "> "
		}
		summary := fmt.Sprintf("%-10s %-6s issued %-4d highest %-4d", r.Line, r.Prefix, r.TotalIssued, r.HighestNumber)
		if i == m.cursor {
			summary = selectedStyle.Render(summary)
		}
		s += indicator + summary + "\n"

		if r.HasGaps() {
			s += tierWarningStyle.Render(fmt.Sprintf("    missing: %s", joinNumbers(r.MissingNumbers, missingShown))) + "\n"
		} else {
			s += statusStyle.Render("    no gaps") + "\n"
		}
		if len(r.Duplicates) > 0 {
			s += tierLockedStyle.Render(fmt.Sprintf("    duplicates: %s", joinNumbers(r.Duplicates, missingShown))) + "\n"
		}
		if len(r.CancelledNumbers) > 0 {
			s += subtitleStyle.Render(fmt.Sprintf("    cancelled: %s", joinNumbers(r.CancelledNumbers, missingShown))) + "\n"
		}
	}

	if m.lastRun != nil && len(m.lastRun.Skipped) > 0 {
		s += "\n" + subtitleStyle.Render("  Skipped in last run") + "\n"
		for _, sk := range m.lastRun.Skipped {
			s += fmt.Sprintf("  %-12s %s\n", sk.Number, truncateStr(sk.Reason, 60))
		}
	}

	s += "\n" + m.renderRevenue()

	if m.confirming {
		s += "\n" + tierWarningStyle.Render(fmt.Sprintf(
			"  Resequence the %s line from 1? Drafts are renumbered and recorded in the audit trail. (y/n)",
			m.gaps[m.cursor].Line))
		return s
	}

	s += "\n" + helpStyle.Render("  j/k: select line  enter: resequence  [/]: revenue year")
	return s
}

func (m *ReportsModel) renderRevenue() string {
	s := subtitleStyle.Render(fmt.Sprintf("  Revenue %d", m.revenueYear)) + "\n"
	total := decimal.Zero
	for month := time.January; month <= time.December; month++ {
		amount, ok := m.monthly[month]
		if !ok || amount.IsZero() {
			continue
		}
		total = total.Add(amount)
		s += fmt.Sprintf("  %-10s %14s\n", month.String(), formatMoney(amount))
	}
	if total.IsZero() {
		return s + subtitleStyle.Render("  No paid invoices") + "\n"
	}
	return s + fmt.Sprintf("  %-10s %14s\n", "Total", amountStyle.Render(formatMoney(total)))
}
