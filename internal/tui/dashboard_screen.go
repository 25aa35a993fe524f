package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/andy/tallybook/internal/app"
	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/service"
)

// recentChangesShown bounds the change list on the dashboard
const recentChangesShown = 8

// DashboardModel represents the dashboard home screen
type DashboardModel struct {
	app *app.App

	counters []*domain.NumberingCounter
	report   *service.ComplianceReport

	loading bool
	err     error
}

type dashboardDataMsg struct {
	counters []*domain.NumberingCounter
	report   *service.ComplianceReport
	err      error
}

// NewDashboardModel creates a new dashboard model
func NewDashboardModel(a *app.App) tea.Model {
	return &DashboardModel{
		app:     a,
		loading: true,
	}
}

func (m *DashboardModel) Init() tea.Cmd {
	return m.loadData()
}

func (m *DashboardModel) loadData() tea.Cmd {
	a := m.app
	return func() tea.Msg {
		ctx := context.Background()

		counters, err := a.NumberingService.ListCounters(ctx)
		if err != nil {
			return dashboardDataMsg{err: fmt.Errorf("counters: %w", err)}
		}

		report, err := a.ReportService.ComplianceReport(ctx)
		if err != nil {
			return dashboardDataMsg{err: fmt.Errorf("compliance report: %w", err)}
		}

		return dashboardDataMsg{counters: counters, report: report}
	}
}

func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		m.loading = false
		m.err = msg.err
		m.counters = msg.counters
		m.report = msg.report
		return m, nil

	case RefreshDataMsg:
		m.loading = true
		return m, m.loadData()
	}

	return m, nil
}

func (m *DashboardModel) View() string {
	if m.loading {
		return "Loading dashboard..."
	}

	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	var b strings.Builder

	fmt.Fprintf(&b, "  Outstanding:  %s   Open invoices: %d   Locked invoices: %d\n",
		amountStyle.Render(formatMoney(m.report.Outstanding)),
		m.report.OpenInvoices,
		m.report.LockedInvoices,
	)

	b.WriteString("\n" + titleStyle.Render("  Numbering Lines") + "\n")
	if len(m.counters) == 0 {
		b.WriteString(subtitleStyle.Render("  No counters provisioned") + "\n")
	}
	gaps := make(map[domain.Line]*service.GapReport, len(m.report.Lines))
	for _, r := range m.report.Lines {
		gaps[r.Line] = r
	}
	for _, c := range m.counters {
		audit := statusStyle.Render("no gaps")
		if r, ok := gaps[c.Line]; ok && r.HasGaps() {
			audit = tierWarningStyle.Render(fmt.Sprintf("%d missing", len(r.MissingNumbers)))
		}
		fmt.Fprintf(&b, "  %-10s %-6s next %-12s %s\n",
			c.Line, c.Prefix, domain.FormatNumber(c.Prefix, c.NextValue), audit)
	}

	b.WriteString("\n" + titleStyle.Render("  Recent Number Changes") + "\n")
	if len(m.report.RecentChanges) == 0 {
		b.WriteString(subtitleStyle.Render("  No number changes recorded") + "\n")
	}
	for i, c := range m.report.RecentChanges {
		if i == recentChangesShown {
			break
		}
		fmt.Fprintf(&b, "  %s  %-12s -> %-12s %-10s %s\n",
			c.ChangedAt.Local().Format("Jan 02 15:04"),
			c.OldNumber,
			c.NewNumber,
			c.Actor,
			subtitleStyle.Render(truncateStr(c.Reason, 30)),
		)
	}

	return b.String()
}
