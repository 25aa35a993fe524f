package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/service"
)

var numberingCmd = &cobra.Command{
	Use:   "numbering",
	Short: "Inspect and maintain the numbering lines",
	Long: `Each numbering line (taxable, exempt, write_off) has its own prefix and
counter. These commands provision counters, audit the issued sequences for
gaps and close gaps among unissued drafts.`,
}

var numberingCountersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Show the counter of every numbering line",
	RunE: func(cmd *cobra.Command, args []string) error {
		counters, err := appInstance.NumberingService.ListCounters(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list counters: %w", err)
		}

		if len(counters) == 0 {
			fmt.Println("No counters provisioned; run 'tallybook numbering provision'")
			return nil
		}

		fmt.Printf("%-10s %-8s %-8s %s\n", "Line", "Prefix", "Next", "Next number")
		fmt.Println(strings.Repeat("-", 45))
		for _, c := range counters {
			fmt.Printf("%-10s %-8s %-8d %s\n", c.Line, c.Prefix, c.NextValue, domain.FormatNumber(c.Prefix, c.NextValue))
		}
		return nil
	},
}

var numberingProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create missing counters from the configured prefixes",
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := appInstance.NumberingService.Provision(cmd.Context(), actor(cmd))
		if err != nil {
			return fmt.Errorf("failed to provision counters: %w", err)
		}

		if len(created) == 0 {
			fmt.Println("All numbering lines are already provisioned")
			return nil
		}
		for _, line := range created {
			fmt.Printf("✓ Provisioned %s\n", line)
		}
		return nil
	},
}

var numberingIssueCmd = &cobra.Command{
	Use:   "issue [line]",
	Short: "Consume and print the next number of a line",
	Long: `Consume the next number of a line without creating an invoice. The
number is gone for good; use this only to reserve numbers for documents
kept outside tallybook.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := domain.ParseLine(args[0])
		if err != nil {
			return err
		}

		number, err := appInstance.NumberingService.Issue(cmd.Context(), line)
		if err != nil {
			return fmt.Errorf("failed to issue number: %w", err)
		}

		fmt.Println(number)
		return nil
	},
}

var numberingGapsCmd = &cobra.Command{
	Use:   "gaps [line]",
	Short: "Audit a numbering line for missing and duplicate numbers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := domain.ParseLine(args[0])
		if err != nil {
			return err
		}

		report, err := appInstance.ReportService.DetectGaps(cmd.Context(), line)
		if err != nil {
			return fmt.Errorf("failed to detect gaps: %w", err)
		}

		fmt.Printf("Line %s (prefix %s)\n", report.Line, report.Prefix)
		fmt.Printf("  Highest number: %d\n", report.HighestNumber)
		fmt.Printf("  Issued:         %d\n", report.TotalIssued)
		printNumberList("Missing", report.MissingNumbers)
		printNumberList("Duplicates", report.Duplicates)
		printNumberList("Cancelled", report.CancelledNumbers)

		if !report.HasGaps() {
			fmt.Println("✓ No gaps")
		}
		return nil
	},
}

func printNumberList(label string, numbers []string) {
	if len(numbers) == 0 {
		return
	}
	fmt.Printf("  %-15s %s\n", label+":", strings.Join(numbers, ", "))
}

var numberingResequenceCmd = &cobra.Command{
	Use:   "resequence [line]",
	Short: "Renumber unissued invoices of a line consecutively",
	Long: `Renumber the drafts of the taxable or exempt line (or the written-off
invoices of the write_off line) to consecutive numbers from --start, oldest
first. Numbers held by any other invoice are skipped. Every change is
recorded in the number change trail.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := domain.ParseLine(args[0])
		if err != nil {
			return err
		}
		start, _ := cmd.Flags().GetInt64("start")

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			plan, err := appInstance.NumberingService.PlanResequence(cmd.Context(), line, start)
			if err != nil {
				return fmt.Errorf("failed to plan resequence: %w", err)
			}
			printResequence(plan)
			fmt.Printf("Dry run: %d invoice(s) would be renumbered, %d skipped\n", len(plan.Changes), len(plan.Skipped))
			return nil
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirmPrompt(fmt.Sprintf("Resequence the %s line from %d?", line, start)) {
			fmt.Println("Cancelled.")
			return nil
		}

		result, err := appInstance.NumberingService.Resequence(cmd.Context(), line, start, actor(cmd))
		if result != nil {
			printResequence(result)
		}
		if err != nil {
			return fmt.Errorf("resequence stopped: %w", err)
		}

		fmt.Printf("✓ %d invoice(s) renumbered, %d skipped\n", len(result.Changes), len(result.Skipped))
		return nil
	},
}

func printResequence(result *service.ResequenceResult) {
	for _, c := range result.Changes {
		fmt.Printf("  %s -> %s\n", c.OldNumber, c.NewNumber)
	}
	for _, s := range result.Skipped {
		fmt.Printf("  skipped %s: %s\n", s.Number, s.Reason)
	}
}

var numberingAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the administrative log",
	Long: `Show provisioning, resequence and registration events, newest first.
The log is append-only; entries survive everything except 'tallybook reset'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("action")
		action, err := parseAuditAction(raw)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := appInstance.AuditRepo.List(cmd.Context(), action, limit)
		if err != nil {
			return fmt.Errorf("failed to list audit log: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No audit entries")
			return nil
		}

		fmt.Printf("%-16s %-13s %-10s %-12s %s\n", "When", "Action", "Line", "Actor", "Detail")
		fmt.Println(strings.Repeat("-", 80))
		for _, e := range entries {
			fmt.Println(formatAuditEntry(e))
		}
		return nil
	},
}

var numberingReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Compliance report across every numbering line",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := appInstance.ReportService.ComplianceReport(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to build report: %w", err)
		}

		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("Compliance report %s\n", report.GeneratedAt.Local().Format("2006-01-02 15:04"))
		fmt.Println(strings.Repeat("=", 60))

		for _, r := range report.Lines {
			state := "ok"
			if r.HasGaps() {
				state = fmt.Sprintf("%d missing", len(r.MissingNumbers))
			}
			if len(r.Duplicates) > 0 {
				state += fmt.Sprintf(", %d duplicate", len(r.Duplicates))
			}
			fmt.Printf("%-10s %-6s issued %-5d highest %-5d %s\n", r.Line, r.Prefix, r.TotalIssued, r.HighestNumber, state)
		}

		fmt.Println()
		fmt.Printf("Locked invoices: %d\n", report.LockedInvoices)
		fmt.Printf("Open invoices:   %d (outstanding %s)\n", report.OpenInvoices, formatMoney(report.Outstanding))

		if len(report.RecentChanges) > 0 {
			fmt.Println()
			fmt.Println("Recent number changes:")
			printNumberChanges(report.RecentChanges)
		}
		return nil
	},
}

func init() {
	numberingCmd.AddCommand(numberingCountersCmd)
	numberingCmd.AddCommand(numberingProvisionCmd)
	numberingCmd.AddCommand(numberingIssueCmd)
	numberingCmd.AddCommand(numberingGapsCmd)
	numberingCmd.AddCommand(numberingResequenceCmd)
	numberingCmd.AddCommand(numberingReportCmd)
	numberingCmd.AddCommand(numberingAuditCmd)

	numberingResequenceCmd.Flags().Int64("start", 1, "First number to assign")
	numberingResequenceCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
	numberingResequenceCmd.Flags().Bool("dry-run", false, "Show the changes without writing them")

	numberingAuditCmd.Flags().String("action", "", "Only show one action (provision, resequence, registration)")
	numberingAuditCmd.Flags().Int("limit", 50, "Maximum number of entries (0 for all)")
}
