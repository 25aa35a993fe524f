package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/repository"
	"github.com/andy/tallybook/internal/service"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Manage invoices",
	Long:  `Create, list, and manage invoices, their lifecycle and their numbers.`,
}

var invoicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List invoices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var filter repository.InvoiceFilter

		if cmd.Flags().Changed("client") {
			clientArg, _ := cmd.Flags().GetString("client")
			id, err := resolveClientID(ctx, clientArg)
			if err != nil {
				return fmt.Errorf("failed to resolve client: %w", err)
			}
			filter.ClientID = &id
		}

		if cmd.Flags().Changed("status") {
			statusStr, _ := cmd.Flags().GetString("status")
			status, err := domain.ParseStatus(statusStr)
			if err != nil {
				return err
			}
			filter.Status = &status
		}

		if cmd.Flags().Changed("line") {
			lineStr, _ := cmd.Flags().GetString("line")
			line, err := domain.ParseLine(lineStr)
			if err != nil {
				return err
			}
			filter.Prefix = appInstance.NumberingService.Prefixes()[line]
		}

		invoices, err := appInstance.InvoiceService.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list invoices: %w", err)
		}

		if len(invoices) == 0 {
			fmt.Println("No invoices found")
			return nil
		}

		names := make(map[int64]string)
		fmt.Printf("%-5s %-14s %-20s %-11s %-12s %-12s %-15s %-8s\n",
			"ID", "Number", "Client", "Issued", "Total", "Paid", "Status", "Tier")
		fmt.Println(strings.Repeat("-", 104))

		for _, invoice := range invoices {
			name, ok := names[invoice.ClientID]
			if !ok {
				name = fmt.Sprintf("Client #%d", invoice.ClientID)
				if client, err := appInstance.ClientRepo.GetByID(ctx, invoice.ClientID); err == nil {
					name = client.Name
				}
				names[invoice.ClientID] = name
			}

			fmt.Printf("%-5d %-14s %-20s %-11s %-12s %-12s %-15s %-8s\n",
				invoice.ID,
				invoice.Number,
				truncate(name, 20),
				invoice.IssueDate.Local().Format(dateLayout),
				formatMoney(invoice.Total),
				formatMoney(invoice.AmountPaid),
				invoice.Status,
				domain.ResolveEditTier(invoice).Tier,
			)
		}

		fmt.Printf("\nTotal: %d invoice(s)\n", len(invoices))
		return nil
	},
}

var invoicesCreateCmd = &cobra.Command{
	Use:   "create [client_id_or_name]",
	Short: "Create a numbered invoice",
	Long: `Create an invoice and issue its number from the numbering line that
matches its kind: taxable (default), --exempt, or --write-off.

Line items are given as description:quantity:unit_price, e.g.
  tallybook invoices create Acme --item "Consulting:10:95.00" --item "Travel:1:120"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		clientID, err := resolveClientID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve client: %w", err)
		}

		exempt, _ := cmd.Flags().GetBool("exempt")
		writeOff, _ := cmd.Flags().GetBool("write-off")
		notes, _ := cmd.Flags().GetString("notes")
		items, _ := cmd.Flags().GetStringArray("item")

		in := service.CreateInvoiceInput{
			ClientID:   clientID,
			Notes:      notes,
			IsTaxable:  !exempt,
			IsWriteOff: writeOff,
		}

		for _, raw := range items {
			description, quantity, unitPrice, err := parseLineItem(raw)
			if err != nil {
				return err
			}
			in.LineItems = append(in.LineItems, service.LineItemInput{
				Description: description,
				Quantity:    quantity,
				UnitPrice:   unitPrice,
			})
		}

		if dateStr, _ := cmd.Flags().GetString("date"); dateStr != "" {
			if in.IssueDate, err = parseDate(dateStr); err != nil {
				return fmt.Errorf("invalid issue date: %w", err)
			}
		}
		if dueStr, _ := cmd.Flags().GetString("due"); dueStr != "" {
			due, err := parseDate(dueStr)
			if err != nil {
				return fmt.Errorf("invalid due date: %w", err)
			}
			in.DueDate = &due
		}

		taxStr := appInstance.Config.Invoice.DefaultTaxRate
		if cmd.Flags().Changed("tax") {
			taxStr, _ = cmd.Flags().GetString("tax")
		}
		if in.TaxRate, err = parseRate(taxStr); err != nil {
			return err
		}

		if discountStr, _ := cmd.Flags().GetString("discount"); discountStr != "" {
			if in.Discount, err = decimal.NewFromString(discountStr); err != nil {
				return fmt.Errorf("invalid discount: %w", err)
			}
		}

		invoice, err := appInstance.InvoiceService.Create(ctx, in)
		if err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}

		fmt.Printf("✓ Invoice created: %s (ID: %d)\n", invoice.Number, invoice.ID)
		fmt.Printf("  Client: %s\n", invoice.Client.Name)
		fmt.Printf("  Status: %s\n", invoice.Status)
		fmt.Printf("  Total:  %s\n", formatMoney(invoice.Total))
		if invoice.DueDate != nil {
			fmt.Printf("  Due:    %s\n", formatOptionalDate(invoice.DueDate))
		}

		return nil
	},
}

var invoicesShowCmd = &cobra.Command{
	Use:   "show [id_or_number]",
	Short: "Show invoice details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		invoice, err := resolveInvoice(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}

		clientName := fmt.Sprintf("Client #%d", invoice.ClientID)
		if invoice.Client != nil {
			clientName = invoice.Client.Name
		}

		fmt.Println(strings.Repeat("=", 80))
		fmt.Printf("Invoice: %s\n", invoice.Number)
		fmt.Println(strings.Repeat("=", 80))
		fmt.Printf("Client:       %s\n", clientName)
		fmt.Printf("Issued:       %s\n", invoice.IssueDate.Local().Format(dateLayout))
		fmt.Printf("Due:          %s\n", formatOptionalDate(invoice.DueDate))
		fmt.Printf("Status:       %s\n", invoice.Status)
		fmt.Printf("Registration: %s\n", invoice.Registration)
		if invoice.Notes != "" {
			fmt.Printf("Notes:        %s\n", invoice.Notes)
		}
		fmt.Println()

		if len(invoice.LineItems) > 0 {
			fmt.Println("Line Items:")
			fmt.Println(strings.Repeat("-", 80))
			fmt.Printf("%-44s %10s %11s %12s\n", "Description", "Qty", "Unit", "Amount")
			fmt.Println(strings.Repeat("-", 80))

			for _, item := range invoice.LineItems {
				fmt.Printf("%-44s %10s %11s %12s\n",
					truncate(item.Description, 44),
					item.Quantity.String(),
					formatMoney(item.UnitPrice),
					formatMoney(item.Amount),
				)
			}
			fmt.Println(strings.Repeat("-", 80))
		}

		fmt.Println()
		fmt.Printf("Subtotal: %s\n", formatMoney(invoice.Subtotal))
		if invoice.DiscountAmount.IsPositive() {
			fmt.Printf("Discount: -%s\n", formatMoney(invoice.DiscountAmount))
		}
		fmt.Printf("Tax (%s%%): %s\n", invoice.TaxRate.Mul(decimal.NewFromInt(100)).String(), formatMoney(invoice.TaxAmount))
		fmt.Printf("Total: %s\n", formatMoney(invoice.Total))
		fmt.Printf("Paid: %s\n", formatMoney(invoice.AmountPaid))
		fmt.Printf("Balance: %s\n", formatMoney(invoice.Balance()))
		fmt.Println(strings.Repeat("=", 80))

		es := domain.ResolveEditTier(invoice)
		fmt.Printf("Number edit tier: %s\n  %s\n", es.Tier, es.Message)

		return nil
	},
}

var invoicesTransitionCmd = &cobra.Command{
	Use:   "transition [id_or_number] [status]",
	Short: "Change an invoice's status",
	Long: `Apply a manual lifecycle transition. Allowed moves:
  draft          -> sent, cancelled
  sent, viewed   -> paid, partially_paid, overdue, cancelled
  partially_paid -> paid, overdue, cancelled
  overdue        -> paid, partially_paid, cancelled
  cancelled      -> draft
paid and written_off are terminal.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := resolveInvoiceID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}
		to, err := domain.ParseStatus(args[1])
		if err != nil {
			return err
		}

		invoice, err := appInstance.InvoiceService.Transition(ctx, id, to)
		if err != nil {
			return fmt.Errorf("failed to change status: %w", err)
		}

		fmt.Printf("✓ Invoice %s is now %s\n", invoice.Number, invoice.Status)
		if next := domain.AllowedTransitions(invoice.Status); len(next) > 0 {
			names := make([]string, 0, len(next))
			for _, s := range next {
				names = append(names, string(s))
			}
			fmt.Printf("  Next: %s\n", strings.Join(names, ", "))
		}
		return nil
	},
}

var invoicesViewCmd = &cobra.Command{
	Use:   "view [id_or_number]",
	Short: "Record that the recipient opened a sent invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := resolveInvoiceID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}

		invoice, changed, err := appInstance.InvoiceService.RecordView(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to record view: %w", err)
		}

		if changed {
			fmt.Printf("✓ Invoice %s marked as viewed\n", invoice.Number)
		} else {
			fmt.Printf("Invoice %s is %s; nothing to record\n", invoice.Number, invoice.Status)
		}
		return nil
	},
}

var invoicesCheckOverdueCmd = &cobra.Command{
	Use:   "check-overdue",
	Short: "Move open invoices past their due date to overdue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		asOf := time.Now()
		if dateStr, _ := cmd.Flags().GetString("as-of"); dateStr != "" {
			var err error
			if asOf, err = parseDate(dateStr); err != nil {
				return fmt.Errorf("invalid date: %w", err)
			}
		}

		moved, err := appInstance.InvoiceService.CheckOverdue(ctx, asOf)
		for _, invoice := range moved {
			fmt.Printf("  %s overdue since %s\n", invoice.Number, formatOptionalDate(invoice.DueDate))
		}
		if err != nil {
			return fmt.Errorf("failed to check overdue invoices: %w", err)
		}

		fmt.Printf("✓ %d invoice(s) marked overdue\n", len(moved))
		return nil
	},
}

var invoicesEditStatusCmd = &cobra.Command{
	Use:   "edit-status [id_or_number]",
	Short: "Show whether an invoice's number may be changed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := resolveInvoiceID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}

		es, err := appInstance.InvoiceService.EditStatus(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to resolve edit tier: %w", err)
		}

		fmt.Printf("Tier: %s\n%s\n", es.Tier, es.Message)
		return nil
	},
}

var invoicesRenumberCmd = &cobra.Command{
	Use:   "renumber [id_or_number] [new_number]",
	Short: "Change an invoice's number (audited)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := resolveInvoiceID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}
		reason, _ := cmd.Flags().GetString("reason")

		es, err := appInstance.InvoiceService.EditStatus(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to resolve edit tier: %w", err)
		}
		if es.Tier == domain.TierWarning {
			yes, _ := cmd.Flags().GetBool("yes")
			fmt.Println("! " + es.Message)
			if !yes && !confirmPrompt("Change the number anyway?") {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		_, record, err := appInstance.InvoiceService.Renumber(ctx, domain.RenumberRequest{
			InvoiceID: id,
			NewNumber: args[1],
			Reason:    reason,
			Actor:     actor(cmd),
		})
		if err != nil {
			return fmt.Errorf("failed to renumber invoice: %w", explain(err))
		}

		fmt.Printf("✓ %s renumbered to %s\n", record.OldNumber, record.NewNumber)
		return nil
	},
}

var invoicesHistoryCmd = &cobra.Command{
	Use:   "history [id_or_number]",
	Short: "Show the number change trail of an invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := resolveInvoiceID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}

		records, err := appInstance.InvoiceService.History(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}

		if len(records) == 0 {
			fmt.Println("No number changes recorded")
			return nil
		}

		printNumberChanges(records)
		return nil
	},
}

func printNumberChanges(records []*domain.NumberChangeRecord) {
	fmt.Printf("%-17s %-14s %-14s %-15s %-12s %s\n", "When", "Old", "New", "Status", "Actor", "Reason")
	fmt.Println(strings.Repeat("-", 100))
	for _, rec := range records {
		fmt.Printf("%-17s %-14s %-14s %-15s %-12s %s\n",
			rec.ChangedAt.Local().Format("2006-01-02 15:04"),
			rec.OldNumber,
			rec.NewNumber,
			rec.StatusAtChange,
			truncate(rec.Actor, 12),
			rec.Reason,
		)
	}
}

var invoicesRegisterCmd = &cobra.Command{
	Use:   "register [id_or_number] [not_submitted|submitted|rejected]",
	Short: "Record the tax authority registration state",
	Long: `Record whether an invoice has been registered with the tax authority.
Once submitted the invoice number is locked permanently.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := resolveInvoiceID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}
		status := domain.RegistrationStatus(strings.ToLower(strings.TrimSpace(args[1])))

		invoice, err := appInstance.InvoiceService.SetRegistration(ctx, id, status, actor(cmd))
		if err != nil {
			return fmt.Errorf("failed to update registration: %w", err)
		}

		fmt.Printf("✓ Invoice %s registration: %s\n", invoice.Number, invoice.Registration)
		return nil
	},
}

var invoicesCanDeleteCmd = &cobra.Command{
	Use:   "can-delete [id_or_number]",
	Short: "Check whether an invoice may be deleted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := resolveInvoiceID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}

		if err := appInstance.InvoiceService.CheckDeletable(ctx, id); err != nil {
			return err
		}

		fmt.Println("✓ Invoice may be deleted")
		return nil
	},
}

func init() {
	invoicesCmd.AddCommand(invoicesListCmd)
	invoicesCmd.AddCommand(invoicesCreateCmd)
	invoicesCmd.AddCommand(invoicesShowCmd)
	invoicesCmd.AddCommand(invoicesTransitionCmd)
	invoicesCmd.AddCommand(invoicesViewCmd)
	invoicesCmd.AddCommand(invoicesCheckOverdueCmd)
	invoicesCmd.AddCommand(invoicesEditStatusCmd)
	invoicesCmd.AddCommand(invoicesRenumberCmd)
	invoicesCmd.AddCommand(invoicesHistoryCmd)
	invoicesCmd.AddCommand(invoicesRegisterCmd)
	invoicesCmd.AddCommand(invoicesCanDeleteCmd)

	// List flags
	invoicesListCmd.Flags().String("client", "", "Filter by client ID or name")
	invoicesListCmd.Flags().String("status", "", "Filter by status")
	invoicesListCmd.Flags().String("line", "", "Filter by numbering line (taxable, exempt, write_off)")

	// Create flags
	invoicesCreateCmd.Flags().StringArray("item", nil, "Line item as description:quantity:unit_price (repeatable, required)")
	invoicesCreateCmd.MarkFlagRequired("item")
	invoicesCreateCmd.Flags().Bool("exempt", false, "Issue from the tax-exempt line")
	invoicesCreateCmd.Flags().Bool("write-off", false, "Issue from the write-off line")
	invoicesCreateCmd.Flags().String("date", "", "Issue date (defaults to today)")
	invoicesCreateCmd.Flags().String("due", "", "Due date (defaults to the client's payment term)")
	invoicesCreateCmd.Flags().String("tax", "", "Tax rate as fraction or percentage (taxable line only)")
	invoicesCreateCmd.Flags().String("discount", "", "Discount amount")
	invoicesCreateCmd.Flags().String("notes", "", "Notes printed on the invoice")

	invoicesCheckOverdueCmd.Flags().String("as-of", "", "Reference date (defaults to now)")

	invoicesRenumberCmd.Flags().String("reason", "", "Reason recorded in the audit trail (required)")
	invoicesRenumberCmd.MarkFlagRequired("reason")
	invoicesRenumberCmd.Flags().Bool("yes", false, "Skip the confirmation for already issued invoices")
}
