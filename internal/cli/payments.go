package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/andy/tallybook/internal/domain"
)

var paymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Record and reverse payments",
	Long: `Record payments against sent invoices. The invoice's paid amount and
status are recomputed from the full set of its payments after every change.`,
}

var paymentsAddCmd = &cobra.Command{
	Use:   "add [invoice_id_or_number] [amount]",
	Short: "Record a payment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		invoiceID, err := resolveInvoiceID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}

		var date time.Time
		if dateStr, _ := cmd.Flags().GetString("date"); dateStr != "" {
			if date, err = parseDate(dateStr); err != nil {
				return fmt.Errorf("invalid payment date: %w", err)
			}
		}
		methodStr, _ := cmd.Flags().GetString("method")
		method := domain.PaymentMethod(strings.ToLower(methodStr))
		reference, _ := cmd.Flags().GetString("reference")

		invoice, payment, err := appInstance.PaymentService.Apply(ctx, invoiceID, amount, date, method, reference)
		if err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}

		fmt.Printf("✓ Payment %d recorded on %s: %s\n", payment.ID, invoice.Number, formatMoney(payment.Amount))
		fmt.Printf("  Paid: %s of %s\n", formatMoney(invoice.AmountPaid), formatMoney(invoice.Total))
		fmt.Printf("  Status: %s\n", invoice.Status)
		return nil
	},
}

var paymentsListCmd = &cobra.Command{
	Use:   "list [invoice_id_or_number]",
	Short: "List the payments of an invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		invoice, err := resolveInvoice(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}

		payments, err := appInstance.PaymentService.List(ctx, invoice.ID)
		if err != nil {
			return fmt.Errorf("failed to list payments: %w", err)
		}

		if len(payments) == 0 {
			fmt.Printf("No payments recorded on %s\n", invoice.Number)
			return nil
		}

		fmt.Printf("%-5s %-11s %-12s %-14s %s\n", "ID", "Date", "Amount", "Method", "Reference")
		fmt.Println(strings.Repeat("-", 70))
		for _, p := range payments {
			fmt.Printf("%-5d %-11s %-12s %-14s %s\n",
				p.ID,
				p.Date.Local().Format(dateLayout),
				formatMoney(p.Amount),
				p.Method,
				p.Reference,
			)
		}

		fmt.Printf("\nPaid: %s of %s (balance %s)\n",
			formatMoney(invoice.AmountPaid), formatMoney(invoice.Total), formatMoney(invoice.Balance()))
		return nil
	},
}

var paymentsDeleteCmd = &cobra.Command{
	Use:   "delete [invoice_id_or_number] [payment_id]",
	Short: "Reverse a payment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		invoiceID, err := resolveInvoiceID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}
		paymentID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid payment ID: %w", err)
		}

		invoice, err := appInstance.PaymentService.Reverse(ctx, invoiceID, paymentID)
		if err != nil {
			return fmt.Errorf("failed to reverse payment: %w", err)
		}

		fmt.Printf("✓ Payment %d reversed\n", paymentID)
		fmt.Printf("  Paid: %s of %s\n", formatMoney(invoice.AmountPaid), formatMoney(invoice.Total))
		fmt.Printf("  Status: %s\n", invoice.Status)
		return nil
	},
}

func init() {
	paymentsCmd.AddCommand(paymentsAddCmd)
	paymentsCmd.AddCommand(paymentsListCmd)
	paymentsCmd.AddCommand(paymentsDeleteCmd)

	paymentsAddCmd.Flags().String("date", "", "Payment date (defaults to today)")
	paymentsAddCmd.Flags().String("method", string(domain.MethodBankTransfer), "cash, bank_transfer, card, cheque or other")
	paymentsAddCmd.Flags().String("reference", "", "Bank or receipt reference")
}
