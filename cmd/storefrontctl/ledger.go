package main

import (
	"context"

	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/spf13/cobra"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the payment event ledger",
	}
	cmd.AddCommand(ledgerListCmd())
	cmd.AddCommand(ledgerGetCmd())
	return cmd
}

func ledgerListCmd() *cobra.Command {
	var filter paymentdomain.ListLedgerFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded payment events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc paymentdomain.LedgerService
			return runApp(cmd.Context(), func(ctx context.Context) error {
				resp, err := svc.ListEvents(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			}, &svc)
		},
	}

	cmd.Flags().StringVar(&filter.OrderID, "order", "", "only events for this order id")
	cmd.Flags().StringVar(&filter.Provider, "provider", "", "only events from this provider")
	cmd.Flags().StringVar(&filter.PageToken, "page-token", "", "continue from a previous page")
	cmd.Flags().IntVarP(&filter.PageSize, "limit", "n", 50, "maximum events per page")

	return cmd
}

func ledgerGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [provider] [event-id]",
		Short: "Show one recorded payment event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc paymentdomain.LedgerService
			return runApp(cmd.Context(), func(ctx context.Context) error {
				record, err := svc.GetEvent(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			}, &svc)
		},
	}
}
