package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/spf13/cobra"
)

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and create orders",
	}
	cmd.AddCommand(orderGetCmd())
	cmd.AddCommand(orderCreateCmd())
	return cmd
}

func orderGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [order-id]",
		Short: "Show an order with its payment state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc orderdomain.Service
			return runApp(cmd.Context(), func(ctx context.Context) error {
				order, err := svc.GetByID(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), order)
			}, &svc)
		},
	}
}

func orderCreateCmd() *cobra.Command {
	var (
		id       string
		subtotal string
		tax      string
		shipping string
		currency string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a PENDING order, standing in for checkout",
		Long: `Create a PENDING order, standing in for checkout.

Examples:
  storefrontctl order create --id ord_123 --subtotal 18.00 --tax 2.00
  storefrontctl order create --id ord_124 --subtotal 5 --currency EUR`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := orderdomain.CreateOrderRequest{ID: id, Currency: currency}
			for _, f := range []struct {
				name  string
				value string
				dst   *decimal.Decimal
			}{
				{"subtotal", subtotal, &req.Subtotal},
				{"tax", tax, &req.Tax},
				{"shipping", shipping, &req.Shipping},
			} {
				parsed, err := decimal.NewFromString(f.value)
				if err != nil {
					return fmt.Errorf("invalid --%s %q: %w", f.name, f.value, err)
				}
				*f.dst = parsed
			}

			var svc orderdomain.Service
			return runApp(cmd.Context(), func(ctx context.Context) error {
				order, err := svc.Create(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), order)
			}, &svc)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "merchant order id (required)")
	cmd.Flags().StringVar(&subtotal, "subtotal", "0", "order subtotal")
	cmd.Flags().StringVar(&tax, "tax", "0", "tax amount")
	cmd.Flags().StringVar(&shipping, "shipping", "0", "shipping amount")
	cmd.Flags().StringVar(&currency, "currency", "USD", "ISO 4217 currency code")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
