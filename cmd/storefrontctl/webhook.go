package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/adapters/razorpay"
	"github.com/smallbiznis/storefront/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/spf13/cobra"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Work with captured provider webhook deliveries",
	}
	cmd.AddCommand(webhookReplayCmd())
	cmd.AddCommand(webhookSignCmd())
	return cmd
}

func webhookReplayCmd() *cobra.Command {
	var (
		file    string
		headers []string
	)

	cmd := &cobra.Command{
		Use:   "replay [provider]",
		Short: "Push a captured webhook body through reconciliation",
		Long: `Push a captured webhook body through reconciliation.

The signature is not checked: the body is trusted because an operator captured
it. The ledger still applies, so replaying an event that was already recorded
is reported as a duplicate and changes nothing.

Examples:
  storefrontctl webhook replay stripe --file evt_123.json
  storefrontctl webhook replay razorpay --file pay.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			header, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			var svc paymentdomain.WebhookService
			return runApp(cmd.Context(), func(ctx context.Context) error {
				result, err := svc.Replay(ctx, args[0], payload, header)
				if printErr := printJSON(cmd.OutOrStdout(), result); printErr != nil {
					return printErr
				}
				return err
			}, &svc)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "raw webhook body (required)")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header as Name=Value, repeatable")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func webhookSignCmd() *cobra.Command {
	var (
		file   string
		secret string
	)

	cmd := &cobra.Command{
		Use:   "sign [stripe|razorpay]",
		Short: "Print the signature header a provider would send for a body",
		Long: `Print the signature header a provider would send for a body.

The secret defaults to the configured webhook secret for the provider.

Examples:
  storefrontctl webhook sign stripe --file evt_123.json
  curl -H "$(storefrontctl webhook sign stripe -f evt_123.json)" --data-binary @evt_123.json ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			provider := strings.ToLower(strings.TrimSpace(args[0]))
			line, err := signatureHeader(config.Load(), provider, secret, payload, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "raw webhook body (required)")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret, overrides configuration")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func signatureHeader(cfg config.Config, provider, secret string, payload []byte, now time.Time) (string, error) {
	switch provider {
	case "stripe":
		if secret == "" {
			secret = cfg.Webhooks.StripeSecret
		}
		if secret == "" {
			return "", fmt.Errorf("no stripe webhook secret configured")
		}
		return "Stripe-Signature: " + stripe.SignatureHeader(secret, payload, now.Unix()), nil
	case "razorpay":
		if secret == "" {
			secret = cfg.Webhooks.RazorpaySecret
		}
		if secret == "" {
			return "", fmt.Errorf("no razorpay webhook secret configured")
		}
		return "X-Razorpay-Signature: " + razorpay.Signature(secret, payload), nil
	default:
		return "", fmt.Errorf("cannot sign %q webhooks locally", provider)
	}
}

func parseHeaders(values []string) (http.Header, error) {
	header := http.Header{}
	for _, value := range values {
		name, v, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want Name=Value", value)
		}
		header.Add(name, strings.TrimSpace(v))
	}
	return header, nil
}
