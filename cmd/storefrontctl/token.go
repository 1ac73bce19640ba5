package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/storefront/internal/auth/tokenhash"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage operator API tokens",
	}
	cmd.AddCommand(tokenHashCmd())
	return cmd
}

func tokenHashCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Hash an operator token for ADMIN_TOKEN_HASHES",
		Long: `Hash an operator token for ADMIN_TOKEN_HASHES.

The token is read from the first line of stdin so it stays out of shell
history. The output is one role:hash entry.

Examples:
  printf '%s' "$OPS_TOKEN" | storefrontctl token hash --role ops`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := hashTokenEntry(cmd.InOrStdin(), role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), line)
			return err
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "authorization role for the token (required)")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func hashTokenEntry(in io.Reader, role string) (string, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return "", errors.New("role is required")
	}

	token, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token is empty")
	}

	hash, err := tokenhash.Hash(token)
	if err != nil {
		return "", err
	}
	return role + ":" + hash, nil
}
