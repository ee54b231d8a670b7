package cmd

import (
	"bufio"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/forwarder/internal/adapters/render/status"
	"github.com/bnema/forwarder/internal/dispatch"
	"github.com/bnema/forwarder/internal/domain"
)

func newCredentialCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage the API credential pool",
	}

	cmd.AddCommand(
		newCredentialAddCmd(c),
		newCredentialRemoveCmd(c),
		newCredentialListCmd(c),
		newCredentialInfoCmd(c),
		newCredentialStatusCmd(c, "disable", domain.CredentialStatusDisabled, "Exclude a credential from new allocations"),
		newCredentialStatusCmd(c, "enable", domain.CredentialStatusActive, "Allow new allocations on a credential"),
	)

	return cmd
}

func newCredentialAddCmd(c *cli) *cobra.Command {
	var capacity int
	var secret string

	cmd := &cobra.Command{
		Use:   "add <credential-id>",
		Short: "Add a credential slot; the secret is read from stdin when --secret is empty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				line, err := readLine(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return fmt.Errorf("read credential secret: %w", err)
				}
				secret = line
			}

			return c.runOp(cmd, dispatch.OpCredentialAdd, map[string]string{
				dispatch.ArgCredentialID: args[0],
				dispatch.ArgSecret:       secret,
				dispatch.ArgMaxCapacity:  strconv.Itoa(capacity),
			}, nil)
		},
	}

	cmd.Flags().IntVar(&capacity, "capacity", 0, "Maximum number of accounts this credential may back")
	cmd.Flags().StringVar(&secret, "secret", "", "Credential secret")
	_ = cmd.MarkFlagRequired("capacity")

	return cmd
}

func newCredentialRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <credential-id>",
		Short: "Remove an unassigned credential slot and its secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runOp(cmd, dispatch.OpCredentialRemove, map[string]string{
				dispatch.ArgCredentialID: args[0],
			}, nil)
		},
	}
}

func newCredentialListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credential slots and their assignments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runOp(cmd, dispatch.OpCredentialInfo, nil, func() (string, error) {
				stats := c.app.pool.Statistics()
				return c.app.render(statusadapter.Snapshot{Pool: &stats}, statusadapter.RenderOptions{Now: c.app.now()})
			})
		},
	}
}

func newCredentialInfoCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "info <account-id>",
		Short: "Show the credential backing an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runOp(cmd, dispatch.OpCredentialInfo, map[string]string{
				dispatch.ArgAccountID: args[0],
			}, nil)
		},
	}
}

func newCredentialStatusCmd(c *cli, use string, status domain.CredentialStatus, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <credential-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runOp(cmd, dispatch.OpCredentialStatus, map[string]string{
				dispatch.ArgCredentialID: args[0],
				dispatch.ArgStatus:       string(status),
			}, nil)
		},
	}
}
