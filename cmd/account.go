package cmd

import (
	"bufio"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/forwarder/internal/adapters/render/status"
	"github.com/bnema/forwarder/internal/application"
	"github.com/bnema/forwarder/internal/dispatch"
	"github.com/bnema/forwarder/internal/domain"
)

func newAccountCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		newAccountLoginCmd(c),
		newAccountRemoveCmd(c),
		newAccountListCmd(c),
		newAccountStatsCmd(c),
	)

	return cmd
}

func newAccountLoginCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "login <account-id>",
		Short: "Log an account in; codes are read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.login(cmd, args[0])
		},
	}
}

func newAccountRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Remove an account and release its credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runOp(cmd, dispatch.OpRemoveAccount, map[string]string{
				dispatch.ArgAccountID: args[0],
			}, nil)
		},
	}
}

func newAccountListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List managed accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runOp(cmd, dispatch.OpAccountList, nil, func() (string, error) {
				return c.app.render(statusadapter.Snapshot{Accounts: c.app.auth.GetAccountList()}, statusadapter.RenderOptions{Now: c.app.now()})
			})
		},
	}
}

func newAccountStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show account status counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runOp(cmd, dispatch.OpGetAccountStatistics, nil, func() (string, error) {
				stats := c.app.auth.GetStatistics()
				return c.app.render(statusadapter.Snapshot{AccountStats: &stats}, statusadapter.RenderOptions{Now: c.app.now()})
			})
		},
	}
}

// login drives the handshake interactively. Wrong codes are retried until
// the platform accepts one or the attempt budget runs out; end of input
// cancels the login.
func (c *cli) login(cmd *cobra.Command, account string) error {
	result, err := c.startLogin(cmd, account)
	if err != nil {
		if c.opts.json && resultStatus(err) != "" {
			_ = c.emit(cmd, result, nil)
		}
		return err
	}
	if err := c.emit(cmd, result, nil); err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	step, _ := result.Data.(application.LoginStep)
	for step.State != domain.SessionStateAuthenticated {
		op, arg, label := dispatch.OpSubmitChallengeResponse, dispatch.ArgCode, "code"
		if step.State == domain.SessionStateAwaitingSecondFactor {
			op, arg, label = dispatch.OpSubmitSecondFactor, dispatch.ArgSecret, "password"
		}

		if !c.opts.json {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ", label)
		}
		line, readErr := readLine(in)
		if readErr != nil {
			_, _ = c.dispatch(cmd, dispatch.OpCancelLogin, map[string]string{dispatch.ArgAccountID: account})
			return fmt.Errorf("read %s: %w", label, readErr)
		}

		result, err = c.dispatch(cmd, op, map[string]string{dispatch.ArgAccountID: account, arg: line})
		if next, ok := result.Data.(application.LoginStep); ok {
			step = next
		}
		if emitErr := c.emit(cmd, result, nil); emitErr != nil {
			return emitErr
		}

		switch status := resultStatus(err); {
		case err == nil:
		case status == dispatch.StatusAuthenticationFailed && step.State != domain.SessionStateFailed:
		case status == dispatch.StatusValidation:
		default:
			return err
		}
	}

	return nil
}

func (c *cli) startLogin(cmd *cobra.Command, account string) (dispatch.Result, error) {
	args := map[string]string{dispatch.ArgAccountID: account}
	if c.opts.json {
		return c.dispatch(cmd, dispatch.OpStartLogin, args)
	}

	var result dispatch.Result
	err := runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), fmt.Sprintf("Sending login code to %s...", account), func(context.Context) error {
		var err error
		result, err = c.dispatch(cmd, dispatch.OpStartLogin, args)
		return err
	})
	return result, err
}
