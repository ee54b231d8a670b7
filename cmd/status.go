package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/forwarder/internal/adapters/render/status"
	"github.com/bnema/forwarder/internal/dispatch"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the credential pool and account overview",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ops := []string{dispatch.OpGetPoolStatistics, dispatch.OpGetAccountStatistics, dispatch.OpAccountList}
			results := make(map[string]dispatch.Result, len(ops))
			for _, op := range ops {
				result, err := c.dispatch(cmd, op, nil)
				if err != nil {
					return err
				}
				results[op] = result
			}

			if c.opts.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			pool := c.app.pool.Statistics()
			stats := c.app.auth.GetStatistics()
			return c.emit(cmd, dispatch.Result{}, func() (string, error) {
				return c.app.render(statusadapter.Snapshot{
					Pool:         &pool,
					AccountStats: &stats,
					Accounts:     c.app.auth.GetAccountList(),
				}, statusadapter.RenderOptions{Now: c.app.now()})
			})
		},
	}
}
