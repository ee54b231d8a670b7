package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	statusadapter "github.com/bnema/forwarder/internal/adapters/render/status"
	"github.com/bnema/forwarder/internal/config"
	"github.com/bnema/forwarder/internal/dispatch"
	"github.com/bnema/forwarder/internal/lifecycle"
)

const statusMonitorComponent = "status_monitor"

func newServeCmd(c *cli) *cobra.Command {
	var requests bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the forwarder under the lifecycle supervisor until interrupted",
		Long:  "serve starts the credential pool, the account authenticator and the config watcher, then waits for SIGINT or SIGTERM. SIGHUP reloads the config. With --requests, newline-delimited JSON requests are read from stdin and answered on stdout until stdin closes.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd, requests)
		},
	}

	cmd.Flags().BoolVar(&requests, "requests", false, "Answer JSON requests read from stdin")

	return cmd
}

func (c *cli) serve(cmd *cobra.Command, requests bool) error {
	cfg := c.app.store.Current()
	logger := c.app.logger

	var sup *lifecycle.Supervisor
	components := []lifecycle.Component{c.app.pool, c.app.auth}

	var watcher *config.Watcher
	if cfg.Watch {
		watcher = config.NewWatcher(c.app.store, func(ctx context.Context) error {
			return sup.OnConfigChanged(ctx)
		}, logger)
		components = append(components, watcher)
	}
	if cfg.Supervisor.StatusInterval > 0 {
		components = append(components, lifecycle.NewPeriodic(statusMonitorComponent, cfg.Supervisor.StatusInterval, func(ctx context.Context) {
			status := sup.GetStatus(ctx)
			logger.Info("supervisor status", zap.String("run_id", status.RunID), zap.Bool("running", status.Running), zap.Strings("errors", status.Errors))
		}))
	}

	sup, err := lifecycle.New(components,
		lifecycle.WithLogger(logger),
		lifecycle.WithStopGrace(cfg.Supervisor.StopGrace),
	)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start forwarder: %w", err)
	}

	out := cmd.OutOrStdout()
	status := sup.GetStatus(ctx)
	if !c.opts.json {
		rendered, err := c.app.render(statusadapter.Snapshot{Supervisor: &status}, statusadapter.RenderOptions{Now: c.app.now()})
		if err != nil {
			return fmt.Errorf("render status: %w", err)
		}
		_, _ = fmt.Fprintf(out, "forwarder running (run %s)\n%s\n", status.RunID, rendered)
	}

	var inputDone chan error
	if requests {
		inputDone = make(chan error, 1)
		go func() {
			inputDone <- c.answerRequests(ctx, cmd.InOrStdin(), out)
		}()
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-hup:
			if err := reloadConfig(ctx, sup, watcher); err != nil {
				logger.Warn("config reload failed", zap.Error(err))
			}
		case err := <-inputDone:
			runErr = err
			break loop
		}
	}

	if err := sup.Stop(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("stop forwarder: %w", err)
	}
	if !c.opts.json {
		_, _ = fmt.Fprintln(out, "forwarder stopped")
	}
	return runErr
}

func reloadConfig(ctx context.Context, sup *lifecycle.Supervisor, watcher *config.Watcher) error {
	if watcher != nil {
		return watcher.ReloadNow(ctx)
	}
	return sup.OnConfigChanged(ctx)
}

// answerRequests dispatches one JSON request per input line and writes one
// JSON result per line. Malformed lines get a validation_error result.
func (c *cli) answerRequests(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	enc := json.NewEncoder(out)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req dispatch.Request
		var result dispatch.Result
		if err := json.Unmarshal(line, &req); err != nil {
			result = dispatch.Result{Status: dispatch.StatusValidation, Message: fmt.Sprintf("decode request: %v", err)}
		} else {
			result = c.app.dispatcher.Dispatch(ctx, req)
		}

		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}
