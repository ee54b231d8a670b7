package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/bnema/forwarder/internal/dispatch"
)

// resultError is a non-success Result surfaced as a command error.
type resultError struct {
	result dispatch.Result
}

func (e *resultError) Error() string {
	return e.result.Message
}

func resultStatus(err error) dispatch.Status {
	var resultErr *resultError
	if errors.As(err, &resultErr) {
		return resultErr.result.Status
	}
	return ""
}

func (c *cli) dispatch(cmd *cobra.Command, op string, args map[string]string) (dispatch.Result, error) {
	if err := c.app.open(cmd.Context()); err != nil {
		return dispatch.Result{}, err
	}

	result := c.app.dispatcher.Dispatch(cmd.Context(), dispatch.Request{
		Caller:    dispatch.LocalCaller,
		Operation: op,
		Args:      args,
	})
	if !result.OK() {
		return result, &resultError{result: result}
	}
	return result, nil
}

// runOp dispatches op and prints the result. render produces the text form;
// nil prints the result message.
func (c *cli) runOp(cmd *cobra.Command, op string, args map[string]string, render func() (string, error)) error {
	result, err := c.dispatch(cmd, op, args)
	if err != nil {
		if c.opts.json && resultStatus(err) != "" {
			_ = c.emit(cmd, result, nil)
		}
		return err
	}
	return c.emit(cmd, result, render)
}

func (c *cli) emit(cmd *cobra.Command, result dispatch.Result, render func() (string, error)) error {
	out := cmd.OutOrStdout()
	if c.opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	text := sanitizeForTerminal(result.Message)
	if render != nil {
		rendered, err := render()
		if err != nil {
			return fmt.Errorf("render status: %w", err)
		}
		text = rendered
	}

	_, err := fmt.Fprintln(out, text)
	return err
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func sanitizeForTerminal(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, value)
}
