package cmd

import (
	"github.com/spf13/cobra"
)

const skipWiringAnnotation = "forwarder/skip-wiring"

type rootOptions struct {
	configPath string
	verbose    bool
	json       bool
}

// cli carries the parsed root flags and the app wired from them. The app is
// built in PersistentPreRunE so it sees the final flag values.
type cli struct {
	opts rootOptions
	app  *app
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "fwd",
		Short:         "forwarder (fwd): run managed chat accounts over a pool of API credentials",
		Long:          "fwd manages the API credential pool, drives account login handshakes against the chat platform, and runs the forwarder service under a lifecycle supervisor.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipWiringAnnotation] == "true" {
				return nil
			}

			// Loopback codes go where the user reads prompts; JSON output
			// stays parseable.
			inbox := cmd.OutOrStdout()
			if c.opts.json {
				inbox = cmd.ErrOrStderr()
			}
			app, err := wireApp(c.opts, inbox)
			if err != nil {
				return err
			}
			c.app = app
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.close(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.opts.configPath, "config", "", "Config file (default ~/.forwarder/config.toml)")
	flags.BoolVarP(&c.opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&c.opts.json, "json", false, "Print results as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newCredentialCmd(c),
		newAccountCmd(c),
		newStatusCmd(c),
		newServeCmd(c),
	)

	return rootCmd
}
