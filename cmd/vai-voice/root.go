package main

import (
	"io"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	envFiles []string
}

// newRootCmd builds the command tree. deps is only consulted by serve.
func newRootCmd(stdout, stderr io.Writer, deps serveDeps) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "vai-voice",
		Short: "Session-scoped voice assistant backend",
		Long: `vai-voice serves the chat and voice WebSockets, the Gmail & Calendar
OAuth endpoints and synthesized audio for browser sessions.

Configuration is read from the environment after loading any .env files.

Quick Start:
  vai-voice serve                 # run the HTTP/WebSocket server
  vai-voice session new           # mint a session id
  vai-voice rules match "今何時"   # dry-run the rule engine`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading configuration (existing variables win)")

	root.AddCommand(
		newServeCmd(opts, deps),
		newSessionCmd(opts),
		newRulesCmd(opts),
	)
	return root
}
