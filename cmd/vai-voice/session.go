package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-voice/internal/dotenv"
	"github.com/vango-go/vai-voice/pkg/core/session"
)

func newSessionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Mint or delete session ids",
	}

	var root string
	cmd.PersistentFlags().StringVar(&root, "root", "", "session root (default $SESSION_ROOT or $DATA_DIR/sessions)")

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Print a fresh session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), uuid.NewString())
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <session-id>",
		Short: "Delete every artifact stored for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dotenv.LoadFiles(opts.envFiles...); err != nil {
				return err
			}
			store, err := session.NewStore(sessionRoot(root))
			if err != nil {
				return err
			}
			id := args[0]
			if !session.Validate(id) {
				return fmt.Errorf("%w: %q", session.ErrInvalidSession, id)
			}
			existed := store.Exists(id)
			if err := store.Remove(id); err != nil {
				return err
			}
			if existed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed session %s\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "session %s had no stored data\n", id)
			}
			return nil
		},
	})
	return cmd
}

// sessionRoot mirrors the SESSION_ROOT default in config.LoadFromEnv without
// validating the rest of the server configuration.
func sessionRoot(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("SESSION_ROOT"); v != "" {
		return v
	}
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	return filepath.Join(dataDir, "sessions")
}
