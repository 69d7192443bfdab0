package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-voice/internal/dotenv"
	"github.com/vango-go/vai-voice/pkg/core/rules"
)

func newRulesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rule table",
	}

	var file string
	cmd.PersistentFlags().StringVar(&file, "file", "", "rules YAML (default $RULES_FILE, else the built-in table)")

	load := func(explicit string) ([]rules.Rule, error) {
		if err := dotenv.LoadFiles(opts.envFiles...); err != nil {
			return nil, err
		}
		path := explicit
		if path == "" {
			path = os.Getenv("RULES_FILE")
		}
		if path == "" {
			return rules.Default()
		}
		return rules.LoadFile(path)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a rules file and print it in priority order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if len(args) == 1 {
				path = args[0]
			}
			table, err := load(path)
			if err != nil {
				return err
			}

			sorted := append([]rules.Rule(nil), table...)
			sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRIORITY\tNAME\tPATTERNS\tANSWER")
			for _, r := range sorted {
				answer := fmt.Sprintf("%d responses", len(r.Responses))
				if r.Action != "" {
					answer = "action:" + string(r.Action)
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", r.Priority, r.Name, len(r.Patterns), answer)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rules ok\n", len(table))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "match <text>",
		Short: "Dry-run the rule engine against one utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := load(file)
			if err != nil {
				return err
			}
			m := rules.NewEngine(table).Match(strings.Join(args, " "))
			if m == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no rule matched; the utterance would go to the LLM")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	})
	return cmd
}
