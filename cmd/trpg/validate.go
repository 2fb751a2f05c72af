package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/scenario"
)

var validateCmd = &cobra.Command{
	Use:   "validate [scenario.yaml]",
	Short: "Check a scenario file",
	Long: `Parses a scenario file and checks that every required text and template
placeholder is present. With no argument the embedded scenario is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		s, err := scenario.Load(path)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Scenario %q is valid ✅\n", s.Name)
		fmt.Fprintf(out, "  language:         %s\n", s.Language)
		fmt.Fprintf(out, "  keywords:         %d\n", keywordCount(s.Keywords))
		fmt.Fprintf(out, "  guestbook filter: %d words\n", len(s.GuestbookFilter))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func keywordCount(k alignment.Keywords) int {
	n := len(k.Neutral)
	for _, set := range []alignment.KeywordSet{k.Lawful, k.Chaotic, k.Good, k.Evil} {
		n += len(set.Strong) + len(set.Weak)
	}
	return n
}
