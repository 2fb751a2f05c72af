package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/alignment-engine/internal/app"
)

var guestbookCmd = &cobra.Command{
	Use:   "guestbook",
	Short: "List the newest guestbook entries",
	RunE:  runGuestbook,
}

func init() {
	rootCmd.AddCommand(guestbookCmd)
	guestbookCmd.Flags().IntP("limit", "l", 0, "Number of entries to show (defaults to GUESTBOOK_LIMIT)")
}

func runGuestbook(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := app.OpenStore(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.GuestbookLimit
	}
	entries, err := store.LoadGuestbookEntries(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to load guestbook (STORE_BACKEND=%s): %w", cfg.StoreBackend, err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "The guestbook is empty.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tNICKNAME\tALIGNMENT\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format(time.DateTime), e.Nickname, e.Alignment, e.Message)
	}
	return tw.Flush()
}
