package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/alignment-engine/internal/app"
	"github.com/jwebster45206/alignment-engine/internal/cli"
	"github.com/jwebster45206/alignment-engine/internal/services"
	"github.com/jwebster45206/alignment-engine/internal/session"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Start a session",
	Long: `Starts a session and reads actions from stdin. Type a number or /roll
when the game master asks for a die, and /help for the other commands.`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringP("name", "n", "", "Player name (asked for when empty)")
	playCmd.Flags().Bool("demo", false, "Use the built-in scripted model instead of a real provider")
	playCmd.Flags().Bool("plain", false, "Print narration without markdown rendering")
	playCmd.Flags().Int("width", 80, "Wrap width for rendered narration")
}

func runPlay(cmd *cobra.Command, args []string) error {
	if demo, _ := cmd.Flags().GetBool("demo"); demo {
		// Applied before config.Load so API key checks are skipped.
		if err := os.Setenv("LLM_PROVIDER", services.ProviderMock); err != nil {
			return err
		}
	}
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	store, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	opts, err := app.SessionOptions(initCtx, cfg, store, nil, log)
	cancel()
	if err != nil {
		return err
	}
	orch, err := session.New(opts)
	if err != nil {
		return err
	}

	plain, _ := cmd.Flags().GetBool("plain")
	width, _ := cmd.Flags().GetInt("width")
	render, err := cli.NewRenderer(plain, width)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("name")
	return cli.NewPlayer(orch, cmd.InOrStdin(), cmd.OutOrStdout(), render).Run(ctx, name)
}
