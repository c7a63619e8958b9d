// chatcli talks to the TruthGuard chat tiers from a terminal, using the same
// delivery sequence and fallback responder as the server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/truthguard-chat/internal/chat"
	"github.com/ashureev/truthguard-chat/internal/config"
	"github.com/ashureev/truthguard-chat/internal/fallback"
)

var (
	primaryURL   string
	secondaryURL string
	aiAvailable  bool
	model        string
	timeout      time.Duration
	offline      bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Chat with TruthGuard AI from the terminal",
	Long: `chatcli sends each message to the primary chat endpoint, then the simple
endpoint, then the built-in responder, and prints the first answer.

Run without arguments for an interactive session. Commands inside the
session: /clear, /regen, /copy, /help, /quit.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelInfo
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return loadDefaults(cmd)
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runInteractive(ctx, newSession(), cmd.OutOrStdout())
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := newSession()
		msg, err := sess.Deliver(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("message not sent: %w", err)
		}
		printMessage(cmd.OutOrStdout(), msg)
		return nil
	},
}

func init() {
	// Empty values are filled from the environment in loadDefaults.
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&primaryURL, "primary", "", "Primary chat endpoint (default $PRIMARY_CHAT_URL)")
	flags.StringVar(&secondaryURL, "secondary", "", "Simple chat endpoint (default $SECONDARY_CHAT_URL)")
	flags.BoolVar(&aiAvailable, "ai-available", false, "Report the AI backend as available (default $AI_AVAILABLE)")
	flags.StringVar(&model, "model", "", "Model name shown in the greeting (default $AI_MODEL)")
	flags.DurationVar(&timeout, "timeout", 0, "Per-endpoint request timeout (default $CHAT_REQUEST_TIMEOUT)")
	flags.BoolVar(&offline, "offline", false, "Skip the endpoints and use the built-in responder only")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log tier failures")

	rootCmd.AddCommand(askCmd)
}

// loadDefaults reads .env and the environment, then fills every flag the
// user did not set on the command line.
func loadDefaults(cmd *cobra.Command) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if !changed("primary") {
		primaryURL = cfg.Chat.PrimaryURL
	}
	if !changed("secondary") {
		secondaryURL = cfg.Chat.SecondaryURL
	}
	if !changed("ai-available") {
		aiAvailable = cfg.Chat.AIAvailable
	}
	if !changed("model") {
		model = cfg.Chat.AIModel
	}
	if !changed("timeout") {
		timeout = cfg.Chat.RequestTimeout
	}
	maxLength = cfg.Chat.MaxMessageLength
	return nil
}

var maxLength int

func newSession() *chat.Session {
	var tiers []chat.Tier
	if !offline {
		client := &http.Client{Timeout: timeout}
		tiers = []chat.Tier{
			chat.NewPrimaryTier(primaryURL, client),
			chat.NewSecondaryTier(secondaryURL, client),
		}
	}
	seq := chat.NewSequencer(fallback.NewResponder(aiAvailable), tiers,
		chat.WithMaxMessageLength(maxLength),
	)
	return seq.NewSession("cli:" + time.Now().Format("20060102150405"))
}

func modelLabel() string {
	if !aiAvailable {
		return ""
	}
	return model
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
