package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/logger"
)

var (
	serverURL string
	name      string
	origin    string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "relaychat-client",
	Short: "Terminal client for the relaychat server",
	Long: `Reads lines from stdin and sends them to the relay; prints every message
and roster update it receives.

Commands:
  /nick NAME   register or change your display name
  /quit        disconnect and exit

Lines sent before registering are relayed under your connection id.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		zlog, err := logger.New(level, "console")
		if err != nil {
			return err
		}
		defer func() { _ = zlog.Sync() }()

		c, err := client.Dial(cmd.Context(), serverURL, client.Options{
			Origin: origin,
			Out:    cmd.OutOrStdout(),
			Logger: zlog,
		})
		if err != nil {
			return err
		}

		if name != "" {
			if err := c.Register(name); err != nil {
				_ = c.Close()
				return err
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Type a message and press Enter to send:")
		return c.Run(cmd.Context(), cmd.InOrStdin())
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", "ws://127.0.0.1:8080/ws", "Websocket endpoint of the relay")
	rootCmd.Flags().StringVar(&name, "name", "", "Register this display name on connect")
	rootCmd.Flags().StringVar(&origin, "origin", "", "Origin header to send (empty sends none)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
