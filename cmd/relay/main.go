package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Javelin authenticated WebSocket relay",
	Long: `Relay connects game servers through one authenticated WebSocket hub.

- serve:   run the relay hub
- token:   sign a token for a peer and optionally store it in the directory
- peers:   inspect and edit the peer directory
- send:    send one envelope through a running relay
- whisper: whisper to a player on another server

Configuration is read from RELAY_* environment variables; flags override them.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
}
