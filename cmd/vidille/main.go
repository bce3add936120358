package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prehensile/vidille/internal/platform/version"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "vidille",
	Short: "Broadcast a looping video to terminals as braille art",
	Long: `vidille decodes one media file and streams it to every connected terminal.

Clients connect over telnet (PORT) or WebSocket (HTTP_PORT, /ws). Playback runs
only while at least one client is watching. Configuration is read from the
environment, optionally seeded from a .env file.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the telnet and WebSocket broadcast servers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file (default ./.env when present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
