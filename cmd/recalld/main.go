// Package main implements recalld: the chat memory daemon and the CLI for
// manual operations against a running server.
//
// Usage:
//
//	# Start the daemon with ~/.config/recalld/config.yaml
//	recalld serve
//
//	# Index a chat exported as JSON
//	recalld sync --all chat.json
//
//	# Search a chat
//	recalld query --chat c1 "the dragon"
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// serverURL is the base URL of the recalld server client commands talk to
	serverURL string
	// apiKey is sent as a bearer token when set
	apiKey string
	// configPath overrides the default config file location
	configPath string
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recalld",
	Short: "Vector memory for chats",
	Long: `recalld indexes chat messages into a vector store and retrieves the
most relevant past messages for the next prompt.

Run "recalld serve" to start the daemon. The other commands are clients
of a running server.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "recalld server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "bearer token for the recalld server")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/recalld/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd)
	},
}

func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "recalld by Fyrsmith Labs\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}
