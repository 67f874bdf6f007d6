// Package main provides the CLI entry point for the callbridge service.
//
// Callbridge relays bidirectional audio between Twilio Media Streams and the
// OpenAI Realtime API while running a scripted identity-verification and
// interview-scheduling conversation, recording a transcript per call.
//
// # Basic Usage
//
// Start the bridge:
//
//	callbridge serve --config callbridge.yaml
//
// Sweep recorded transcripts for confirmed interview slots:
//
//	callbridge extract
//
// Inspect or reset staged call context:
//
//	callbridge contexts show
//	callbridge contexts clear --all
//
// # Environment Variables
//
//   - TWILIO_ACCOUNT_SID: Twilio account SID
//   - TWILIO_AUTH_TOKEN: Twilio auth token
//   - PHONE_NUMBER_FROM: E.164 caller ID for outbound calls
//   - OPENAI_API_KEY: OpenAI API key for the realtime session
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "callbridge",
		Short:        "Callbridge - AI recruitment call bridge",
		Long:         "Callbridge bridges Twilio Media Streams to the OpenAI Realtime API,\nrunning scripted identity-verification and interview-scheduling calls\nwith per-call transcripts and lifecycle limits.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildExtractCmd(),
		buildContextsCmd(),
	)

	return rootCmd
}
