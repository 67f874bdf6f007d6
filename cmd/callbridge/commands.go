// commands.go contains the cobra command definitions and flag wiring; the
// handlers live in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "callbridge.yaml"

// buildServeCmd creates the "serve" command that runs the bridge.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the call bridge",
		Long: `Start the call bridge server.

The server will:
1. Load configuration (or fall back to defaults plus environment variables)
2. Reload any durable call context staged before a restart
3. Listen for Twilio media-stream WebSocket connections and run one relay per call
4. Serve the TwiML voice webhook and the call-initiation API
5. Expose Prometheus metrics on the metrics port
6. Periodically sweep transcripts for confirmed interview slots

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  callbridge serve

  # Start with custom config
  callbridge serve --config /etc/callbridge/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildExtractCmd creates the "extract" command that sweeps transcripts for
// confirmed interview slots.
func buildExtractCmd() *cobra.Command {
	var (
		configPath string
		file       string
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract confirmed interview slots from call transcripts",
		Example: `  # Sweep the whole transcripts directory
  callbridge extract

  # Parse a single transcript
  callbridge extract --file call-transcripts/20250620_143000_Alex-Rivera_90abcdef.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), configPath, file)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().StringVarP(&file, "file", "f", "",
		"Extract from a single transcript file instead of the whole directory")

	return cmd
}

// buildContextsCmd creates the "contexts" command group for inspecting and
// clearing staged call context.
func buildContextsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contexts",
		Short: "Inspect and clear staged call context",
	}
	cmd.AddCommand(buildContextsShowCmd(), buildContextsClearCmd())
	return cmd
}

func buildContextsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print staged, batch, and attached call context",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContextsShow(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")

	return cmd
}

func buildContextsClearCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "clear [callSID]",
		Short: "Clear context for one call, or everything with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callSID := ""
			if len(args) == 1 {
				callSID = args[0]
			}
			return runContextsClear(configPath, callSID, all)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVar(&all, "all", false,
		"Wipe all staged, batch, and attached context")

	return cmd
}
