package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags shared by CLI commands
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// PreloadFlags holds flags for the preload command
type PreloadFlags struct {
	Model string
	APIFlags
}

// RemoveFlags holds flags for the remove command
type RemoveFlags struct {
	Input  string
	Output string
	Model  string
	APIFlags
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
}

// buildRoot creates the root command with subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "rembgd",
		Short: "Background removal helper supervisor",
		Long: `Rembgd supervises a local background-removal helper process:
it launches the helper, discovers its port through a handshake file,
monitors its health, restarts it on crashes, and proxies image requests.

Examples:
  rembgd serve --config=config.toml   # Start daemon
  rembgd status                       # Show helper phase
  rembgd remove --input=in.jpg --output=out.png`,
	}

	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(),
		createStartCommand(),
		createStopCommand(),
		createPreloadCommand(),
		createRemoveCommand(),
	)

	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:7878/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
}

func createStatusCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show helper status",
		Long: `Show the supervisor snapshot for the helper process.

Examples:
  rembgd status
  rembgd status --api-url=http://127.0.0.1:7878/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(*flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStartCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the helper process",
		Long: `Ask the daemon to launch the helper process.
The command returns once the launch is accepted; use 'rembgd status'
to watch the helper become ready.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(*flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the helper process",
		Long:  "Ask the daemon to tear down the helper process gracefully.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(*flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createPreloadCommand() *cobra.Command {
	flags := &PreloadFlags{}
	cmd := &cobra.Command{
		Use:   "preload",
		Short: "Preload a vision model",
		Long: `Ask the helper to load (and download if necessary) a model ahead of
the first removal request.

Examples:
  rembgd preload --model=u2netp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreload(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Model, "model", "", "model name (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	if err := cmd.MarkFlagRequired("model"); err != nil {
		panic(err)
	}
	return cmd
}

func createRemoveCommand() *cobra.Command {
	flags := &RemoveFlags{}
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the background from an image",
		Long: `Submit an image through the daemon and write the processed result.

Examples:
  rembgd remove --input=photo.jpg --output=photo.png
  rembgd remove --input=photo.jpg --output=photo.png --model=u2netp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Input, "input", "", "input image path (required)")
	cmd.Flags().StringVar(&flags.Output, "output", "", "output image path (required)")
	cmd.Flags().StringVar(&flags.Model, "model", "", "model name (optional)")
	addAPIFlags(cmd, &flags.APIFlags)
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("output"); err != nil {
		panic(err)
	}
	return cmd
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{
		ConfigPath: globalFlags.ConfigPath,
	}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the rembgd daemon",
		Long: `Start the rembgd daemon: launch and supervise the helper process and
serve the local control API.

Examples:
  rembgd serve --config=config.toml
  rembgd serve config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveFlags.ConfigPath == "" {
				serveFlags.ConfigPath = globalFlags.ConfigPath
			}
			return runServe(serveFlags, args)
		},
	}

	return cmd
}
