package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agent-testing",
	Short: "Regression testing for conversational agents with an LLM judge",
	Long: `agent-testing replays scripted conversations against deployed conversational
agents over the Direct Line protocol, scores every transcript with an LLM acting
as judge and records pass/fail verdicts, latencies and transcripts per run.

Runs are kept in a local store and can be inspected with 'agent-testing results'
or through the MCP server.

When run without subcommands, it starts the MCP server (equivalent to 'agent-testing serve').`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}
	},
}

// serveCmd is stored so the root command can delegate to it by default.
var serveCmd *cobra.Command

var (
	buildCommit = "unknown"
	buildDate   = "unknown"
)

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// SetBuildInfo sets the commit and build date for the version command.
func SetBuildInfo(commit, date string) {
	buildCommit = commit
	buildDate = date
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "agent-testing version %s\n" .Version}}`)

	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stderr, "No subcommand specified. Defaulting to 'serve' (stdio transport).")
		fmt.Fprintln(os.Stderr, "For HTTP transport, use: agent-testing serve --transport streamable-http")
		fmt.Fprintln(os.Stderr)
		if err := serveCmd.RunE(serveCmd, args); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	serveCmd = newServeCmd()
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newResultsCmd())

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("data-dir", ".agent-testing", "Directory of the run store")
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to kubeconfig file (for --deploy-judge)")
	rootCmd.PersistentFlags().StringP("namespace", "n", "agent-testing", "Kubernetes namespace for judge InferenceServices")
}
