package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fentz26/switchboard/internal/config"
	"github.com/fentz26/switchboard/internal/controlplane"
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Switchboard - MCP server orchestration for AI agents",
	Long: `Switchboard reads a task description, picks the MCP servers it needs,
prepares their credentials, writes them into the agent's configuration with a
rollback snapshot and checks that they start.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of switchboard",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("switchboard version %s\n", controlplane.Version)
		fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  Go version: %s\n", runtime.Version())
	},
}

var (
	apiAddr    string
	configPath string
	verbose    bool
	localMode  bool
)

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(homeDir, ".switchboard", "config.yaml")

	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://"+config.DefaultListen, "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at info level for local commands")
	rootCmd.PersistentFlags().BoolVar(&localMode, "local", false, "Run in-process instead of calling the daemon")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
