package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/switchboard/internal/agents"
	"github.com/fentz26/switchboard/internal/mcp"
	"github.com/fentz26/switchboard/internal/models"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the MCP server registry and installed agents",
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered MCP servers",
	Args:  cobra.NoArgs,
	RunE:  runRegistryList,
}

var registryInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the built-in catalog to the registry file for editing",
	Args:  cobra.NoArgs,
	RunE:  runRegistryInit,
}

var registryAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Detect installed agent platforms",
	Args:  cobra.NoArgs,
	RunE:  runRegistryAgents,
}

var (
	registryJSON  bool
	registryForce bool
)

func init() {
	registryCmd.AddCommand(registryListCmd, registryInitCmd, registryAgentsCmd)
	registryListCmd.Flags().BoolVar(&registryJSON, "json", false, "Print the result as JSON")
	registryAgentsCmd.Flags().BoolVar(&registryJSON, "json", false, "Print the result as JSON")
	registryInitCmd.Flags().BoolVar(&registryForce, "force", false, "Overwrite an existing registry file")
}

func runRegistryList(cmd *cobra.Command, args []string) error {
	var workers []models.WorkerDescriptor
	err := getJSON("/api/v1/registry", &workers)
	if err != nil {
		// The registry is a file, so reading it directly needs no daemon.
		cfg, _, cerr := loadConfig(false)
		if cerr != nil {
			return cerr
		}
		reg, rerr := mcp.LoadRegistry(cfg.Paths.Registry)
		if rerr != nil {
			return rerr
		}
		workers = reg.List()
	}

	if registryJSON {
		return printJSON(workers)
	}
	w := newTable()
	fmt.Fprintln(w, "NAME\tAUTH\tCAPABILITIES\tCOMMAND")
	for _, d := range workers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.AuthKind, strings.Join(d.Capabilities, ","),
			truncate(strings.Join(append([]string{d.Command}, d.Args...), " "), 50))
	}
	w.Flush()
	return nil
}

func runRegistryInit(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(false)
	if err != nil {
		return err
	}
	path := cfg.Paths.Registry
	if _, err := os.Stat(path); err == nil && !registryForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	ds, err := mcp.DefaultDescriptors()
	if err != nil {
		return err
	}
	if err := mcp.SaveRegistryFile(path, ds); err != nil {
		return err
	}
	fmt.Printf("Wrote %d servers to %s\n", len(ds), path)
	return nil
}

func runRegistryAgents(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(false)
	if err != nil {
		return err
	}
	found := agents.NewDetector(agents.Paths{Home: cfg.Paths.Home}).Scan()

	if registryJSON {
		return printJSON(found)
	}
	if len(found) == 0 {
		fmt.Println("No agent platforms detected")
		return nil
	}
	current := agents.DetectFromEnv(os.Getenv)
	w := newTable()
	fmt.Fprintln(w, "PLATFORM\tNAME\tVERSION\tCONFIGURED\tCONFIG")
	for _, a := range found {
		name := a.Name
		if a.Platform == current {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", a.Platform, name, orDash(a.Version), a.Configured, a.ConfigPath)
	}
	w.Flush()
	return nil
}
