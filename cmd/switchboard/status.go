package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the daemon is up",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if errors.Is(err, errUnreachable) {
		fmt.Printf("%s daemon not running at %s\n", errStyle.Render("○"), apiAddr)
		return nil
	}
	if health == nil {
		return err
	}

	mark := okStyle.Render("●")
	if !health.OK {
		mark = errStyle.Render("●")
	}
	fmt.Printf("%s switchboard %s at %s\n", mark, health.Version, apiAddr)
	fmt.Printf("  Database: %s\n", health.DB)
	fmt.Printf("  Workers:  %d running\n", health.Workers)
	return err
}
