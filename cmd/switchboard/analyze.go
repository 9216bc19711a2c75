package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/switchboard/internal/controlplane"
	"github.com/fentz26/switchboard/internal/models"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [task description]",
	Short: "Show how a task is classified and scored",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

var analyzeJSON bool

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the result as JSON")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")

	var res *controlplane.AnalyzeResult
	err := withAPI(cmd, false,
		func() error {
			res = &controlplane.AnalyzeResult{}
			return postJSON("/api/v1/analyze", map[string]string{"task_description": task}, res, DefaultClientTimeout)
		},
		func(ctx context.Context, a *app) error {
			var err error
			res, err = a.service.Analyze(ctx, task)
			return err
		})
	if err != nil {
		return err
	}

	if analyzeJSON {
		return printJSON(res)
	}

	fmt.Println(headerStyle.Render("Analysis"))
	printAnalysis(res.Analysis)
	fmt.Printf("  Fingerprint: %s\n\n", mutedStyle.Render(res.Fingerprint))

	w := newTable()
	fmt.Fprintf(w, "SERVER\tSCORE\tSELECTED\tRATIONALE\n")
	printMatches := func(ms []models.WorkerMatch, selected bool) {
		for _, m := range ms {
			mark := mutedStyle.Render("no")
			if selected {
				mark = okStyle.Render("yes")
			}
			fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n", m.Name, m.Confidence, mark, truncate(m.Rationale, 60))
		}
	}
	printMatches(res.Selected, true)
	printMatches(res.Rejected, false)
	w.Flush()
	fmt.Printf("\nThreshold: %.2f\n", res.Threshold)

	if len(res.Recommendations) > 0 {
		fmt.Println(headerStyle.Render("\nFrequently used for similar tasks"))
		for _, r := range res.Recommendations {
			fmt.Printf("  %s (%.2f)\n", r.Name, r.Confidence)
		}
	}
	return nil
}
