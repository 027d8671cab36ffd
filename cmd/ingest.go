package cmd

import (
	"fmt"
	"time"

	tablewriterservice "github.com/RobsonDevCode/advidex/internal/cmdLineWriters/tablewriter"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "refresh the advisory catalog from the configured feeds",
	Long: `ingest downloads every configured advisory feed, merges records that
		   describe the same vulnerability and swaps the catalog over to the
		   freshly built set. A feed failing after its retries is dropped from
		   the run, the others still land.`,
	RunE: runIngest,
}

var quietFlag bool

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	progress := func(message string) {
		if !quietFlag {
			fmt.Printf("  %s\n", message)
		}
	}

	fmt.Print("Refreshing advisory catalog...\n")
	report, err := ingestService.Ingest(ctx, progress)

	tablewriterservice.DisplayIngestTable(report.Sources)

	if err != nil {
		return err
	}

	if failed := report.Failed(); len(failed) > 0 {
		fmt.Printf("%s\n", color.YellowString("Feeds dropped this run: %v", failed))
	}

	fmt.Printf("%s\n", color.GreenString("Indexed %d advisories into %s in %s", report.Indexed, report.Collection, report.Elapsed.Round(time.Second)))
	return nil
}

func init() {
	ingestCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress per-feed progress output")

	rootCmd.AddCommand(ingestCmd)
}
