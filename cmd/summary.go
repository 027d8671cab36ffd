package cmd

import (
	"fmt"

	tablewriterservice "github.com/RobsonDevCode/advidex/internal/cmdLineWriters/tablewriter"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "report how the latest scans moved against the last reported ones",
	Long: `summary diffs every project's latest scan against the last one that
		   was reported on. With --notify, newly seen advisories are sent to
		   the configured webhook and the scans are marked as reported.`,
	RunE: runSummary,
}

var notifyFlag bool

func runSummary(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	changes, err := summaryService.LatestChanges(ctx)
	if err != nil {
		return err
	}

	tablewriterservice.DisplayChangesTable(changes)

	if !notifyFlag {
		return nil
	}

	if config == nil || config.Notify.SlackWebhook == "" {
		return fmt.Errorf("no webhook configured, set notify.slack_webhook in the configuration")
	}

	sent, err := summaryService.SendNews(ctx, changes)
	if err != nil {
		return err
	}
	if sent == 0 {
		fmt.Print("Nothing new to report.\n")
	} else {
		fmt.Printf("%s\n", color.GreenString("Sent %d notifications", sent))
	}

	return summaryService.MarkExamined(ctx, changes)
}

func init() {
	summaryCmd.Flags().BoolVarP(&notifyFlag, "notify", "n", false, "Send newly seen advisories to the configured webhook")

	rootCmd.AddCommand(summaryCmd)
}
