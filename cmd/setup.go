package cmd

import (
	"fmt"

	"github.com/fatih/color"

	setupservice "github.com/RobsonDevCode/advidex/internal/services/setupService"
	"github.com/spf13/cobra"
)

var setUpCmd = &cobra.Command{
	Use:   "setup [project...]",
	Short: "setup a starter configuration so we can begin ingesting advisories",
	Long: `setup writes a configuration file with the default advisory feeds.
		   Any project names given are added with an origin/main tag so their
		   scans are picked up by 'match' and 'summary'.`,
	RunE: runSetUp,
}

func runSetUp(cmd *cobra.Command, projects []string) error {
	path, _ := cmd.Flags().GetString("config")

	fmt.Print("\n Setting up advidex...")

	if err := setupservice.CreateConfigFile(path, projects); err != nil {
		return err
	}

	fmt.Print(color.GreenString("\n Configuration written, run the ingest command to build the catalog!"))
	return nil
}

func init() {
	setUpCmd.Flags().StringP("config", "c", "", "Where to write the configuration file.")

	rootCmd.AddCommand(setUpCmd)
}
