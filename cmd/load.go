package cmd

import (
	"fmt"

	"github.com/RobsonDevCode/advidex/internal/sbom"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <sbom-export.jsonl>",
	Short: "load a dependency inventory export into the store",
	Long: `load indexes a JSON lines dependency export, one record per resolved
		   package with its project, tag and commit hash, so match can run
		   against it.`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func runLoad(cmd *cobra.Command, paths []string) error {
	count, err := sbom.LoadFile(cmd.Context(), store, paths[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", color.GreenString("Loaded %d dependency records from %s", count, paths[0]))
	return nil
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
