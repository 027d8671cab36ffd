package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/RobsonDevCode/advidex/internal/exclusions"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var excludeCmd = &cobra.Command{
	Use:   "exclude <advisory-id>[,alias...]",
	Short: "suppress an advisory for a project or a package version range",
	Long: `exclude records a reviewed decision that an advisory does not apply.

		   With --project it is suppressed for that project (optionally one
		   tag). With --package and --rule it is suppressed wherever the
		   package version falls inside the range. Excluded findings stay
		   visible but are flagged and kept out of the severity counts.`,
	Args: cobra.ExactArgs(1),
	RunE: runExclude,
}

func runExclude(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	aliases := strings.Split(args[0], ",")

	project, _ := cmd.Flags().GetString("project")
	tag, _ := cmd.Flags().GetString("tag")
	pkg, _ := cmd.Flags().GetString("package")
	rule, _ := cmd.Flags().GetString("rule")
	ecosystem, _ := cmd.Flags().GetString("ecosystem")
	user, _ := cmd.Flags().GetString("user")

	switch {
	case pkg != "" && rule != "":
		exclusion := exclusions.RuleExclusion{
			Aliases:   aliases,
			Ecosystem: ecosystem,
			Package:   pkg,
			Rule:      rule,
			User:      user,
			Timestamp: time.Now().UTC(),
		}
		if err := store.IndexMany(ctx, exclusions.RuleCollection, []any{exclusion}); err != nil {
			return err
		}
		fmt.Printf("%s\n", color.GreenString("Excluded %v for %s", aliases, exclusion.Key()))

	case project != "":
		exclusion := exclusions.ProjectExclusion{
			Aliases:   aliases,
			Project:   project,
			Tag:       tag,
			User:      user,
			Timestamp: time.Now().UTC(),
		}
		if err := store.IndexMany(ctx, exclusions.ProjectCollection, []any{exclusion}); err != nil {
			return err
		}
		fmt.Printf("%s\n", color.GreenString("Excluded %v for project %s", aliases, project))

	default:
		return fmt.Errorf("need either --project, or --package with --rule")
	}

	return nil
}

func init() {
	excludeCmd.Flags().StringP("project", "p", "", "Suppress for this project")
	excludeCmd.Flags().StringP("tag", "t", "", "Limit a project exclusion to one tag")
	excludeCmd.Flags().String("package", "", "Suppress for this package")
	excludeCmd.Flags().StringP("rule", "r", "", "Version range the package exclusion covers")
	excludeCmd.Flags().String("ecosystem", "", "Limit a package exclusion to one ecosystem")
	excludeCmd.Flags().StringP("user", "u", "", "Who made the call")

	rootCmd.AddCommand(excludeCmd)
}
