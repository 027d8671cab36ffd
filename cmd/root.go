package cmd

import (
	"fmt"
	"os"

	"github.com/RobsonDevCode/advidex/internal/configuration"
	ingestservice "github.com/RobsonDevCode/advidex/internal/services/ingestService"
	matchservice "github.com/RobsonDevCode/advidex/internal/services/matchService"
	summaryservice "github.com/RobsonDevCode/advidex/internal/services/summaryService"
	"github.com/RobsonDevCode/advidex/internal/storage"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "advidex",
	Short: "aggregate vulnerability advisories and match them against your projects",
	Long: `advidex pulls advisories from the public feeds, merges records that
		   describe the same vulnerability into one canonical advisory and
		   matches the catalog against the dependency inventories of your
		   projects.`,
}

var (
	config         *configuration.Config
	store          storage.Store
	ingestService  ingestservice.IngestService
	matchService   matchservice.MatchService
	summaryService summaryservice.SummaryService
)

// cant DI directly into the commands so we use setters
func SetConfig(c *configuration.Config)               { config = c }
func SetStore(s storage.Store)                        { store = s }
func SetIngestService(s ingestservice.IngestService)  { ingestService = s }
func SetMatchService(s matchservice.MatchService)     { matchService = s }
func SetSummaryService(s summaryservice.SummaryService) { summaryService = s }

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}
