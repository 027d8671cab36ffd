package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	tablewriterservice "github.com/RobsonDevCode/advidex/internal/cmdLineWriters/tablewriter"
	"github.com/RobsonDevCode/advidex/internal/sbom"
	excelexportservice "github.com/RobsonDevCode/advidex/internal/services/excelExportService"
	"github.com/RobsonDevCode/advidex/internal/storage"
	"github.com/RobsonDevCode/advidex/internal/vulnerabilities"
	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match [project]",
	Short: "match scanned dependencies against the advisory catalog",
	Long: `match runs the advisory catalog over the dependency inventories.

		   If no argument is provided, every known scan is matched.
           If a project name is provided, only that project's scans are matched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMatch,
}

var exportFlag bool

func runMatch(cmd *cobra.Command, projects []string) error {
	ctx := cmd.Context()

	inventory := sbom.NewStoreInventory(store)
	refs, err := inventory.Scans(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 1 {
		var filtered []sbom.ScanRef
		for _, ref := range refs {
			if ref.Project == projects[0] {
				filtered = append(filtered, ref)
			}
		}
		refs = filtered
	}
	if len(refs) == 0 {
		return fmt.Errorf("no scans found, load an sbom export first")
	}

	progress := func(message string) {
		fmt.Printf("  %s\n", message)
	}

	var findings []vulnerabilities.Finding
	for _, ref := range refs {
		record, err := matchService.Match(ctx, ref, progress)
		if err != nil {
			return err
		}

		scanFindings, err := loadFindings(ctx, ref)
		if err != nil {
			return err
		}
		findings = append(findings, scanFindings...)

		fmt.Printf("  %s: %d severe, %d minor\n", ref, record.Count.Severe, record.Count.Minor)
	}

	tablewriterservice.DisplayFindingsTable(findings)

	if len(findings) == 0 {
		return nil
	}

	choice := excelexportservice.ExportOptions[0]
	if !exportFlag {
		choice, err = excelexportservice.SelectExportFindingsToExcel()
		if err != nil {
			return err
		}
	}

	if choice == excelexportservice.ExportOptions[0] {
		if err := excelexportservice.ExportFindingsTable(findings); err != nil {
			return err
		}
	}

	return nil
}

func loadFindings(ctx context.Context, ref sbom.ScanRef) ([]vulnerabilities.Finding, error) {
	hits, err := storage.SearchAll(ctx, store, vulnerabilities.Collection, storage.Query{
		Must: []storage.Filter{
			{Field: "project", Value: ref.Project},
			{Field: "tag", Value: ref.Tag},
			{Field: "hash", Value: ref.Hash},
		},
	}, 1000)
	if err != nil {
		return nil, err
	}

	findings := make([]vulnerabilities.Finding, 0, len(hits))
	for _, hit := range hits {
		var finding vulnerabilities.Finding
		if err := json.Unmarshal(hit, &finding); err != nil {
			continue
		}
		findings = append(findings, finding)
	}

	return findings, nil
}

func init() {
	matchCmd.Flags().BoolVarP(&exportFlag, "export", "e", false, "Export findings to excel without prompting")

	rootCmd.AddCommand(matchCmd)
}
