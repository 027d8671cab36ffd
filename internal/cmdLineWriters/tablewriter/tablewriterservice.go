package tablewriterservice

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/RobsonDevCode/advidex/internal/extensions"
	ingestservice "github.com/RobsonDevCode/advidex/internal/services/ingestService"
	summaryservice "github.com/RobsonDevCode/advidex/internal/services/summaryService"
	"github.com/RobsonDevCode/advidex/internal/vulnerabilities"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

var findingTableHeaders = []string{"Project", "Tag", "Package", "Version", "Advisory", "Severity", "Excluded"}

func newTable() *tablewriter.Table {
	return tablewriter.NewTable(os.Stdout,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.On}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoWrap:  tw.WrapNormal,
					MergeMode: tw.MergeHierarchical}, //wrap long content like advisory ids
				Alignment:    tw.CellAlignment{Global: tw.AlignCenter},
				ColMaxWidths: tw.CellWidth{Global: 18},
			},
		}),
	)
}

func DisplayFindingsTable(findings []vulnerabilities.Finding) {
	if len(findings) == 0 {
		fmt.Print(color.GreenString("\n No Vulnerabilities Found!\n"))
		return
	}

	slices.SortFunc(findings, func(a, b vulnerabilities.Finding) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})

	table := newTable()
	table.Header(findingTableHeaders)

	for _, finding := range findings {
		table.Append([]string{
			finding.Project,
			finding.Tag,
			finding.Package.Name,
			finding.Package.Version,
			extensions.TruncateString(finding.ID, 25),
			string(finding.Severity),
			string(finding.Excluded),
		})
	}

	fmt.Printf("\n Found %d Vulnerabilities: \n", len(findings))
	table.Render()
}

func DisplayIngestTable(reports []ingestservice.SourceReport) {
	if len(reports) == 0 {
		return
	}

	table := newTable()
	table.Header([]string{"Source", "Revision", "Fetched", "Staged", "Rejected", "Error"})

	for _, report := range reports {
		var reasons []string
		for reason, count := range report.Rejected {
			reasons = append(reasons, fmt.Sprintf("%s:%d", reason, count))
		}
		slices.Sort(reasons)

		errText := ""
		if report.Err != nil {
			errText = extensions.TruncateString(report.Err.Error(), 50)
		}

		table.Append([]string{
			report.Source,
			extensions.TruncateString(report.Revision, 11),
			strconv.Itoa(report.Fetched),
			strconv.Itoa(report.Staged),
			strings.Join(reasons, " "),
			errText,
		})
	}

	table.Render()
}

func DisplayChangesTable(changes []summaryservice.Change) {
	if len(changes) == 0 {
		fmt.Print(color.GreenString("\n Nothing scanned yet.\n"))
		return
	}

	table := newTable()
	table.Header([]string{"Project", "Tag", "Status", "Severe", "Minor", "Change"})

	for _, change := range changes {
		table.Append([]string{
			change.Project,
			change.Tag,
			string(change.Type),
			strconv.Itoa(change.Current.Severe),
			strconv.Itoa(change.Current.Minor),
			formatDelta(change.Changes.Total),
		})
	}

	table.Render()
}

func formatDelta(delta int) string {
	switch {
	case delta > 0:
		return color.RedString("+%d", delta)
	case delta < 0:
		return color.GreenString("%d", delta)
	}
	return ""
}
