package excelexportservice

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/RobsonDevCode/advidex/internal/vulnerabilities"
	"github.com/xuri/excelize/v2"
)

const saveFileTo = "./export"
const findingSheetName = "Vulnerabilities"

var findingHeaders = []string{
	"Project",
	"Tag",
	"Commit",
	"Package",
	"Version",
	"Ecosystem",
	"Advisory",
	"Aliases",
	"Title",
	"Severity",
	"Excluded",
	"Scanned",
}

// ExportOptions are the choices offered after a matching run.
var ExportOptions = []string{"Export to Excel", "Skip"}

func ExportFindingsTable(findings []vulnerabilities.Finding) error {
	if err := os.MkdirAll(saveFileTo, 0755); err != nil {
		return fmt.Errorf("error creating directory %s, %w", saveFileTo, err)
	}

	file := excelize.NewFile()
	defer file.Close()

	file.SetSheetName("Sheet1", findingSheetName)
	for i, header := range findingHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		file.SetCellValue(findingSheetName, cell, header)
	}

	//excel name identifier
	var name string
	row := 2 // excel is 1 indexed and skip headers
	for _, finding := range findings {
		if name == "" {
			name = finding.Project
		}
		if name != finding.Project {
			name = "all_projects"
		}

		aliases := ""
		for i, alias := range finding.Aliases {
			if i > 0 {
				aliases += ", "
			}
			aliases += alias
		}

		rowData := []interface{}{
			finding.Project,
			finding.Tag,
			finding.Hash,
			finding.Package.Name,
			finding.Package.Version,
			finding.Package.Ecosystem,
			finding.ID,
			aliases,
			finding.Title,
			string(finding.Severity),
			string(finding.Excluded),
			finding.Timestamp.Scan.Format("2006-01-02"),
		}

		file.SetSheetRow(findingSheetName, fmt.Sprintf("A%d", row), &rowData)
		row++
	}

	if name == "" {
		name = "empty"
	}

	fileName := fmt.Sprintf("vulnerabilities_%s_%s.xlsx", name, time.Now().Format("2006-01-02T15-04-05"))
	fullPath := filepath.Join(saveFileTo, fileName)

	if err := file.SaveAs(fullPath); err != nil {
		return fmt.Errorf("failed to save excel to %s, %w", fullPath, err)
	}

	fmt.Printf("Your file has been saved to: %s", fullPath)

	return nil
}

func SelectExportFindingsToExcel() (string, error) {

	prompt := &survey.Select{
		Message: "Export Vulnerability Table",
		Options: ExportOptions,
	}

	var selectedIndex int
	err := survey.AskOne(prompt, &selectedIndex)
	if err != nil {
		fmt.Print("selection cancelled")
		return "", fmt.Errorf("selection error: %w", err)
	}

	return ExportOptions[selectedIndex], nil
}
