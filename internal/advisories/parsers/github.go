package parsers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/normalizer"
)

type githubRecord struct {
	ID               string   `json:"id"`
	Aliases          []string `json:"aliases"`
	Summary          string   `json:"summary"`
	Details          string   `json:"details"`
	Published        string   `json:"published"`
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
	Affected []githubAffected `json:"affected"`
}

type githubAffected struct {
	Package *struct {
		Name      string `json:"name"`
		Ecosystem string `json:"ecosystem"`
	} `json:"package"`
	Ranges []struct {
		Events []struct {
			Introduced string `json:"introduced"`
			Fixed      string `json:"fixed"`
		} `json:"events"`
	} `json:"ranges"`
	Versions         []string `json:"versions"`
	DatabaseSpecific struct {
		LastKnownAffectedVersionRange string `json:"last_known_affected_version_range"`
	} `json:"database_specific"`
}

// GitHub parses the GitHub Advisory database's OSV shaped records. Event
// ranges become comparison terms: each {introduced, fixed} pair is
// ">=introduced <fixed", a bare introduced "0" with nothing fixed means
// unconditionally affected.
type GitHub struct{}

func (GitHub) Source() string { return "github" }

func (g GitHub) Parse(raw json.RawMessage) (*models.Advisory, error) {
	var record githubRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("github record: %w", err)
	}
	if record.ID == "" {
		return nil, models.ErrMissingID
	}

	advisory := &models.Advisory{
		Source:   []string{"github"},
		Severity: normalizer.Severity(record.DatabaseSpecific.Severity),
	}
	advisory.AddIdentifiers(record.ID, record.Aliases...)

	if summary := strings.TrimSpace(record.Summary); summary != "" {
		advisory.Title = summary
	}
	if record.Details != "" {
		advisory.Description = record.Details
	}

	for _, affected := range record.Affected {
		product, err := parseGitHubAffected(affected)
		if err != nil {
			return nil, err
		}
		advisory.Products = append(advisory.Products, product)
	}

	if record.Published != "" {
		if published, ok := parseTime(record.Published); ok {
			advisory.Timestamp.Publish = published
		}
	}

	return advisory, nil
}

func parseGitHubAffected(affected githubAffected) (models.Product, error) {
	if affected.Package == nil {
		return models.Product{}, models.ErrNoPackage
	}

	product := models.Product{
		Name:   collapseColons(affected.Package.Name),
		Source: []string{"github"},
	}
	if affected.Package.Ecosystem != "" {
		product.Ecosystem = normalizer.Ecosystem(affected.Package.Ecosystem)
	}

	var versions []string
	foundIntroducedZero := false
	for _, versionRange := range affected.Ranges {
		var terms []string
		for _, event := range versionRange.Events {
			if event.Introduced != "" {
				if event.Introduced == "0" {
					foundIntroducedZero = true
				} else {
					terms = append(terms, ">="+event.Introduced)
				}
			}
			if event.Fixed != "" {
				terms = append(terms, "<"+event.Fixed)
			}
		}
		if len(terms) > 0 {
			versions = append(versions, strings.Join(terms, " "))
		}
	}

	versions = append(versions, affected.Versions...)

	if len(versions) == 0 && affected.DatabaseSpecific.LastKnownAffectedVersionRange != "" {
		versions = append(versions, affected.DatabaseSpecific.LastKnownAffectedVersionRange)
	}

	if len(versions) == 0 {
		if !foundIntroducedZero {
			return models.Product{}, models.ErrNoVersions
		}
		versions = append(versions, "*")
	}

	product.Version = strings.Join(versions, " || ")
	return product, nil
}
