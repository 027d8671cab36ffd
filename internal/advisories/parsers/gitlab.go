package parsers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/normalizer"
)

type gitlabRecord struct {
	Identifier    string     `json:"identifier"`
	Identifiers   stringList `json:"identifiers"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	PackageSlug   string     `json:"package_slug"`
	AffectedRange string     `json:"affected_range"`
	PubDate       string     `json:"pubdate"`
}

var (
	prefixedIDMatcher  = regexp.MustCompile(`^[A-Z]+-`)
	whitespaceRunLines = regexp.MustCompile(`\s*[\r\n]+\s*`)
)

// GitLab parses the GitLab Advisory database. Bare numeric identifiers get a
// "GLSA-" prefix so they can live in the shared alias space.
type GitLab struct{}

func (GitLab) Source() string { return "gitlab" }

func (g GitLab) Parse(raw json.RawMessage) (*models.Advisory, error) {
	var record gitlabRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("gitlab record: %w", err)
	}
	if record.Identifier == "" {
		return nil, models.ErrMissingID
	}

	identifier := glsaPrefix(record.Identifier)
	aliases := make([]string, 0, len(record.Identifiers))
	for _, id := range record.Identifiers {
		aliases = append(aliases, glsaPrefix(id))
	}

	advisory := &models.Advisory{
		Source: []string{"gitlab"},
	}
	advisory.AddIdentifiers(identifier, aliases...)

	if title := strings.TrimSpace(record.Title); title != "" {
		advisory.Title = title
	}
	if description := strings.TrimSpace(whitespaceRunLines.ReplaceAllString(record.Description, " ")); description != "" {
		advisory.Description = description
	}

	if record.PackageSlug != "" {
		product := models.Product{
			Source: []string{"gitlab"},
		}

		ecosystem, name, _ := strings.Cut(record.PackageSlug, "/")
		product.Ecosystem = normalizer.Ecosystem(ecosystem)
		product.Name = name

		product.Version = normalizer.Version(record.AffectedRange)
		if product.Version == "" {
			product.Version = "*"
		}

		advisory.Products = []models.Product{product}
	}

	// The feed uses the epoch date as "unknown".
	if record.PubDate != "" && record.PubDate != "1970-01-01" {
		if published, ok := parseTime(record.PubDate); ok {
			advisory.Timestamp.Publish = published
		}
	}

	return advisory, nil
}

func glsaPrefix(id string) string {
	if prefixedIDMatcher.MatchString(id) {
		return id
	}
	return "GLSA-" + id
}
