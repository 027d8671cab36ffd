package parsers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RobsonDevCode/advidex/internal/advisories/catalog"
	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/normalizer"
)

type gsdRecord struct {
	GSD *struct {
		ID             string     `json:"id"`
		Alias          stringList `json:"alias"`
		VendorName     string     `json:"vendor_name"`
		ProductName    string     `json:"product_name"`
		ProductVersion string     `json:"product_version"`
		Description    string     `json:"description"`
	} `json:"GSD"`
	Meta *struct {
		OSVSchema *struct {
			ID        string `json:"id"`
			Summary   string `json:"summary"`
			Details   string `json:"details"`
			Published string `json:"published"`
		} `json:"osvSchema"`
	} `json:"gsd"`
	OSV *struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
		Details string `json:"details"`
	} `json:"OSV"`
	Namespaces map[string]json.RawMessage `json:"namespaces"`
}

type gsdGitLabNamespace struct {
	Advisories rawList `json:"advisories"`
}

// rawList tolerates a field holding either one object or an array of them.
type rawList []json.RawMessage

func (l *rawList) UnmarshalJSON(data []byte) error {
	var many []json.RawMessage
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	*l = rawList{json.RawMessage(data)}
	return nil
}

// GSD parses the Global Security Database's cross referencing records, which
// embed other feeds' shapes under namespaces. Those are delegated to the
// respective parser and folded through the merge rules, re-sourced as gsd.
type GSD struct{}

func (GSD) Source() string { return "gsd" }

func (g GSD) Parse(raw json.RawMessage) (*models.Advisory, error) {
	var record gsdRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("gsd record: %w", err)
	}

	advisory := &models.Advisory{
		Source:  []string{"gsd"},
		Aliases: []string{},
	}

	if record.GSD != nil {
		advisory.ID = record.GSD.ID
		advisory.AddIdentifiers(record.GSD.ID, record.GSD.Alias...)

		if record.GSD.ProductName != "" && record.GSD.ProductVersion != "" {
			product := models.Product{
				Name:    record.GSD.ProductName,
				Version: normalizer.Version(record.GSD.ProductVersion),
			}
			if record.GSD.VendorName != "" {
				product.Vendor = record.GSD.VendorName
				product.Package = product.Name
				product.Name = product.Vendor + "/" + product.Name
			}
			advisory.Products = []models.Product{product}
		}

		if description := collapseLines(record.GSD.Description); description != "" {
			advisory.Description = description
		}
	}

	if record.Meta != nil && record.Meta.OSVSchema != nil {
		osv := record.Meta.OSVSchema
		catalog.Merge(advisory, &models.Advisory{
			ID:          osv.ID,
			Source:      []string{"gsd"},
			Title:       osv.Summary,
			Description: collapseLines(osv.Details),
		})
		if osv.Published != "" {
			if published, ok := parseTime(osv.Published); ok {
				advisory.Timestamp.Publish = published
			}
		}
	}

	if record.OSV != nil {
		catalog.Merge(advisory, &models.Advisory{
			ID:          record.OSV.ID,
			Source:      []string{"osv"},
			Title:       record.OSV.Summary,
			Description: collapseLines(record.OSV.Details),
		})
	}

	// Namespaces merge in a fixed order so the first-wins fields always land
	// the same way. Unhandled namespaces such as cisa.gov carry nothing the
	// catalog uses.
	for _, namespace := range []string{"cve.org", "nvd.nist.gov", "gitlab.com"} {
		nested, ok := record.Namespaces[namespace]
		if !ok {
			continue
		}

		switch namespace {
		case "cve.org":
			parsed, err := CVE{}.Parse(nested)
			if err != nil {
				return nil, err
			}
			mergeNamespace(advisory, parsed)

		case "nvd.nist.gov":
			parsed, err := NVD{}.Parse(nested)
			if err != nil {
				return nil, err
			}
			mergeNamespace(advisory, parsed)

		case "gitlab.com":
			var gitlabNamespace gsdGitLabNamespace
			if err := json.Unmarshal(nested, &gitlabNamespace); err != nil {
				return nil, fmt.Errorf("gsd gitlab namespace: %w", err)
			}
			for _, nestedAdvisory := range gitlabNamespace.Advisories {
				parsed, err := GitLab{}.Parse(nestedAdvisory)
				if err != nil {
					return nil, err
				}
				mergeNamespace(advisory, parsed)
			}
		}
	}

	if advisory.ID == "" {
		return nil, models.ErrMissingID
	}

	return advisory, nil
}

func mergeNamespace(advisory, parsed *models.Advisory) {
	for i := range parsed.Products {
		parsed.Products[i].Source = []string{"gsd"}
	}
	catalog.Merge(advisory, parsed)
}

func collapseLines(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(whitespaceRunLines.ReplaceAllString(s, " "))
}
