package parsers

import (
	"encoding/json"
	"fmt"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/normalizer"
)

type nvdRecord struct {
	CVE            json.RawMessage `json:"cve"`
	Configurations *struct {
		CVEDataVersion string    `json:"CVE_data_version"`
		Nodes          []nvdNode `json:"nodes"`
	} `json:"configurations"`
	Impact struct {
		BaseMetricV3 struct {
			CVSSV3 struct {
				BaseSeverity string `json:"baseSeverity"`
			} `json:"cvssV3"`
		} `json:"baseMetricV3"`
		BaseMetricV2 struct {
			Severity string `json:"severity"`
		} `json:"baseMetricV2"`
	} `json:"impact"`
	PublishedDate string `json:"publishedDate"`
}

type nvdNode struct {
	Children []nvdNode `json:"children"`
	CPEMatch []struct {
		Vulnerable bool   `json:"vulnerable"`
		CPE23URI   string `json:"cpe23Uri"`
	} `json:"cpe_match"`
}

// NVD parses the NVD 1.1 data feed. The embedded cve member is handed to the
// CVE parser, NVD itself contributes CVSS severity and the CPE configuration
// tree.
type NVD struct{}

func (NVD) Source() string { return "nvd" }

func (n NVD) Parse(raw json.RawMessage) (*models.Advisory, error) {
	var record nvdRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("nvd record: %w", err)
	}
	if record.Configurations == nil || record.Configurations.CVEDataVersion != "4.0" {
		return nil, models.ErrBadVersion
	}

	advisory := &models.Advisory{}
	if len(record.CVE) > 0 {
		parsed, err := CVE{}.Parse(record.CVE)
		if err != nil {
			return nil, err
		}
		advisory = parsed
	}

	for i := range advisory.Products {
		advisory.Products[i].Source = []string{"nvd"}
	}

	severity := record.Impact.BaseMetricV3.CVSSV3.BaseSeverity
	if severity == "" {
		severity = record.Impact.BaseMetricV2.Severity
	}
	advisory.Severity = normalizer.Severity(severity)
	advisory.Source = []string{"nvd"}

	cpes, err := collectCPEs(record.Configurations.Nodes)
	if err != nil {
		return nil, err
	}
	advisory.CPEs = cpes

	if record.PublishedDate != "" {
		if published, ok := parseTime(record.PublishedDate); ok {
			advisory.Timestamp.Publish = published
		}
	}

	return advisory, nil
}

func collectCPEs(nodes []nvdNode) ([]string, error) {
	var cpes []string
	for _, node := range nodes {
		childCPEs, err := collectCPEs(node.Children)
		if err != nil {
			return nil, err
		}
		cpes = append(cpes, childCPEs...)

		for _, match := range node.CPEMatch {
			if !match.Vulnerable {
				return nil, fmt.Errorf("non-vulnerable cpe match")
			}
			cpes = append(cpes, match.CPE23URI)
		}
	}
	return cpes, nil
}
