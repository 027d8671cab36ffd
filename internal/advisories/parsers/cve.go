package parsers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/normalizer"
)

// Vendor and version placeholders the CVE feed uses instead of leaving the
// field out.
var (
	badVendors  = []string{"n/a", "HackerOne", "Snyk", "[UNKNOWN]"}
	badProducts = []string{"n/a"}
	badVersions = []string{"n/a", "unknown", "N/A", "None"}
)

var (
	wordMatcher        = regexp.MustCompile(`^\w+$`)
	dottedMatcher      = regexp.MustCompile(`^(\d+\.+)*\d+$`)
	comparatorMatcher  = regexp.MustCompile(`^([><=]+\s*)?(\d+\.+)*\d+$`)
	boundarySplitCount = regexp.MustCompile(`[<>]`)
)

type cveRecord struct {
	Meta *struct {
		ID    string `json:"ID"`
		Title string `json:"TITLE"`
	} `json:"CVE_data_meta"`
	Impact struct {
		CVSS struct {
			BaseSeverity string `json:"baseSeverity"`
		} `json:"cvss"`
	} `json:"impact"`
	Description struct {
		DescriptionData []struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"description_data"`
	} `json:"description"`
	Affects struct {
		Vendor struct {
			VendorData []cveVendor `json:"vendor_data"`
		} `json:"vendor"`
	} `json:"affects"`
}

type cveVendor struct {
	VendorName string `json:"vendor_name"`
	Product    struct {
		ProductData []cveProduct `json:"product_data"`
	} `json:"product"`
}

type cveProduct struct {
	ProductName string `json:"product_name"`
	Version     struct {
		VersionData []cveVersion `json:"version_data"`
	} `json:"version"`
}

type cveVersion struct {
	VersionValue    string `json:"version_value"`
	VersionName     string `json:"version_name"`
	VersionAffected string `json:"version_affected"`
}

// CVE parses records in the CVE JSON 4.0 format. The feed's vendor, product
// and version triples are wildly inconsistent, so most of the work is
// cleanup: dropping placeholder values, stripping the product name repeated
// inside version strings, and folding an adjacent ">" entry and "<" entry
// that describe the same named range into one compound range.
type CVE struct{}

func (CVE) Source() string { return "cve" }

func (c CVE) Parse(raw json.RawMessage) (*models.Advisory, error) {
	var record cveRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("cve record: %w", err)
	}
	if record.Meta == nil {
		return nil, models.ErrMissingID
	}

	advisory := &models.Advisory{
		Severity: normalizer.Severity(record.Impact.CVSS.BaseSeverity),
		Source:   []string{"cve"},
	}
	advisory.AddIdentifiers(record.Meta.ID)

	if title := strings.TrimSpace(record.Meta.Title); title != "" {
		advisory.Title = title
	}

	for _, dd := range record.Description.DescriptionData {
		if dd.Lang != "en" && dd.Lang != "eng" {
			continue
		}
		if description := strings.TrimSpace(dd.Value); description != "" {
			advisory.Description = description
			break
		}
	}

	seenProducts := map[string]bool{}
	for _, vendor := range record.Affects.Vendor.VendorData {
		vendorName := vendor.VendorName
		if contains(badVendors, vendorName) {
			vendorName = ""
		}

		for _, productData := range vendor.Product.ProductData {
			if contains(badProducts, productData.ProductName) {
				continue
			}

			product := parseCVEProduct(vendorName, productData)
			if seenProducts[product.Key()] {
				continue
			}
			seenProducts[product.Key()] = true
			advisory.Products = append(advisory.Products, product)
		}
	}

	return advisory, nil
}

func parseCVEProduct(vendorName string, productData cveProduct) models.Product {
	productName := strings.TrimSpace(productData.ProductName)
	productName = collapseColons(productName)

	versionNames := map[string]bool{}
	var versionNameOrder []string

	var versions []string
	versionSeen := map[string]bool{}
	prevName, prevOpening := "", byte(0)

	for _, versionData := range productData.Version.VersionData {
		version := strings.TrimSpace(versionData.VersionValue)
		if version == "" || contains(badVersions, version) {
			continue
		}

		versionName := collapseColons(strings.TrimSpace(versionData.VersionName))
		if versionName != "" {
			if wordMatcher.MatchString(version) && dottedMatcher.MatchString(versionName) {
				// The dotted value landed in version_name and a label in
				// version_value, swap them back.
				version = versionName
			} else {
				version = strings.Replace(version, versionData.VersionName+" ", "", 1)
				version = strings.Replace(version, versionData.VersionName+": ", "", 1)

				if !strings.EqualFold(versionName, "all") && !comparatorMatcher.MatchString(versionName) {
					if !versionNames[versionName] {
						versionNames[versionName] = true
						versionNameOrder = append(versionNameOrder, versionName)
					}
				}
			}
		}

		version = strings.Replace(version, productData.ProductName+" ", "", 1)
		version = strings.Replace(version, productData.ProductName+": ", "", 1)

		version = normalizer.Version(version)

		if versionData.VersionAffected != "" && version != "*" {
			version = versionData.VersionAffected + version
		}

		opening := byte(0)
		if version != "" && !versionSeen[version] && version != productName {
			if len(boundarySplitCount.Split(version, -1)) == 2 {
				opening = version[0]
			}

			if versionName == prevName && opening == '<' && prevOpening == '>' && len(versions) > 0 {
				// ">=1.0" followed by "<2.0" for the same named component is
				// one range, not two.
				versions[len(versions)-1] += " " + version
			} else {
				versions = append(versions, version)
			}
			versionSeen[version] = true
		}

		prevName, prevOpening = versionName, opening
	}

	name := productName
	if len(versionNameOrder) == 1 {
		name = versionNameOrder[0]
	}

	product := models.Product{
		Name:    name,
		Version: strings.Join(versions, " || "),
		Source:  []string{"cve"},
	}
	if vendorName != "" {
		product.Vendor = vendorName
		product.Package = product.Name
		product.Name = vendorName + "/" + product.Name
	}

	return product
}

var colonRunMatcher = regexp.MustCompile(`:+`)

func collapseColons(s string) string {
	return colonRunMatcher.ReplaceAllString(s, "/")
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
