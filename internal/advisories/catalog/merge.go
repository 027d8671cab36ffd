package catalog

import (
	"regexp"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
)

func appendMissing(existing []string, values ...string) []string {
	for _, value := range values {
		if value == "" {
			continue
		}
		found := false
		for _, known := range existing {
			if known == value {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, value)
		}
	}
	return existing
}

// Merge folds leaf into node using the field level merge rules: aliases and
// sources are set unions, severity escalates to the highest rank, the first
// title and description stick, products deduplicate by (vendor, name,
// version) and the earliest publish timestamp wins.
func Merge(node, leaf *models.Advisory) {
	node.AddIdentifiers(leaf.ID, leaf.Aliases...)

	node.Source = appendMissing(node.Source, leaf.Source...)

	if leaf.Severity != "" {
		node.Severity = models.HighestSeverity(node.Severity, leaf.Severity)
	}

	if node.Title == "" {
		node.Title = leaf.Title
	}
	if node.Description == "" {
		node.Description = leaf.Description
	}

	node.CPEs = appendMissing(node.CPEs, leaf.CPEs...)

	mergeProducts(node, leaf)

	if !leaf.Timestamp.Publish.IsZero() {
		if node.Timestamp.Publish.IsZero() || node.Timestamp.Publish.After(leaf.Timestamp.Publish) {
			node.Timestamp.Publish = leaf.Timestamp.Publish
		}
	}
}

func mergeProducts(node, leaf *models.Advisory) {
	if len(leaf.Products) == 0 {
		return
	}
	if len(node.Products) == 0 {
		node.Products = append([]models.Product(nil), leaf.Products...)
		return
	}

	order := make([]string, 0, len(node.Products)+len(leaf.Products))
	productMap := make(map[string]*models.Product, len(node.Products))
	for i := range node.Products {
		product := node.Products[i]
		key := product.Key()
		if _, exists := productMap[key]; !exists {
			order = append(order, key)
			productMap[key] = &product
		}
	}

	for _, product := range leaf.Products {
		key := product.Key()
		if known, exists := productMap[key]; exists {
			// Known product, just pick up the extra source and ecosystem.
			known.Source = appendMissing(known.Source, product.Source...)
			if known.Ecosystem == "" {
				known.Ecosystem = product.Ecosystem
			}
			continue
		}
		copied := product
		order = append(order, key)
		productMap[key] = &copied
	}

	var starVersioned, untyped []string
	for _, key := range order {
		if productMap[key].Version == "*" {
			starVersioned = append(starVersioned, key)
		} else if productMap[key].Ecosystem == "" {
			untyped = append(untyped, key)
		}
	}

	total := len(order)

	// Drop wildcard versioned products when anything more precise exists.
	if total > len(starVersioned) {
		for _, key := range starVersioned {
			delete(productMap, key)
		}
	}

	// Likewise drop products with no ecosystem when typed ones remain.
	if total-len(starVersioned) > len(untyped) {
		for _, key := range untyped {
			delete(productMap, key)
		}
	}

	merged := make([]models.Product, 0, len(productMap))
	for _, key := range order {
		if product, kept := productMap[key]; kept {
			merged = append(merged, *product)
		}
	}
	node.Products = merged
}

// Standard CNA withdrawal and rejection phrasing found in descriptions.
var withdrawnMatcher = regexp.MustCompile(`(?i)(^\s*\*\*\s*(REJECT|Withdrawn):?\s*\*\*|withdrawn by its (CNA|its requester|the CVE program)|(^|\r|\n)\s*#\s*Withdrawn|Withdrawn, accidental duplicate publish|\*\*\s*Withdrawn:?\s*\*\*\s*Duplicate of|Withdrawn:\s*Duplicate of|^\s*WITHDRAWN\s*$)`)

// IsWithdrawn reports whether the advisory's description carries withdrawal
// or rejection phrasing.
func IsWithdrawn(advisory *models.Advisory) bool {
	if advisory.Description == "" {
		return false
	}
	return withdrawnMatcher.MatchString(advisory.Description)
}
