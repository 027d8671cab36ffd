package matchservice

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/RobsonDevCode/advidex/internal/advisories/catalog"
	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/configuration"
	"github.com/RobsonDevCode/advidex/internal/exclusions"
	"github.com/RobsonDevCode/advidex/internal/sbom"
	"github.com/RobsonDevCode/advidex/internal/storage"
	"github.com/RobsonDevCode/advidex/internal/vulnerabilities"
)

type MatchService interface {
	Match(ctx context.Context, ref sbom.ScanRef, progress func(string)) (vulnerabilities.ScanRecord, error)
	MatchAll(ctx context.Context, progress func(string)) ([]vulnerabilities.ScanRecord, error)
}

type Matcher struct {
	store     storage.Store
	inventory sbom.Inventory
	settings  configuration.MatchSettings
}

func NewMatcher(store storage.Store, inventory sbom.Inventory, settings configuration.MatchSettings) *Matcher {
	return &Matcher{
		store:     store,
		inventory: inventory,
		settings:  settings,
	}
}

// MatchAll runs the matcher over every scan the inventory knows about.
func (m *Matcher) MatchAll(ctx context.Context, progress func(string)) ([]vulnerabilities.ScanRecord, error) {
	refs, err := m.inventory.Scans(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]vulnerabilities.ScanRecord, 0, len(refs))
	for _, ref := range refs {
		record, err := m.Match(ctx, ref, progress)
		if err != nil {
			return records, fmt.Errorf("error matching %s: %w", ref, err)
		}
		records = append(records, record)
	}

	return records, nil
}

// Match matches one scan's dependencies against the advisory catalog,
// replaces the scan's previous finding set and appends a scan summary
// record. Excluded findings are kept and flagged but stay out of the tally.
func (m *Matcher) Match(ctx context.Context, ref sbom.ScanRef, progress func(string)) (vulnerabilities.ScanRecord, error) {
	now := time.Now().UTC()
	record := vulnerabilities.ScanRecord{
		Project:   ref.Project,
		Tag:       ref.Tag,
		Hash:      ref.Hash,
		Timestamp: models.Timestamp{Scan: now},
	}

	dependencies, err := m.inventory.Dependencies(ctx, ref)
	if err != nil {
		return record, err
	}

	policy, err := exclusions.Load(ctx, m.store)
	if err != nil {
		return record, err
	}

	byPackage := map[string][]sbom.Dependency{}
	for _, dependency := range dependencies {
		if dependency.Package == "" {
			record.Skipped++
			continue
		}
		byPackage[dependency.Package] = append(byPackage[dependency.Package], dependency)
	}

	names := make([]string, 0, len(byPackage))
	for name := range byPackage {
		names = append(names, name)
	}
	sort.Strings(names)

	findings := map[string]*vulnerabilities.Finding{}
	var findingOrder []string

	chunkSize := m.settings.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 300
	}

	for start := 0; start < len(names); start += chunkSize {
		end := min(start+chunkSize, len(names))
		chunk := names[start:end]

		advisories, err := m.lookupAdvisories(ctx, chunk)
		if err != nil {
			return record, err
		}

		for _, advisory := range advisories {
			for _, name := range chunk {
				for _, dependency := range byPackage[name] {
					finding, matched := m.matchDependency(advisory, dependency, ref)
					if !matched {
						continue
					}

					key := finding.DedupeKey()
					if _, seen := findings[key]; seen {
						continue
					}
					finding.Excluded = m.exclusionFor(policy, advisory, dependency, ref)
					findings[key] = finding
					findingOrder = append(findingOrder, key)
				}
			}
		}

		if progress != nil {
			progress(fmt.Sprintf("%s: matched %d/%d packages, %d findings", ref, end, len(names), len(findingOrder)))
		}
	}

	docs := make([]any, 0, len(findingOrder))
	for _, key := range findingOrder {
		finding := findings[key]
		finding.Timestamp = models.Timestamp{Scan: now}
		docs = append(docs, *finding)

		record.Vulnerabilities = append(record.Vulnerabilities, vulnerabilities.ScanVuln{
			Aliases:  finding.Aliases,
			Severity: finding.Severity,
			Excluded: finding.Excluded,
		})
		if finding.Excluded != "" {
			continue
		}
		if m.isSevere(finding.Severity) {
			record.Count.Severe++
		} else {
			record.Count.Minor++
		}
	}

	scanFilters := []storage.Filter{
		{Field: "project", Value: ref.Project},
		{Field: "tag", Value: ref.Tag},
		{Field: "hash", Value: ref.Hash},
	}
	if _, err := m.store.DeleteByFilter(ctx, vulnerabilities.Collection, scanFilters...); err != nil {
		return record, fmt.Errorf("error clearing previous findings for %s: %w", ref, err)
	}
	if err := m.store.IndexMany(ctx, vulnerabilities.Collection, docs); err != nil {
		return record, fmt.Errorf("error indexing findings for %s: %w", ref, err)
	}
	if err := m.store.IndexMany(ctx, vulnerabilities.ScanCollection, []any{record}); err != nil {
		return record, fmt.Errorf("error indexing scan record for %s: %w", ref, err)
	}

	return record, nil
}

// lookupAdvisories pulls every live advisory that names one of the packages,
// either bare or vendor qualified. Withdrawn advisories never match.
func (m *Matcher) lookupAdvisories(ctx context.Context, names []string) ([]*models.Advisory, error) {
	query := storage.Query{
		MustNot: []storage.Filter{{Field: "withdrawn", Value: "true"}},
	}
	for _, name := range names {
		query.Should = append(query.Should,
			storage.Filter{Field: "products.name", Value: name},
			storage.Filter{Field: "products.name", Value: "*/" + name, Wildcard: true},
		)
	}

	hits, err := storage.SearchAll(ctx, m.store, catalog.Alias, query, 1000)
	if err != nil {
		return nil, fmt.Errorf("error querying advisories: %w", err)
	}

	advisories := make([]*models.Advisory, 0, len(hits))
	for _, hit := range hits {
		var advisory models.Advisory
		if err := json.Unmarshal(hit, &advisory); err != nil {
			continue
		}
		advisories = append(advisories, &advisory)
	}

	return advisories, nil
}

// matchDependency decides whether any product of the advisory covers the
// dependency's exact version. An advisory that declares ecosystems only
// applies to dependencies typed with one of them, so an untyped dependency
// never matches a typed advisory.
func (m *Matcher) matchDependency(advisory *models.Advisory, dependency sbom.Dependency, ref sbom.ScanRef) (*vulnerabilities.Finding, bool) {
	if len(advisory.Ecosystem) > 0 && !slices.Contains(advisory.Ecosystem, dependency.Ecosystem) {
		return nil, false
	}

	version := coerce(dependency.Version)

	for _, product := range advisory.Products {
		if !productNames(product, dependency.Package) {
			continue
		}

		versionRange := product.Version
		if versionRange == "" {
			versionRange = "*"
		}
		if !satisfies(version, versionRange) {
			continue
		}

		return &vulnerabilities.Finding{
			ID:       advisory.ID,
			Aliases:  advisory.Aliases,
			Title:    advisory.Title,
			Severity: advisory.Severity,
			Package: vulnerabilities.FindingPackage{
				Name:      dependency.Package,
				Version:   dependency.Version,
				Ecosystem: dependency.Ecosystem,
				Purl:      dependency.Purl,
			},
			Project: ref.Project,
			Tag:     ref.Tag,
			Hash:    ref.Hash,
		}, true
	}

	return nil, false
}

// productNames reports whether the product names this package, either bare
// or through its vendor qualified form.
func productNames(product models.Product, pkg string) bool {
	if product.Name == pkg || product.Package == pkg {
		return true
	}
	return strings.HasSuffix(product.Name, "/"+pkg)
}

// exclusionFor applies both exclusion tiers to a matched finding. Rule
// exclusions carry the stronger intent and win over project ones.
func (m *Matcher) exclusionFor(policy *exclusions.Policy, advisory *models.Advisory, dependency sbom.Dependency, ref sbom.ScanRef) exclusions.Reason {
	version := coerce(dependency.Version)

	for _, rule := range policy.RulesForPackage(dependency.Package) {
		if rule.Ecosystem != "" && dependency.Ecosystem != "" && rule.Ecosystem != dependency.Ecosystem {
			continue
		}
		if len(rule.Aliases) > 0 && !advisory.HasAnyAlias(rule.Aliases) {
			continue
		}
		if !satisfies(version, rule.Rule) {
			continue
		}
		return exclusions.AtRule
	}

	for _, exclusion := range policy.ProjectRules(ref.Project, ref.Tag) {
		if advisory.HasAnyAlias(exclusion.Aliases) {
			return exclusions.AtProject
		}
	}

	return ""
}

func (m *Matcher) isSevere(severity models.Severity) bool {
	switch severity {
	case models.SeverityCritical, models.SeverityHigh:
		return true
	case models.SeverityMedium:
		return m.settings.MediumIsSevere
	}
	return false
}
